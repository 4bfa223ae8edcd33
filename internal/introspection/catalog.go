package introspection

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"gqlorm/internal/sqlutil"
)

type tableInfo struct {
	Name   string
	IsView bool
}

// catalog reads schema metadata in one database's dialect.
type catalog interface {
	tables(ctx context.Context, db Queryer, databaseName string) ([]tableInfo, error)
	columns(ctx context.Context, db Queryer, databaseName, tableName string) ([]Column, error)
	primaryKeys(ctx context.Context, db Queryer, databaseName, tableName string) ([]string, error)
	foreignKeys(ctx context.Context, db Queryer, databaseName, tableName string) ([]ForeignKey, error)
	uniqueIndexes(ctx context.Context, db Queryer, databaseName, tableName string) ([]Index, error)
}

func catalogFor(d sqlutil.Dialect) (catalog, error) {
	switch d.Name {
	case sqlutil.MySQL.Name:
		return informationSchema{dialect: d, queries: mysqlQueries}, nil
	case sqlutil.Postgres.Name:
		return informationSchema{dialect: d, queries: postgresQueries}, nil
	case sqlutil.SQLite.Name:
		return sqliteCatalog{}, nil
	default:
		return nil, fmt.Errorf("introspection is not supported for dialect %q", d.Name)
	}
}

// catalogQueries are the information_schema statements of one dialect. Each
// takes the schema name, then the table name where applicable, as ?
// placeholders.
type catalogQueries struct {
	tables        string
	columns       string
	primaryKeys   string
	foreignKeys   string
	uniqueIndexes string
}

var mysqlQueries = catalogQueries{
	tables: `
		SELECT TABLE_NAME, TABLE_TYPE
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ?
		AND TABLE_TYPE IN ('BASE TABLE', 'VIEW')
		ORDER BY TABLE_NAME`,
	columns: `
		SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT IS NOT NULL, EXTRA
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`,
	primaryKeys: `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
		AND TABLE_NAME = ?
		AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`,
	foreignKeys: `
		SELECT COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME, CONSTRAINT_NAME, ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
		AND TABLE_NAME = ?
		AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`,
	uniqueIndexes: `
		SELECT INDEX_NAME, COLUMN_NAME
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ?
		AND TABLE_NAME = ?
		AND NON_UNIQUE = 0
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`,
}

var postgresQueries = catalogQueries{
	tables: `
		SELECT table_name, table_type
		FROM information_schema.tables
		WHERE table_schema = ?
		AND table_type IN ('BASE TABLE', 'VIEW')
		ORDER BY table_name`,
	columns: `
		SELECT column_name, data_type, is_nullable, column_default IS NOT NULL,
			CASE WHEN is_identity = 'YES' OR column_default LIKE 'nextval(%' THEN 'auto_increment' ELSE '' END
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`,
	primaryKeys: `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON kcu.constraint_schema = tc.constraint_schema AND kcu.constraint_name = tc.constraint_name
		WHERE tc.table_schema = ?
		AND tc.table_name = ?
		AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position`,
	foreignKeys: `
		SELECT kcu.column_name, ref.table_name, ref.column_name, kcu.constraint_name, kcu.ordinal_position
		FROM information_schema.key_column_usage kcu
		JOIN information_schema.referential_constraints rc
			ON rc.constraint_schema = kcu.constraint_schema AND rc.constraint_name = kcu.constraint_name
		JOIN information_schema.key_column_usage ref
			ON ref.constraint_schema = rc.unique_constraint_schema
			AND ref.constraint_name = rc.unique_constraint_name
			AND ref.ordinal_position = kcu.position_in_unique_constraint
		WHERE kcu.table_schema = ?
		AND kcu.table_name = ?
		ORDER BY kcu.constraint_name, kcu.ordinal_position`,
	uniqueIndexes: `
		SELECT tc.constraint_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON kcu.constraint_schema = tc.constraint_schema AND kcu.constraint_name = tc.constraint_name
		WHERE tc.table_schema = ?
		AND tc.table_name = ?
		AND tc.constraint_type = 'UNIQUE'
		ORDER BY tc.constraint_name, kcu.ordinal_position`,
}

// informationSchema reads the SQL-standard catalog views.
type informationSchema struct {
	dialect sqlutil.Dialect
	queries catalogQueries
}

func (c informationSchema) query(ctx context.Context, db Queryer, spanName, query string, args ...any) (*sql.Rows, func(error), error) {
	ctx, span := startSpan(ctx, spanName)
	if len(args) > 0 {
		span.SetAttributes(attribute.String("db.name", fmt.Sprint(args[0])))
	}
	if len(args) > 1 {
		span.SetAttributes(attribute.String("db.table", fmt.Sprint(args[1])))
	}
	finish := func(err error) {
		recordSpanError(span, err)
		span.End()
	}
	query, err := c.dialect.Format(query)
	if err != nil {
		finish(err)
		return nil, nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		finish(err)
		return nil, nil, err
	}
	return rows, finish, nil
}

func (c informationSchema) tables(ctx context.Context, db Queryer, databaseName string) (out []tableInfo, err error) {
	rows, finish, err := c.query(ctx, db, "introspection.get_tables", c.queries.tables, databaseName)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
		finish(err)
	}()

	for rows.Next() {
		var name, tableType string
		if err := rows.Scan(&name, &tableType); err != nil {
			return nil, err
		}
		out = append(out, tableInfo{Name: name, IsView: strings.EqualFold(tableType, "VIEW")})
	}
	return out, rows.Err()
}

func (c informationSchema) columns(ctx context.Context, db Queryer, databaseName, tableName string) (out []Column, err error) {
	rows, finish, err := c.query(ctx, db, "introspection.get_columns", c.queries.columns, databaseName, tableName)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
		finish(err)
	}()

	for rows.Next() {
		var col Column
		var isNullable string
		var extra sql.NullString
		if err := rows.Scan(&col.Name, &col.DataType, &isNullable, &col.HasDefault, &extra); err != nil {
			return nil, err
		}
		col.IsNullable = strings.EqualFold(isNullable, "YES")
		col.IsAutoIncrement = strings.Contains(strings.ToLower(extra.String), "auto_increment")
		out = append(out, col)
	}
	return out, rows.Err()
}

func (c informationSchema) primaryKeys(ctx context.Context, db Queryer, databaseName, tableName string) (out []string, err error) {
	rows, finish, err := c.query(ctx, db, "introspection.get_primary_keys", c.queries.primaryKeys, databaseName, tableName)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
		finish(err)
	}()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (c informationSchema) foreignKeys(ctx context.Context, db Queryer, databaseName, tableName string) (out []ForeignKey, err error) {
	rows, finish, err := c.query(ctx, db, "introspection.get_foreign_keys", c.queries.foreignKeys, databaseName, tableName)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
		finish(err)
	}()

	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.ColumnName, &fk.ReferencedTable, &fk.ReferencedColumn, &fk.ConstraintName, &fk.OrdinalPosition); err != nil {
			return nil, err
		}
		out = append(out, fk)
	}
	return out, rows.Err()
}

func (c informationSchema) uniqueIndexes(ctx context.Context, db Queryer, databaseName, tableName string) (out []Index, err error) {
	rows, finish, err := c.query(ctx, db, "introspection.get_indexes", c.queries.uniqueIndexes, databaseName, tableName)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
		finish(err)
	}()

	byName := map[string]*Index{}
	var order []string
	for rows.Next() {
		var name, column string
		if err := rows.Scan(&name, &column); err != nil {
			return nil, err
		}
		idx, ok := byName[name]
		if !ok {
			idx = &Index{Name: name, Unique: true}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

// sqliteCatalog reads sqlite_master and the table-valued pragma functions.
// SQLite has a single schema per connection, so databaseName is ignored.
type sqliteCatalog struct{}

func (sqliteCatalog) tables(ctx context.Context, db Queryer, _ string) (out []tableInfo, err error) {
	ctx, span := startSpan(ctx, "introspection.get_tables")
	defer func() {
		recordSpanError(span, err)
		span.End()
	}()

	rows, err := db.QueryContext(ctx, `
		SELECT name, type FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name, tableType string
		if err := rows.Scan(&name, &tableType); err != nil {
			return nil, err
		}
		out = append(out, tableInfo{Name: name, IsView: tableType == "view"})
	}
	return out, rows.Err()
}

// sqliteColumn is one row of pragma_table_info.
type sqliteColumn struct {
	column Column
	pk     int
}

func (sqliteCatalog) pragmaTableInfo(ctx context.Context, db Queryer, tableName string) (out []sqliteColumn, err error) {
	rows, err := db.QueryContext(ctx, `SELECT name, type, "notnull", dflt_value IS NOT NULL, pk FROM pragma_table_info(?) ORDER BY cid`, tableName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var c sqliteColumn
		var notNull bool
		if err := rows.Scan(&c.column.Name, &c.column.DataType, &notNull, &c.column.HasDefault, &c.pk); err != nil {
			return nil, err
		}
		c.column.IsNullable = !notNull
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s sqliteCatalog) columns(ctx context.Context, db Queryer, _, tableName string) (out []Column, err error) {
	ctx, span := startSpan(ctx, "introspection.get_columns", attribute.String("db.table", tableName))
	defer func() {
		recordSpanError(span, err)
		span.End()
	}()

	info, err := s.pragmaTableInfo(ctx, db, tableName)
	if err != nil {
		return nil, err
	}
	pkCount := 0
	for _, c := range info {
		if c.pk > 0 {
			pkCount++
		}
	}
	for _, c := range info {
		col := c.column
		// A lone INTEGER PRIMARY KEY aliases the rowid.
		if c.pk > 0 && pkCount == 1 && strings.EqualFold(col.DataType, "INTEGER") {
			col.IsAutoIncrement = true
		}
		out = append(out, col)
	}
	return out, nil
}

func (s sqliteCatalog) primaryKeys(ctx context.Context, db Queryer, _, tableName string) (out []string, err error) {
	ctx, span := startSpan(ctx, "introspection.get_primary_keys", attribute.String("db.table", tableName))
	defer func() {
		recordSpanError(span, err)
		span.End()
	}()

	info, err := s.pragmaTableInfo(ctx, db, tableName)
	if err != nil {
		return nil, err
	}
	var keyed []sqliteColumn
	for _, c := range info {
		if c.pk > 0 {
			keyed = append(keyed, c)
		}
	}
	sort.SliceStable(keyed, func(i, j int) bool { return keyed[i].pk < keyed[j].pk })
	for _, c := range keyed {
		out = append(out, c.column.Name)
	}
	return out, nil
}

func (sqliteCatalog) foreignKeys(ctx context.Context, db Queryer, _, tableName string) (out []ForeignKey, err error) {
	ctx, span := startSpan(ctx, "introspection.get_foreign_keys", attribute.String("db.table", tableName))
	defer func() {
		recordSpanError(span, err)
		span.End()
	}()

	rows, err := db.QueryContext(ctx, `SELECT id, seq, "table", "from", "to" FROM pragma_foreign_key_list(?) ORDER BY id, seq`, tableName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, seq int
		var fk ForeignKey
		var to sql.NullString
		if err := rows.Scan(&id, &seq, &fk.ReferencedTable, &fk.ColumnName, &to); err != nil {
			return nil, err
		}
		fk.ReferencedColumn = to.String
		fk.ConstraintName = fmt.Sprintf("%s_fk_%d", tableName, id)
		fk.OrdinalPosition = seq + 1
		out = append(out, fk)
	}
	return out, rows.Err()
}

func (sqliteCatalog) uniqueIndexes(ctx context.Context, db Queryer, _, tableName string) (out []Index, err error) {
	ctx, span := startSpan(ctx, "introspection.get_indexes", attribute.String("db.table", tableName))
	defer func() {
		recordSpanError(span, err)
		span.End()
	}()

	rows, err := db.QueryContext(ctx, `
		SELECT il.name, ii.name
		FROM pragma_index_list(?) AS il, pragma_index_info(il.name) AS ii
		WHERE il."unique" = 1
		ORDER BY il.name, ii.seqno`, tableName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	byName := map[string]*Index{}
	var order []string
	for rows.Next() {
		var name, column string
		if err := rows.Scan(&name, &column); err != nil {
			return nil, err
		}
		idx, ok := byName[name]
		if !ok {
			idx = &Index{Name: name, Unique: true}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}
