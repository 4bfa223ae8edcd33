// Package introspection discovers database schema metadata from the catalog
// of a MySQL/TiDB, PostgreSQL or SQLite database and turns it into a model
// registry: tables become models, columns become fields and foreign keys
// become relations in both directions.
package introspection

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gqlorm/internal/model"
	"gqlorm/internal/naming"
	"gqlorm/internal/sqlutil"
)

// Column represents a database column
type Column struct {
	Name            string
	DataType        string
	IsNullable      bool
	IsPrimaryKey    bool
	IsAutoIncrement bool
	HasDefault      bool
}

// Index represents a unique index or constraint with ordered columns.
type Index struct {
	Name    string
	Unique  bool
	Columns []string
}

// ForeignKey represents one column of a foreign key constraint
type ForeignKey struct {
	ColumnName       string // e.g., "milestone_id"
	ReferencedTable  string // e.g., "milestones"
	ReferencedColumn string // e.g., "id"; empty when the catalog omits it
	ConstraintName   string // e.g., "issues_ibfk_1"
	OrdinalPosition  int    // Column position within the FK constraint
}

// Table represents a database table or view
type Table struct {
	Name        string
	IsView      bool
	Columns     []Column
	// PrimaryKey lists the key columns in constraint order.
	PrimaryKey  []string
	ForeignKeys []ForeignKey
	Indexes     []Index
}

// Schema represents the introspected database schema
type Schema struct {
	Tables []Table
}

// Table returns the named table.
func (s *Schema) Table(name string) (*Table, bool) {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// Queryer provides query access for schema introspection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Load introspects the database and builds a model registry from it.
func Load(ctx context.Context, db Queryer, databaseName string, dialect sqlutil.Dialect, namer *naming.Namer) (*model.Registry, error) {
	schema, err := IntrospectDatabaseContext(ctx, db, databaseName, dialect)
	if err != nil {
		return nil, err
	}
	return BuildRegistry(ctx, schema, namer)
}

// IntrospectDatabaseContext reads tables, columns, primary keys, foreign keys
// and unique indexes from the database catalog.
func IntrospectDatabaseContext(ctx context.Context, db Queryer, databaseName string, dialect sqlutil.Dialect) (*Schema, error) {
	ctx, span := startSpan(ctx, "introspection.build_schema",
		attribute.String("db.name", databaseName),
		attribute.String("db.system", dialect.Name),
	)
	defer span.End()

	cat, err := catalogFor(dialect)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	schema := &Schema{}
	tables, err := cat.tables(ctx, db, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}

	for _, info := range tables {
		table := Table{Name: info.Name, IsView: info.IsView}
		table.Columns, err = cat.columns(ctx, db, databaseName, info.Name)
		if err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get columns for %s: %w", info.Name, err)
		}
		if !info.IsView {
			primaryKeys, err := cat.primaryKeys(ctx, db, databaseName, info.Name)
			if err != nil {
				recordSpanError(span, err)
				return nil, fmt.Errorf("failed to get primary keys for table %s: %w", info.Name, err)
			}
			markPrimaryKeys(&table, primaryKeys)

			table.ForeignKeys, err = cat.foreignKeys(ctx, db, databaseName, info.Name)
			if err != nil {
				recordSpanError(span, err)
				return nil, fmt.Errorf("failed to get foreign keys for table %s: %w", info.Name, err)
			}

			table.Indexes, err = cat.uniqueIndexes(ctx, db, databaseName, info.Name)
			if err != nil {
				recordSpanError(span, err)
				return nil, fmt.Errorf("failed to get indexes for table %s: %w", info.Name, err)
			}
		}
		schema.Tables = append(schema.Tables, table)
	}

	schema.resolveImplicitReferences()
	span.SetAttributes(attribute.Int("db.tables", len(schema.Tables)))
	return schema, nil
}

// markPrimaryKeys flags the primary key columns and records the key order.
func markPrimaryKeys(table *Table, primaryKeys []string) {
	table.PrimaryKey = primaryKeys
	for i := range table.Columns {
		for _, pk := range primaryKeys {
			if table.Columns[i].Name == pk {
				table.Columns[i].IsPrimaryKey = true
				table.Columns[i].IsNullable = false
				break
			}
		}
	}
}

// resolveImplicitReferences fills in referenced columns that the catalog left
// out, which SQLite does for "REFERENCES t" without a column list.
func (s *Schema) resolveImplicitReferences() {
	for i := range s.Tables {
		table := &s.Tables[i]
		for j := range table.ForeignKeys {
			fk := &table.ForeignKeys[j]
			if fk.ReferencedColumn != "" {
				continue
			}
			target, ok := s.Table(fk.ReferencedTable)
			if !ok {
				continue
			}
			pos := fk.OrdinalPosition - 1
			if pos < 0 {
				pos = 0
			}
			if pos < len(target.PrimaryKey) {
				fk.ReferencedColumn = target.PrimaryKey[pos]
			}
		}
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("gqlorm/introspection")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
