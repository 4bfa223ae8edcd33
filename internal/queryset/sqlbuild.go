package queryset

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"gqlorm/internal/model"
	"gqlorm/internal/sqlutil"
)

type columnKind int

const (
	columnField columnKind = iota
	columnAnnotation
	columnTotal
	columnParentKey
	columnRowNumber
)

const (
	totalAlias     = "_total"
	rowNumberAlias = "_rn"
	parentKeyAlias = "_pk"
	junctionAlias  = "_pj"
)

// outColumn maps one result column back onto a row.
type outColumn struct {
	kind  columnKind
	path  string
	name  string
	field model.Field
	index int
}

// statement is a rendered SELECT and the layout of its result columns.
type statement struct {
	query   string
	args    []any
	columns []outColumn
}

// parentKeys restricts a query to the rows related to a set of parents.
type parentKeys struct {
	relation model.Relation
	keys     [][]any
}

type sqlPart struct {
	sql  string
	args []any
}

// ToSQL renders the main SELECT for the queryset.
func (qs QuerySet) ToSQL(d sqlutil.Dialect) (string, []any, error) {
	stmt, err := qs.build(d, nil)
	if err != nil {
		return "", nil, err
	}
	return stmt.query, stmt.args, nil
}

func (qs QuerySet) build(d sqlutil.Dialect, parent *parentKeys) (*statement, error) {
	if qs.model == nil || qs.registry == nil {
		return nil, fmt.Errorf("queryset has no model")
	}
	m := qs.model
	scope := newScope(d, qs.registry, m, m.Table)
	stmt := &statement{}

	builder := sq.Select().From(d.Quote(m.Table))

	joinPaths, err := qs.joinPaths()
	if err != nil {
		return nil, err
	}
	for _, path := range joinPaths {
		owner, relName := splitPath(path)
		ownerAlias, ownerModel, err := scope.Relation(owner)
		if err != nil {
			return nil, err
		}
		rel, target, err := qs.registry.Target(ownerModel, relName)
		if err != nil {
			return nil, err
		}
		if rel.IsToMany() {
			return nil, fmt.Errorf("cannot join to-many relation %s.%s", ownerModel.Name, rel.Name)
		}
		alias := scope.NextAlias("j")
		on := make([]string, len(rel.LocalColumns))
		for i, col := range rel.LocalColumns {
			on[i] = d.Column(ownerAlias, col) + " = " + d.Column(alias, rel.RemoteColumns[i])
		}
		builder = builder.LeftJoin(d.Quote(target.Table) + " AS " + d.Quote(alias) + " ON " + strings.Join(on, " AND "))
		scope.joins[path] = joinRef{alias: alias, model: target}
	}

	annotationNames := make(map[string]bool, len(qs.annotations))
	for _, a := range qs.annotations {
		annotationNames[a.Name] = true
	}
	onlyByPath := map[string][]string{}
	for _, entry := range qs.only {
		if annotationNames[entry] {
			continue
		}
		owner, name := splitPath(entry)
		onlyByPath[owner] = appendUnique(onlyByPath[owner], name)
	}

	var partition []string
	if parent != nil {
		switch {
		case parent.relation.Kind == model.ManyToMany:
			j := parent.relation.Junction
			on := make([]string, len(parent.relation.RemoteColumns))
			for i, col := range parent.relation.RemoteColumns {
				on[i] = d.Column(junctionAlias, j.RemoteColumns[i]) + " = " + d.Column(m.Table, col)
			}
			builder = builder.Join(d.Quote(j.Table) + " AS " + d.Quote(junctionAlias) + " ON " + strings.Join(on, " AND "))
			for i, col := range j.LocalColumns {
				ref := d.Column(junctionAlias, col)
				partition = append(partition, ref)
				builder = builder.Column(ref + " AS " + d.Quote(parentKeyAlias+strconv.Itoa(i)))
				stmt.columns = append(stmt.columns, outColumn{kind: columnParentKey, index: i})
			}
		default:
			for _, col := range parent.relation.RemoteColumns {
				partition = append(partition, d.Column(m.Table, col))
			}
		}
	}

	paths := append([]string{""}, joinPaths...)
	for _, path := range paths {
		alias, pm, _ := scope.Relation(path)
		fields, err := qs.projectedFields(path, pm, onlyByPath[path], joinPaths, parent)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			builder = builder.Column(d.Column(alias, f.Column) + " AS " + d.Quote(JoinPath(path, f.Name)))
			stmt.columns = append(stmt.columns, outColumn{kind: columnField, path: path, name: f.Name, field: f})
		}
	}

	annotationSQL := make(map[string]sqlPart, len(qs.annotations))
	for _, a := range qs.annotations {
		exprSQL, args, err := a.Expr.SQL(scope)
		if err != nil {
			return nil, fmt.Errorf("annotation %s: %w", a.Name, err)
		}
		annotationSQL[a.Name] = sqlPart{sql: exprSQL, args: args}
		builder = builder.Column(sq.Expr(exprSQL+" AS "+d.Quote(a.Name), args...))
		owner, bare := splitPath(a.Name)
		if _, joined := scope.joins[owner]; joined && owner != "" {
			stmt.columns = append(stmt.columns, outColumn{kind: columnAnnotation, path: owner, name: bare})
		} else {
			stmt.columns = append(stmt.columns, outColumn{kind: columnAnnotation, name: a.Name})
		}
	}

	for _, f := range qs.filters {
		cond, err := f.render(scope)
		if err != nil {
			return nil, err
		}
		builder = builder.Where(cond)
	}
	if parent != nil {
		builder = builder.Where(keyCondition{columns: partition, keys: parent.keys})
	}

	order, err := qs.orderParts(scope, annotationSQL)
	if err != nil {
		return nil, err
	}

	windowed := parent != nil && qs.Paginated()
	if qs.withTotal {
		over := "OVER ()"
		if parent != nil {
			over = "OVER (PARTITION BY " + strings.Join(partition, ", ") + ")"
		}
		builder = builder.Column("COUNT(*) " + over + " AS " + d.Quote(totalAlias))
		stmt.columns = append(stmt.columns, outColumn{kind: columnTotal})
	}

	if windowed {
		orderSQL, orderArgs := joinParts(order)
		builder = builder.Column(sq.Expr("ROW_NUMBER() OVER (PARTITION BY "+strings.Join(partition, ", ")+" ORDER BY "+orderSQL+") AS "+d.Quote(rowNumberAlias), orderArgs...))
		stmt.columns = append(stmt.columns, outColumn{kind: columnRowNumber})

		rn := d.Quote(rowNumberAlias)
		outer := sq.Select("*").FromSelect(builder, "_w").Where(rn+" > ?", qs.offset)
		if qs.limit != nil {
			outer = outer.Where(rn+" <= ?", qs.offset+*qs.limit)
		}
		builder = outer.OrderBy(rn)
	} else {
		for _, part := range order {
			builder = builder.OrderByClause(part.sql, part.args...)
		}
		if parent == nil || !qs.Paginated() {
			if qs.limit != nil {
				builder = builder.Limit(*qs.limit)
			} else if qs.offset > 0 {
				builder = builder.Limit(math.MaxInt64)
			}
			if qs.offset > 0 {
				builder = builder.Offset(qs.offset)
			}
		}
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	query, err = d.Format(query)
	if err != nil {
		return nil, err
	}
	stmt.query = query
	stmt.args = args
	return stmt, nil
}

// joinPaths returns every joined path, including intermediate paths and the
// paths referenced by annotations, filters and ordering, parents first.
func (qs QuerySet) joinPaths() ([]string, error) {
	set := map[string]bool{}
	add := func(path string) {
		parts := strings.Split(path, model.PathSeparator)
		for i := range parts {
			set[strings.Join(parts[:i+1], model.PathSeparator)] = true
		}
	}
	for _, j := range qs.joins {
		add(j)
	}
	for _, a := range qs.annotations {
		for _, p := range a.Expr.Paths() {
			add(p)
		}
	}
	for _, f := range qs.filters {
		for _, p := range f.paths() {
			add(p)
		}
	}
	for _, o := range qs.order {
		if qs.isAnnotation(o.Path) {
			continue
		}
		if owner, _ := splitPath(o.Path); owner != "" {
			add(owner)
		}
	}
	for _, p := range qs.prefetches {
		if owner, _ := splitPath(p.Path); owner != "" {
			add(owner)
		}
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		di := strings.Count(paths[i], model.PathSeparator)
		dj := strings.Count(paths[j], model.PathSeparator)
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})
	return paths, nil
}

func (qs QuerySet) isAnnotation(name string) bool {
	for _, a := range qs.annotations {
		if a.Name == name {
			return true
		}
	}
	return false
}

// projectedFields lists the fields fetched for one relation path. An
// unrestricted path fetches every base field. A restricted path fetches the
// requested fields plus every key needed to resolve relations and subtypes.
func (qs QuerySet) projectedFields(path string, m *model.Model, only []string, joinPaths []string, parent *parentKeys) ([]model.Field, error) {
	all := baseFields(m)
	if len(only) == 0 {
		return all, nil
	}
	want := map[string]bool{}
	for _, name := range only {
		if _, ok := lookupField(m, name); !ok {
			return nil, fmt.Errorf("%w: %s.%s", model.ErrUnknownField, m.Name, name)
		}
		want[name] = true
	}
	for _, name := range m.PrimaryKeyNames() {
		want[name] = true
	}
	if p := m.Polymorphism; p != nil && p.Discriminator != "" {
		want[p.Discriminator] = true
	}
	keyFor := func(relPath string) {
		owner, relName := splitPath(relPath)
		if owner != path {
			return
		}
		if rel, ok := m.Relation(relName); ok {
			for _, name := range m.KeyFields(rel) {
				want[name] = true
			}
		}
	}
	for _, j := range joinPaths {
		keyFor(j)
	}
	for _, p := range qs.prefetches {
		keyFor(p.Path)
	}
	if path == "" && parent != nil && parent.relation.Kind != model.ManyToMany {
		for _, col := range parent.relation.RemoteColumns {
			if f, ok := m.FieldByColumn(col); ok {
				want[f.Name] = true
			}
		}
	}
	fields := make([]model.Field, 0, len(want))
	for _, f := range all {
		if want[f.Name] {
			fields = append(fields, f)
		}
	}
	return fields, nil
}

// orderParts renders ORDER BY terms. The primary key is always appended so
// that results are deterministic.
func (qs QuerySet) orderParts(scope *Scope, annotations map[string]sqlPart) ([]sqlPart, error) {
	d := scope.Dialect()
	var parts []sqlPart
	seen := map[string]bool{}
	for _, o := range qs.order {
		dir := " ASC"
		if o.Desc {
			dir = " DESC"
		}
		if a, ok := annotations[o.Path]; ok {
			parts = append(parts, sqlPart{sql: a.sql + dir, args: a.args})
			continue
		}
		col, err := scope.Column(o.Path)
		if err != nil {
			return nil, err
		}
		seen[o.Path] = true
		parts = append(parts, sqlPart{sql: col + dir})
	}
	for _, f := range qs.model.PrimaryKey() {
		if seen[f.Name] {
			continue
		}
		parts = append(parts, sqlPart{sql: d.Column(qs.model.Table, f.Column) + " ASC"})
	}
	return parts, nil
}

func joinParts(parts []sqlPart) (string, []any) {
	sqls := make([]string, len(parts))
	var args []any
	for i, p := range parts {
		sqls[i] = p.sql
		args = append(args, p.args...)
	}
	return strings.Join(sqls, ", "), args
}
