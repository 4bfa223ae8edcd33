package queryset

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"gqlorm/internal/dbexec"
	"gqlorm/internal/logging"
	"gqlorm/internal/model"
	"gqlorm/internal/sqlutil"
)

// DefaultMaxInClause bounds the number of parent keys sent in one IN list.
const DefaultMaxInClause = 1000

// Session evaluates querysets against one executor.
type Session struct {
	exec        dbexec.QueryExecutor
	dialect     sqlutil.Dialect
	maxInClause int
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithMaxInClause overrides DefaultMaxInClause.
func WithMaxInClause(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.maxInClause = n
		}
	}
}

// NewSession creates a session.
func NewSession(exec dbexec.QueryExecutor, dialect sqlutil.Dialect, opts ...SessionOption) *Session {
	s := &Session{exec: exec, dialect: dialect, maxInClause: DefaultMaxInClause}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dialect returns the session's SQL dialect.
func (s *Session) Dialect() sqlutil.Dialect { return s.dialect }

// Executor returns the underlying executor.
func (s *Session) Executor() dbexec.QueryExecutor { return s.exec }

type sessionKey struct{}

// WithSession stores a session in ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session stored in ctx.
func SessionFromContext(ctx context.Context) (*Session, error) {
	if s, ok := ctx.Value(sessionKey{}).(*Session); ok && s != nil {
		return s, nil
	}
	return nil, fmt.Errorf("no queryset session in context")
}

// Evaluate runs the queryset and returns its rows.
func (qs QuerySet) Evaluate(ctx context.Context, s *Session) ([]*Row, error) {
	page, err := qs.Fetch(ctx, s)
	if err != nil {
		return nil, err
	}
	return page.Rows, nil
}

// Fetch runs the queryset, its subclass fetches and its prefetches.
func (qs QuerySet) Fetch(ctx context.Context, s *Session) (page *Page, err error) {
	ctx, span := startSpan(ctx, "queryset.evaluate", attribute.String("queryset.model", qs.model.Name))
	defer func() { finishSpan(span, err) }()

	stmt, err := qs.build(s.dialect, nil)
	if err != nil {
		return nil, err
	}
	records, err := s.run(ctx, qs, stmt)
	if err != nil {
		return nil, err
	}
	page = &Page{Rows: make([]*Row, len(records)), HasTotal: qs.withTotal, Offset: qs.offset}
	for i, rec := range records {
		page.Rows[i] = rec.row
	}
	if qs.withTotal && len(records) > 0 {
		page.Total = records[0].total
	}
	if err := s.complete(ctx, qs, page.Rows); err != nil {
		return nil, err
	}
	return page, nil
}

type record struct {
	row       *Row
	parentKey []any
	total     int64
}

// run executes a statement and materializes its rows.
func (s *Session) run(ctx context.Context, qs QuerySet, stmt *statement) ([]record, error) {
	start := time.Now()
	rows, err := s.exec.QueryContext(ctx, stmt.query, stmt.args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", qs.model.Name, err)
	}
	defer rows.Close()

	var out []record
	for rows.Next() {
		raw := make([]any, len(stmt.columns))
		dest := make([]any, len(stmt.columns))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, s.materialize(qs, stmt.columns, raw))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Debug("queryset evaluated",
		slog.String("model", qs.model.Name),
		slog.Int("rows", len(out)),
		slog.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (s *Session) materialize(qs QuerySet, columns []outColumn, raw []any) record {
	root := newRow(s, qs.registry, qs.model)
	rec := record{row: root}
	joined := map[string]*Row{"": root}
	nonNull := map[string]bool{}

	rowAt := func(path string) *Row {
		if r, ok := joined[path]; ok {
			return r
		}
		m, err := qs.registry.Walk(qs.model, path)
		if err != nil {
			return nil
		}
		r := newRow(s, qs.registry, m)
		joined[path] = r
		return r
	}

	for i, col := range columns {
		switch col.kind {
		case columnField:
			r := rowAt(col.path)
			if r == nil {
				continue
			}
			v := normalizeValue(col.field.Type, raw[i])
			r.setValue(col.name, v)
			if col.field.PrimaryKey && v != nil {
				nonNull[col.path] = true
			}
		case columnAnnotation:
			if r := rowAt(col.path); r != nil {
				r.annotations[col.name] = normalizeScalar(raw[i])
			}
		case columnTotal:
			rec.total = toInt64(raw[i])
		case columnParentKey:
			rec.parentKey = append(rec.parentKey, normalizeScalar(raw[i]))
		}
	}

	paths := make([]string, 0, len(joined))
	for p := range joined {
		if p != "" {
			paths = append(paths, p)
		}
	}
	sortByDepth(paths)
	for _, path := range paths {
		owner, rel := splitPath(path)
		parentRow := joined[owner]
		if parentRow == nil {
			continue
		}
		if nonNull[path] {
			joined[path].resolveSubtype()
			parentRow.related[rel] = joined[path]
		} else {
			parentRow.related[rel] = nil
		}
	}
	root.resolveSubtype()
	return rec
}

// complete runs subclass fetches and prefetches for freshly fetched rows.
func (s *Session) complete(ctx context.Context, qs QuerySet, rows []*Row) error {
	if len(rows) == 0 {
		return nil
	}
	if len(qs.subclasses) > 0 && qs.SupportsSubclassFetch() {
		if err := s.fetchSubclasses(ctx, qs, rows); err != nil {
			return err
		}
	}
	for _, p := range qs.prefetches {
		ownerPath, _ := splitPath(p.Path)
		ownerModel, err := qs.registry.Walk(qs.model, ownerPath)
		if err != nil {
			return err
		}
		if err := s.prefetch(ctx, ownerModel, ownersAt(rows, ownerPath), Prefetch{
			Path:     lastSegment(p.Path),
			ToAttr:   p.ToAttr,
			QuerySet: p.QuerySet,
		}); err != nil {
			return err
		}
	}
	return nil
}

// prefetch fetches one relation of owner rows with one query per chunk of
// owner keys and caches the result on each owner.
func (s *Session) prefetch(ctx context.Context, ownerModel *model.Model, owners []*Row, p Prefetch) (err error) {
	if len(owners) == 0 {
		return nil
	}
	reg := owners[0].registry
	rel, target, err := reg.Target(ownerModel, p.Path)
	if err != nil {
		return err
	}
	attr := p.ToAttr
	if attr == "" {
		attr = rel.Name
	}
	childQS := For(reg, target)
	if p.QuerySet != nil {
		childQS = *p.QuerySet
	}

	ctx, span := startSpan(ctx, "queryset.prefetch",
		attribute.String("queryset.model", ownerModel.Name),
		attribute.String("queryset.relation", rel.Name),
		attribute.Int("queryset.parents", len(owners)),
	)
	defer func() { finishSpan(span, err) }()

	localFields := ownerModel.KeyFields(rel)
	ownerKeys := make([]string, len(owners))
	var keys [][]any
	seen := map[string]bool{}
	for i, owner := range owners {
		values, ok, err := owner.keyValues(ctx, localFields)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		k := keyString(values)
		ownerKeys[i] = k
		if !seen[k] {
			seen[k] = true
			keys = append(keys, values)
		}
	}

	var remoteFields []string
	if rel.Kind != model.ManyToMany {
		for _, col := range rel.RemoteColumns {
			if f, ok := target.FieldByColumn(col); ok {
				remoteFields = append(remoteFields, f.Name)
			}
		}
	}

	groups := map[string][]*Row{}
	totals := map[string]int64{}
	var children []*Row
	for _, chunk := range chunkKeys(keys, s.maxInClause) {
		if len(chunk) == 0 {
			continue
		}
		stmt, err := childQS.build(s.dialect, &parentKeys{relation: rel, keys: chunk})
		if err != nil {
			return err
		}
		records, err := s.run(ctx, childQS, stmt)
		if err != nil {
			return err
		}
		for _, rec := range records {
			var k string
			if rel.Kind == model.ManyToMany {
				k = keyString(rec.parentKey)
			} else {
				values := make([]any, len(remoteFields))
				for i, name := range remoteFields {
					values[i] = rec.row.values[name]
				}
				k = keyString(values)
			}
			groups[k] = append(groups[k], rec.row)
			totals[k] = rec.total
			children = append(children, rec.row)
		}
	}
	if err := s.complete(ctx, childQS, children); err != nil {
		return err
	}

	for i, owner := range owners {
		k := ownerKeys[i]
		if rel.IsToMany() {
			page := &Page{Rows: groups[k], HasTotal: childQS.withTotal, Total: totals[k], Offset: childQS.offset}
			if page.Rows == nil {
				page.Rows = []*Row{}
			}
			owner.setPrefetched(attr, page)
			continue
		}
		var related *Row
		if rows := groups[k]; len(rows) > 0 {
			related = rows[0]
		}
		owner.setRelated(attr, related)
	}
	return nil
}

// reload fetches every base column of a row whose projection was restricted.
func (s *Session) reload(ctx context.Context, r *Row) error {
	pk, err := r.PrimaryKey()
	if err != nil {
		return err
	}
	qs := For(r.registry, r.model).Filter(pkCondition(r.model, pk))
	stmt, err := qs.build(s.dialect, nil)
	if err != nil {
		return err
	}
	records, err := s.run(ctx, qs, stmt)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("%s row %v no longer exists", r.model.Name, pk)
	}
	fresh := records[0].row
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, v := range fresh.values {
		if !r.loaded[name] {
			r.setValue(name, v)
		}
	}
	if r.subtype == "" {
		r.resolveSubtype()
	}
	return nil
}

// annotate evaluates one expression for a single row.
func (s *Session) annotate(ctx context.Context, r *Row, name string, expr Expression) (any, error) {
	pk, err := r.PrimaryKey()
	if err != nil {
		return nil, err
	}
	qs := For(r.registry, r.model).
		Filter(pkCondition(r.model, pk)).
		Annotate(Annotation{Name: name, Expr: expr}).
		Only(r.model.PrimaryKeyNames()...)
	stmt, err := qs.build(s.dialect, nil)
	if err != nil {
		return nil, err
	}
	records, err := s.run(ctx, qs, stmt)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0].row.annotations[name], nil
}

func pkCondition(m *model.Model, pk []any) Condition {
	fields := m.PrimaryKey()
	conds := make([]Condition, len(fields))
	for i, f := range fields {
		conds[i] = Eq(f.Name, pk[i])
	}
	if len(conds) == 1 {
		return conds[0]
	}
	return And(conds...)
}

// ownersAt collects the joined rows found at path below rows.
func ownersAt(rows []*Row, path string) []*Row {
	if path == "" {
		return rows
	}
	current := rows
	for _, name := range strings.Split(path, model.PathSeparator) {
		next := make([]*Row, 0, len(current))
		for _, r := range current {
			r.mu.Lock()
			rel := r.related[name]
			r.mu.Unlock()
			if rel != nil {
				next = append(next, rel)
			}
		}
		current = next
	}
	return current
}

func lastSegment(path string) string {
	_, last := splitPath(path)
	return last
}

func keyString(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(normalizeScalar(v))
	}
	return strings.Join(parts, "\x1f")
}

func chunkKeys(keys [][]any, size int) [][][]any {
	if size <= 0 || len(keys) <= size {
		return [][][]any{keys}
	}
	var chunks [][][]any
	for len(keys) > 0 {
		n := size
		if len(keys) < n {
			n = len(keys)
		}
		chunks = append(chunks, keys[:n])
		keys = keys[n:]
	}
	return chunks
}

func sortByDepth(paths []string) {
	for i := 1; i < len(paths); i++ {
		for j := i; j > 0 && less(paths[j], paths[j-1]); j-- {
			paths[j], paths[j-1] = paths[j-1], paths[j]
		}
	}
}

func less(a, b string) bool {
	da, db := strings.Count(a, model.PathSeparator), strings.Count(b, model.PathSeparator)
	if da != db {
		return da < db
	}
	return a < b
}

func toInt64(v any) int64 {
	switch t := normalizeScalar(v).(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
