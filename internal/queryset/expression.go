package queryset

import (
	"fmt"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"gqlorm/internal/model"
)

// Expression is a computed SQL value usable as an annotation.
type Expression interface {
	// SQL renders the expression inside scope.
	SQL(scope *Scope) (string, []any, error)
	// Paths returns the relation paths that must be joined for the expression.
	Paths() []string
	// Key is a canonical form used for equality.
	Key() string
	// WithPrefix re-roots the expression under a relation path.
	WithPrefix(prefix string) Expression
}

// Col references a field path.
func Col(path string) Expression { return colExpr{path: path} }

type colExpr struct{ path string }

func (c colExpr) SQL(scope *Scope) (string, []any, error) {
	col, err := scope.Column(c.path)
	return col, nil, err
}

func (c colExpr) Paths() []string {
	owner, _ := splitPath(c.path)
	if owner == "" {
		return nil
	}
	return []string{owner}
}

func (c colExpr) Key() string { return "col(" + c.path + ")" }

func (c colExpr) WithPrefix(prefix string) Expression {
	return colExpr{path: JoinPath(prefix, c.path)}
}

// Value is a bound literal.
func Value(v any) Expression { return valueExpr{v: v} }

type valueExpr struct{ v any }

func (v valueExpr) SQL(*Scope) (string, []any, error) { return "?", []any{v.v}, nil }
func (v valueExpr) Paths() []string                   { return nil }
func (v valueExpr) Key() string                       { return fmt.Sprintf("value(%v)", v.v) }
func (v valueExpr) WithPrefix(string) Expression      { return v }

// Aggregate functions over a relation.
const (
	AggCount = "COUNT"
	AggSum   = "SUM"
	AggAvg   = "AVG"
	AggMin   = "MIN"
	AggMax   = "MAX"
)

// Count counts the related rows reached through a relation path.
func Count(relationPath string) Expression {
	return aggregateExpr{fn: AggCount, path: relationPath}
}

// Sum sums a field of the related rows.
func Sum(relationPath, field string) Expression {
	return aggregateExpr{fn: AggSum, path: relationPath, field: field}
}

// Avg averages a field of the related rows.
func Avg(relationPath, field string) Expression {
	return aggregateExpr{fn: AggAvg, path: relationPath, field: field}
}

// Min is the smallest value of a field of the related rows.
func Min(relationPath, field string) Expression {
	return aggregateExpr{fn: AggMin, path: relationPath, field: field}
}

// Max is the largest value of a field of the related rows.
func Max(relationPath, field string) Expression {
	return aggregateExpr{fn: AggMax, path: relationPath, field: field}
}

type aggregateExpr struct {
	fn    string
	path  string
	field string
}

func (a aggregateExpr) Paths() []string {
	owner, _ := splitPath(a.path)
	if owner == "" {
		return nil
	}
	return []string{owner}
}

func (a aggregateExpr) Key() string {
	return strings.ToLower(a.fn) + "(" + a.path + "," + a.field + ")"
}

func (a aggregateExpr) WithPrefix(prefix string) Expression {
	return aggregateExpr{fn: a.fn, path: JoinPath(prefix, a.path), field: a.field}
}

// SQL renders a correlated subquery against the owning alias.
func (a aggregateExpr) SQL(scope *Scope) (string, []any, error) {
	ownerPath, relName := splitPath(a.path)
	ownerAlias, owner, err := scope.Relation(ownerPath)
	if err != nil {
		return "", nil, err
	}
	rel, target, err := scope.Registry().Target(owner, relName)
	if err != nil {
		return "", nil, err
	}
	d := scope.Dialect()
	alias := scope.NextAlias("a")

	value := "*"
	if a.field != "" {
		f, ok := lookupField(target, a.field)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s.%s", model.ErrUnknownField, target.Name, a.field)
		}
		value = d.Column(alias, f.Column)
	} else if a.fn != AggCount {
		return "", nil, fmt.Errorf("%s over %s needs a field", a.fn, a.path)
	}

	var b sq.SelectBuilder
	if rel.Kind == model.ManyToMany {
		jAlias := scope.NextAlias("m")
		on := make([]string, len(rel.RemoteColumns))
		for i, col := range rel.RemoteColumns {
			on[i] = d.Column(jAlias, rel.Junction.RemoteColumns[i]) + " = " + d.Column(alias, col)
		}
		b = sq.Select(a.fn+"("+value+")").
			From(d.Quote(target.Table) + " AS " + d.Quote(alias)).
			Join(d.Quote(rel.Junction.Table) + " AS " + d.Quote(jAlias) + " ON " + strings.Join(on, " AND "))
		for i, col := range rel.LocalColumns {
			b = b.Where(d.Column(jAlias, rel.Junction.LocalColumns[i]) + " = " + d.Column(ownerAlias, col))
		}
	} else {
		b = sq.Select(a.fn + "(" + value + ")").From(d.Quote(target.Table) + " AS " + d.Quote(alias))
		for i, col := range rel.RemoteColumns {
			b = b.Where(d.Column(alias, col) + " = " + d.Column(ownerAlias, rel.LocalColumns[i]))
		}
	}
	query, args, err := b.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "(" + query + ")", args, nil
}

var templateField = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Template builds an expression from SQL text with {field} placeholders,
// e.g. "{price} * {quantity}". Placeholders resolve to field paths relative
// to the expression's prefix.
func Template(text string) Expression {
	var operands []Expression
	format := templateField.ReplaceAllStringFunc(strings.ReplaceAll(text, "%", "%%"), func(match string) string {
		operands = append(operands, Col(match[1:len(match)-1]))
		return "%s"
	})
	return templateExpr{format: format, operands: operands}
}

// Raw composes operands into a SQL fragment with %s verbs.
func Raw(format string, operands ...Expression) Expression {
	return templateExpr{format: format, operands: operands}
}

type templateExpr struct {
	format   string
	operands []Expression
}

func (t templateExpr) SQL(scope *Scope) (string, []any, error) {
	parts := make([]any, len(t.operands))
	var args []any
	for i, op := range t.operands {
		s, a, err := op.SQL(scope)
		if err != nil {
			return "", nil, err
		}
		parts[i] = s
		args = append(args, a...)
	}
	return "(" + fmt.Sprintf(t.format, parts...) + ")", args, nil
}

func (t templateExpr) Paths() []string {
	var out []string
	for _, op := range t.operands {
		out = appendUnique(out, op.Paths()...)
	}
	return out
}

func (t templateExpr) Key() string {
	keys := make([]any, len(t.operands))
	for i, op := range t.operands {
		keys[i] = op.Key()
	}
	return "raw(" + fmt.Sprintf(t.format, keys...) + ")"
}

func (t templateExpr) WithPrefix(prefix string) Expression {
	ops := make([]Expression, len(t.operands))
	for i, op := range t.operands {
		ops[i] = op.WithPrefix(prefix)
	}
	return templateExpr{format: t.format, operands: ops}
}
