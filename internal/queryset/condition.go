package queryset

import (
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"gqlorm/internal/model"
)

// Op is a column comparison operator.
type Op string

const (
	OpEq      Op = "eq"
	OpNe      Op = "ne"
	OpLt      Op = "lt"
	OpLte     Op = "lte"
	OpGt      Op = "gt"
	OpGte     Op = "gte"
	OpIn      Op = "in"
	OpNotIn   Op = "notIn"
	OpLike    Op = "like"
	OpNotLike Op = "notLike"
	OpIsNull  Op = "isNull"
)

// Condition is a filter predicate rendered against a Scope.
type Condition interface {
	render(scope *Scope) (sq.Sqlizer, error)
	paths() []string
	// Key is a canonical form used for equality.
	Key() string
}

// Cmp compares a field path with a value.
func Cmp(path string, op Op, value any) Condition {
	return cmpCond{path: path, op: op, value: value}
}

// Eq is shorthand for Cmp(path, OpEq, value).
func Eq(path string, value any) Condition { return Cmp(path, OpEq, value) }

type cmpCond struct {
	path  string
	op    Op
	value any
}

func (c cmpCond) Key() string { return fmt.Sprintf("%s %s %v", c.path, c.op, c.value) }

func (c cmpCond) paths() []string {
	owner, _ := splitPath(c.path)
	if owner == "" {
		return nil
	}
	return []string{owner}
}

func (c cmpCond) render(scope *Scope) (sq.Sqlizer, error) {
	col, err := scope.Column(c.path)
	if err != nil {
		return nil, err
	}
	switch c.op {
	case OpEq:
		return sq.Eq{col: c.value}, nil
	case OpNe:
		return sq.NotEq{col: c.value}, nil
	case OpLt:
		return sq.Lt{col: c.value}, nil
	case OpLte:
		return sq.LtOrEq{col: c.value}, nil
	case OpGt:
		return sq.Gt{col: c.value}, nil
	case OpGte:
		return sq.GtOrEq{col: c.value}, nil
	case OpIn, OpNotIn:
		values, ok := c.value.([]any)
		if !ok {
			return nil, fmt.Errorf("%s operator requires an array", c.op)
		}
		if len(values) == 0 {
			if c.op == OpIn {
				return sq.Expr("1 = 0"), nil
			}
			return sq.Expr("1 = 1"), nil
		}
		if c.op == OpIn {
			return sq.Eq{col: values}, nil
		}
		return sq.NotEq{col: values}, nil
	case OpLike:
		return sq.Like{col: c.value}, nil
	case OpNotLike:
		return sq.NotLike{col: c.value}, nil
	case OpIsNull:
		isNull, ok := c.value.(bool)
		if !ok {
			return nil, fmt.Errorf("isNull must be a boolean")
		}
		if isNull {
			return sq.Eq{col: nil}, nil
		}
		return sq.NotEq{col: nil}, nil
	default:
		return nil, fmt.Errorf("unknown filter operator: %s", c.op)
	}
}

// And matches when every condition matches.
func And(conds ...Condition) Condition { return boolCond{op: "AND", conds: conds} }

// Or matches when any condition matches.
func Or(conds ...Condition) Condition { return boolCond{op: "OR", conds: conds} }

type boolCond struct {
	op    string
	conds []Condition
}

func (b boolCond) Key() string {
	keys := make([]string, len(b.conds))
	for i, c := range b.conds {
		keys[i] = c.Key()
	}
	return b.op + "(" + strings.Join(keys, "; ") + ")"
}

func (b boolCond) paths() []string {
	var out []string
	for _, c := range b.conds {
		out = appendUnique(out, c.paths()...)
	}
	return out
}

func (b boolCond) render(scope *Scope) (sq.Sqlizer, error) {
	parts := make([]sq.Sqlizer, 0, len(b.conds))
	for _, c := range b.conds {
		s, err := c.render(scope)
		if err != nil {
			return nil, err
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		if b.op == "OR" {
			return sq.Expr("1 = 0"), nil
		}
		return sq.Expr("1 = 1"), nil
	}
	if b.op == "OR" {
		return sq.Or(parts), nil
	}
	return sq.And(parts), nil
}

// Not negates a condition.
func Not(cond Condition) Condition { return notCond{cond: cond} }

type notCond struct{ cond Condition }

func (n notCond) Key() string     { return "NOT(" + n.cond.Key() + ")" }
func (n notCond) paths() []string { return n.cond.paths() }

func (n notCond) render(scope *Scope) (sq.Sqlizer, error) {
	inner, err := n.cond.render(scope)
	if err != nil {
		return nil, err
	}
	query, args, err := inner.ToSql()
	if err != nil {
		return nil, err
	}
	return sq.Expr("NOT ("+query+")", args...), nil
}

// Exists matches rows with at least one related row satisfying cond. Cond is
// evaluated relative to the related model and may be nil.
func Exists(relation string, cond Condition) Condition {
	return existsCond{relation: relation, cond: cond, exists: true}
}

// NotExists matches rows with no related row satisfying cond.
func NotExists(relation string, cond Condition) Condition {
	return existsCond{relation: relation, cond: cond, exists: false}
}

type existsCond struct {
	relation string
	cond     Condition
	exists   bool
}

func (e existsCond) Key() string {
	inner := ""
	if e.cond != nil {
		inner = e.cond.Key()
	}
	if e.exists {
		return "EXISTS " + e.relation + "(" + inner + ")"
	}
	return "NOT EXISTS " + e.relation + "(" + inner + ")"
}

func (e existsCond) paths() []string {
	owner, _ := splitPath(e.relation)
	if owner == "" {
		return nil
	}
	return []string{owner}
}

func (e existsCond) render(scope *Scope) (sq.Sqlizer, error) {
	ownerPath, relName := splitPath(e.relation)
	outerAlias, owner, err := scope.Relation(ownerPath)
	if err != nil {
		return nil, err
	}
	rel, target, err := scope.Registry().Target(owner, relName)
	if err != nil {
		return nil, err
	}
	d := scope.Dialect()
	remoteAlias := scope.NextAlias("e")

	builder := sq.Select("1").From(d.Quote(target.Table) + " AS " + d.Quote(remoteAlias))
	if rel.Kind == model.ManyToMany {
		jAlias := scope.NextAlias("m")
		on := make([]string, len(rel.RemoteColumns))
		for i, col := range rel.RemoteColumns {
			on[i] = d.Column(jAlias, rel.Junction.RemoteColumns[i]) + " = " + d.Column(remoteAlias, col)
		}
		builder = builder.Join(d.Quote(rel.Junction.Table) + " AS " + d.Quote(jAlias) + " ON " + strings.Join(on, " AND "))
		for i, col := range rel.LocalColumns {
			builder = builder.Where(d.Column(jAlias, rel.Junction.LocalColumns[i]) + " = " + d.Column(outerAlias, col))
		}
	} else {
		for i, col := range rel.RemoteColumns {
			builder = builder.Where(d.Column(remoteAlias, col) + " = " + d.Column(outerAlias, rel.LocalColumns[i]))
		}
	}
	if e.cond != nil {
		nested, err := e.cond.render(scope.sub(target, remoteAlias))
		if err != nil {
			return nil, err
		}
		builder = builder.Where(nested)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	prefix := "EXISTS"
	if !e.exists {
		prefix = "NOT EXISTS"
	}
	return sq.Expr(prefix+" ("+query+")", args...), nil
}

// keyCondition matches rows whose key columns equal one of the key tuples.
// Columns are pre-qualified SQL references.
type keyCondition struct {
	columns []string
	keys    [][]any
}

func (k keyCondition) ToSql() (string, []any, error) {
	if len(k.keys) == 0 {
		return "1 = 0", nil, nil
	}
	if len(k.columns) == 1 {
		values := make([]any, len(k.keys))
		for i, key := range k.keys {
			values[i] = key[0]
		}
		return sq.Eq{k.columns[0]: values}.ToSql()
	}
	or := make(sq.Or, 0, len(k.keys))
	for _, key := range k.keys {
		and := make(sq.And, len(k.columns))
		for i, col := range k.columns {
			and[i] = sq.Eq{col: key[i]}
		}
		or = append(or, and)
	}
	return or.ToSql()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
