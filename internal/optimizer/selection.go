package optimizer

import (
	"strconv"

	"github.com/graphql-go/graphql/language/ast"
)

// Selection is one field of a parsed selection set with fragments expanded
// and directives applied.
type Selection struct {
	Name  string
	Alias string
	Args  map[string]any
	// TypeCondition is the innermost fragment type condition the field was
	// selected under, empty when it was selected directly.
	TypeCondition string
	Children      []*Selection
}

// ResponseKey is the alias, or the field name when unaliased.
func (s *Selection) ResponseKey() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Name
}

// CollectSelections returns the merged child selections of fields. Named
// fragments are expanded once per path, so cyclic fragment spreads terminate.
func CollectSelections(fields []*ast.Field, fragments map[string]ast.Definition, vars map[string]any) []*Selection {
	c := &collector{fragments: fragments, vars: vars, inFlight: map[string]bool{}}
	var out []*Selection
	for _, f := range fields {
		if f == nil || f.SelectionSet == nil {
			continue
		}
		out = append(out, c.collect(f.SelectionSet, "")...)
	}
	return out
}

// FieldArguments evaluates the arguments of the first field AST, resolving
// variables the same way the walker does.
func FieldArguments(fields []*ast.Field, vars map[string]any) map[string]any {
	if len(fields) == 0 || fields[0] == nil {
		return nil
	}
	c := &collector{vars: vars}
	return c.arguments(fields[0].Arguments)
}

// UnwrapConnection returns the node selections of a connection field:
// the children of edges.node and of nodes. Page info, totals and cursors
// carry no model fields.
func UnwrapConnection(sels []*Selection) []*Selection {
	var out []*Selection
	for _, s := range sels {
		switch s.Name {
		case "edges":
			for _, edge := range s.Children {
				if edge.Name == "node" {
					out = append(out, edge.Children...)
				}
			}
		case "nodes":
			out = append(out, s.Children...)
		}
	}
	return out
}

type collector struct {
	fragments map[string]ast.Definition
	vars      map[string]any
	inFlight  map[string]bool
}

func (c *collector) collect(set *ast.SelectionSet, typeCondition string) []*Selection {
	if set == nil {
		return nil
	}
	var out []*Selection
	for _, sel := range set.Selections {
		switch node := sel.(type) {
		case *ast.Field:
			if !c.included(node.Directives) {
				continue
			}
			s := &Selection{
				Name:          node.Name.Value,
				Args:          c.arguments(node.Arguments),
				TypeCondition: typeCondition,
			}
			if node.Alias != nil {
				s.Alias = node.Alias.Value
			}
			if node.SelectionSet != nil {
				s.Children = c.collect(node.SelectionSet, "")
			}
			out = append(out, s)
		case *ast.InlineFragment:
			if !c.included(node.Directives) {
				continue
			}
			cond := typeCondition
			if node.TypeCondition != nil && node.TypeCondition.Name != nil {
				cond = node.TypeCondition.Name.Value
			}
			out = append(out, c.collect(node.SelectionSet, cond)...)
		case *ast.FragmentSpread:
			if !c.included(node.Directives) || node.Name == nil {
				continue
			}
			name := node.Name.Value
			if c.inFlight[name] {
				continue
			}
			def, ok := c.fragments[name].(*ast.FragmentDefinition)
			if !ok {
				continue
			}
			cond := typeCondition
			if def.TypeCondition != nil && def.TypeCondition.Name != nil {
				cond = def.TypeCondition.Name.Value
			}
			c.inFlight[name] = true
			out = append(out, c.collect(def.SelectionSet, cond)...)
			delete(c.inFlight, name)
		}
	}
	return out
}

// included applies @skip and @include.
func (c *collector) included(directives []*ast.Directive) bool {
	for _, d := range directives {
		if d == nil || d.Name == nil {
			continue
		}
		var cond bool
		found := false
		for _, arg := range d.Arguments {
			if arg.Name != nil && arg.Name.Value == "if" {
				cond, found = c.value(arg.Value).(bool)
			}
		}
		if !found {
			continue
		}
		switch d.Name.Value {
		case "skip":
			if cond {
				return false
			}
		case "include":
			if !cond {
				return false
			}
		}
	}
	return true
}

func (c *collector) arguments(args []*ast.Argument) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, len(args))
	for _, arg := range args {
		if arg == nil || arg.Name == nil {
			continue
		}
		if v, ok := arg.Value.(*ast.Variable); ok {
			if _, set := c.vars[variableName(v)]; !set {
				continue
			}
		}
		out[arg.Name.Value] = c.value(arg.Value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (c *collector) value(v ast.Value) any {
	switch node := v.(type) {
	case *ast.Variable:
		return c.vars[variableName(node)]
	case *ast.IntValue:
		if n, err := strconv.Atoi(node.Value); err == nil {
			return n
		}
		return node.Value
	case *ast.FloatValue:
		if f, err := strconv.ParseFloat(node.Value, 64); err == nil {
			return f
		}
		return node.Value
	case *ast.StringValue:
		return node.Value
	case *ast.BooleanValue:
		return node.Value
	case *ast.EnumValue:
		return node.Value
	case *ast.ListValue:
		out := make([]any, 0, len(node.Values))
		for _, item := range node.Values {
			out = append(out, c.value(item))
		}
		return out
	case *ast.ObjectValue:
		out := make(map[string]any, len(node.Fields))
		for _, f := range node.Fields {
			if f == nil || f.Name == nil {
				continue
			}
			out[f.Name.Value] = c.value(f.Value)
		}
		return out
	default:
		return nil
	}
}

func variableName(v *ast.Variable) string {
	if v.Name == nil {
		return ""
	}
	return v.Name.Value
}
