package resolver

import (
	"math"
	"strconv"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"gqlorm/internal/model"
	"gqlorm/internal/planner"
)

var filterTypeNames = map[model.Type]string{
	model.TypeInt:    "IntFilter",
	model.TypeFloat:  "FloatFilter",
	model.TypeBool:   "BooleanFilter",
	model.TypeString: "StringFilter",
	model.TypeTime:   "TimeFilter",
	model.TypeJSON:   "JSONFilter",
}

// listArgs are the arguments of list fields.
func (r *Resolver) listArgs(m *model.Model) graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		"where":   &graphql.ArgumentConfig{Type: r.whereInput(m)},
		"orderBy": &graphql.ArgumentConfig{Type: graphql.NewList(graphql.NewNonNull(r.orderByInput(m)))},
		"limit":   &graphql.ArgumentConfig{Type: r.nonNegativeIntScalar()},
		"offset":  &graphql.ArgumentConfig{Type: r.nonNegativeIntScalar()},
	}
}

// connectionArgs are the arguments of connection fields.
func (r *Resolver) connectionArgs(m *model.Model) graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		"where":   &graphql.ArgumentConfig{Type: r.whereInput(m)},
		"orderBy": &graphql.ArgumentConfig{Type: graphql.NewList(graphql.NewNonNull(r.orderByInput(m)))},
		"first":   &graphql.ArgumentConfig{Type: r.nonNegativeIntScalar()},
		"after":   &graphql.ArgumentConfig{Type: graphql.String},
	}
}

// whereInput builds "<Model>Where": one filter per field, one relation filter
// per relation and the AND/OR/NOT combinators.
func (r *Resolver) whereInput(m *model.Model) *graphql.InputObject {
	if cached, ok := r.whereInputs[m.Name]; ok {
		return cached
	}
	var input *graphql.InputObject
	input = graphql.NewInputObject(graphql.InputObjectConfig{
		Name: m.Name + "Where",
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			fields := graphql.InputObjectConfigFieldMap{
				"AND": &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(input))},
				"OR":  &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(input))},
				"NOT": &graphql.InputObjectFieldConfig{Type: input},
			}
			for _, f := range m.Fields {
				fields[f.Name] = &graphql.InputObjectFieldConfig{Type: r.filterInput(f.Type)}
			}
			for _, rel := range m.Relations {
				target, err := r.registry.Model(rel.Target)
				if err != nil {
					continue
				}
				fields[rel.Name] = &graphql.InputObjectFieldConfig{Type: r.relationFilterInput(rel, target)}
			}
			return fields
		}),
	})
	r.whereInputs[m.Name] = input
	return input
}

// filterInput builds the column filter for a scalar type with the operators
// the planner accepts for it.
func (r *Resolver) filterInput(t model.Type) *graphql.InputObject {
	if cached, ok := r.filterInputs[t]; ok {
		return cached
	}
	name, ok := filterTypeNames[t]
	if !ok {
		name = "StringFilter"
	}
	value := r.scalarInput(t)
	fields := graphql.InputObjectConfigFieldMap{}
	for _, op := range planner.ColumnOperators(t) {
		switch op {
		case "in", "notIn":
			fields[op] = &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(value))}
		case "isNull":
			fields[op] = &graphql.InputObjectFieldConfig{Type: graphql.Boolean}
		default:
			fields[op] = &graphql.InputObjectFieldConfig{Type: value}
		}
	}
	input := graphql.NewInputObject(graphql.InputObjectConfig{Name: name, Fields: fields})
	r.filterInputs[t] = input
	return input
}

// relationFilterInput filters on a related model: is/isNull for to-one
// relations and some/none for to-many relations.
func (r *Resolver) relationFilterInput(rel model.Relation, target *model.Model) *graphql.InputObject {
	name := target.Name + "RelationFilter"
	if rel.IsToMany() {
		name = target.Name + "ListRelationFilter"
	}
	if cached, ok := r.relationInputs[name]; ok {
		return cached
	}
	toMany := rel.IsToMany()
	input := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: name,
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			where := r.whereInput(target)
			if toMany {
				return graphql.InputObjectConfigFieldMap{
					"some": &graphql.InputObjectFieldConfig{Type: where},
					"none": &graphql.InputObjectFieldConfig{Type: where},
				}
			}
			return graphql.InputObjectConfigFieldMap{
				"is":     &graphql.InputObjectFieldConfig{Type: where},
				"isNull": &graphql.InputObjectFieldConfig{Type: graphql.Boolean},
			}
		}),
	})
	r.relationInputs[name] = input
	return input
}

// orderByInput builds "<Model>OrderBy" with one direction per orderable field.
func (r *Resolver) orderByInput(m *model.Model) *graphql.InputObject {
	if cached, ok := r.orderByInputs[m.Name]; ok {
		return cached
	}
	fields := graphql.InputObjectConfigFieldMap{}
	for _, name := range planner.OrderableFields(m) {
		fields[name] = &graphql.InputObjectFieldConfig{Type: r.orderDirectionEnum()}
	}
	input := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:        m.Name + "OrderBy",
		Description: "Each item orders by exactly one field; items apply in order.",
		Fields:      fields,
	})
	r.orderByInputs[m.Name] = input
	return input
}

func (r *Resolver) orderDirectionEnum() *graphql.Enum {
	if r.orderDirection != nil {
		return r.orderDirection
	}
	r.orderDirection = graphql.NewEnum(graphql.EnumConfig{
		Name: "OrderDirection",
		Values: graphql.EnumValueConfigMap{
			"ASC":  &graphql.EnumValueConfig{Value: "ASC"},
			"DESC": &graphql.EnumValueConfig{Value: "DESC"},
		},
	})
	return r.orderDirection
}

func (r *Resolver) nonNegativeIntScalar() *graphql.Scalar {
	if r.nonNegativeInt != nil {
		return r.nonNegativeInt
	}
	r.nonNegativeInt = graphql.NewScalar(graphql.ScalarConfig{
		Name:        "NonNegativeInt",
		Description: "An integer greater than or equal to zero.",
		Serialize: func(value interface{}) interface{} {
			if parsed, ok := coerceNonNegativeInt(value); ok {
				return parsed
			}
			return nil
		},
		ParseValue: func(value interface{}) interface{} {
			if parsed, ok := coerceNonNegativeInt(value); ok {
				return parsed
			}
			return nil
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			intValue, ok := valueAST.(*ast.IntValue)
			if !ok {
				return nil
			}
			parsed, err := strconv.Atoi(intValue.Value)
			if err != nil || parsed < 0 {
				return nil
			}
			return parsed
		},
	})
	return r.nonNegativeInt
}

func coerceNonNegativeInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, v >= 0
	case int32:
		return int(v), v >= 0
	case int64:
		if v < 0 || v > math.MaxInt32 {
			return 0, false
		}
		return int(v), true
	case float64:
		if v < 0 || v > math.MaxInt32 || v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

// scalarInput maps a model type to a GraphQL input scalar.
func (r *Resolver) scalarInput(t model.Type) graphql.Input {
	return scalarOutput(t)
}
