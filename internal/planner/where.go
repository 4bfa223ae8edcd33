package planner

import (
	"fmt"
	"sort"

	"gqlorm/internal/model"
	"gqlorm/internal/queryset"
)

var columnOps = map[string]queryset.Op{
	"eq":      queryset.OpEq,
	"ne":      queryset.OpNe,
	"lt":      queryset.OpLt,
	"lte":     queryset.OpLte,
	"gt":      queryset.OpGt,
	"gte":     queryset.OpGte,
	"in":      queryset.OpIn,
	"notIn":   queryset.OpNotIn,
	"like":    queryset.OpLike,
	"notLike": queryset.OpNotLike,
	"isNull":  queryset.OpIsNull,
}

// ColumnOperators returns the filter operators accepted for a field type.
func ColumnOperators(t model.Type) []string {
	ops := []string{"eq", "ne", "in", "notIn", "isNull"}
	switch t {
	case model.TypeInt, model.TypeFloat, model.TypeTime:
		ops = append(ops, "lt", "lte", "gt", "gte")
	case model.TypeString:
		ops = append(ops, "lt", "lte", "gt", "gte", "like", "notLike")
	}
	return ops
}

// BuildCondition parses a GraphQL where input into a condition on m.
// Keys are field names, relation names or the AND/OR/NOT combinators.
// A nil condition means the input matched everything.
func BuildCondition(reg *model.Registry, m *model.Model, where map[string]any) (queryset.Condition, error) {
	return buildCondition(reg, m, where, "")
}

func buildCondition(reg *model.Registry, m *model.Model, where map[string]any, path string) (queryset.Condition, error) {
	if len(where) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(where))
	for key := range where {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var conditions []queryset.Condition
	for _, key := range keys {
		value := where[key]
		switch key {
		case "AND", "OR":
			items, ok := value.([]any)
			if !ok {
				return nil, fmt.Errorf("%s must be an array", key)
			}
			var nested []queryset.Condition
			for _, item := range items {
				itemMap, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%s array items must be objects", key)
				}
				cond, err := buildCondition(reg, m, itemMap, path)
				if err != nil {
					return nil, err
				}
				if cond != nil {
					nested = append(nested, cond)
				}
			}
			if len(nested) == 0 {
				continue
			}
			if key == "AND" {
				conditions = append(conditions, queryset.And(nested...))
			} else {
				conditions = append(conditions, queryset.Or(nested...))
			}

		case "NOT":
			itemMap, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("NOT must be an object")
			}
			cond, err := buildCondition(reg, m, itemMap, path)
			if err != nil {
				return nil, err
			}
			if cond != nil {
				conditions = append(conditions, queryset.Not(cond))
			}

		default:
			if f, ok := m.Field(key); ok {
				filterMap, ok := value.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("filter for %s must be an object", key)
				}
				colConds, err := buildColumnFilter(f, filterMap)
				if err != nil {
					return nil, err
				}
				conditions = append(conditions, colConds...)
				continue
			}
			rel, ok := m.Relation(key)
			if !ok {
				return nil, fmt.Errorf("unknown column: %s", key)
			}
			relCond, err := buildRelationFilter(reg, m, rel, value, path)
			if err != nil {
				return nil, err
			}
			if relCond != nil {
				conditions = append(conditions, relCond)
			}
		}
	}

	switch len(conditions) {
	case 0:
		return nil, nil
	case 1:
		return conditions[0], nil
	default:
		return queryset.And(conditions...), nil
	}
}

func buildColumnFilter(f model.Field, filter map[string]any) ([]queryset.Condition, error) {
	allowed := map[string]bool{}
	for _, op := range ColumnOperators(f.Type) {
		allowed[op] = true
	}
	ops := make([]string, 0, len(filter))
	for op := range filter {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	conditions := make([]queryset.Condition, 0, len(ops))
	for _, op := range ops {
		if !allowed[op] {
			return nil, fmt.Errorf("unknown filter operator %s for %s", op, f.Name)
		}
		value := filter[op]
		switch op {
		case "in", "notIn":
			if _, ok := value.([]any); !ok {
				return nil, fmt.Errorf("%s operator requires an array", op)
			}
		case "isNull":
			if _, ok := value.(bool); !ok {
				return nil, fmt.Errorf("isNull must be a boolean")
			}
		}
		conditions = append(conditions, queryset.Cmp(f.Name, columnOps[op], value))
	}
	return conditions, nil
}

func buildRelationFilter(reg *model.Registry, m *model.Model, rel model.Relation, value any, path string) (queryset.Condition, error) {
	filter, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("filter for relationship %s must be an object", rel.Name)
	}
	target, err := reg.Model(rel.Target)
	if err != nil {
		return nil, err
	}
	nestedPath := rel.Name
	if path != "" {
		nestedPath = path + "." + rel.Name
	}
	nested := func(op string) (queryset.Condition, error) {
		raw, ok := filter[op].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("relationship filter %s.%s must be an object", nestedPath, op)
		}
		return buildCondition(reg, target, raw, nestedPath)
	}

	var conditions []queryset.Condition
	if !rel.IsToMany() {
		for op := range filter {
			if op != "is" && op != "isNull" {
				return nil, fmt.Errorf("unknown relationship filter operator: %s", op)
			}
		}
		_, hasIs := filter["is"]
		_, hasIsNull := filter["isNull"]
		if hasIs && hasIsNull {
			return nil, fmt.Errorf("relationship filter %s cannot use both is and isNull", nestedPath)
		}
		if hasIs {
			cond, err := nested("is")
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, queryset.Exists(rel.Name, cond))
		}
		if hasIsNull {
			isNull, ok := filter["isNull"].(bool)
			if !ok {
				return nil, fmt.Errorf("relationship filter %s.isNull must be a boolean", nestedPath)
			}
			if isNull {
				conditions = append(conditions, queryset.NotExists(rel.Name, nil))
			} else {
				conditions = append(conditions, queryset.Exists(rel.Name, nil))
			}
		}
		if len(conditions) == 0 {
			return nil, fmt.Errorf("relationship filter %s must include is or isNull", nestedPath)
		}
	} else {
		for op := range filter {
			if op != "some" && op != "none" {
				return nil, fmt.Errorf("unknown relationship filter operator: %s", op)
			}
		}
		if _, ok := filter["some"]; ok {
			cond, err := nested("some")
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, queryset.Exists(rel.Name, cond))
		}
		if _, ok := filter["none"]; ok {
			cond, err := nested("none")
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, queryset.NotExists(rel.Name, cond))
		}
		if len(conditions) == 0 {
			return nil, fmt.Errorf("relationship filter %s must include some or none", nestedPath)
		}
	}

	if len(conditions) == 1 {
		return conditions[0], nil
	}
	return queryset.And(conditions...), nil
}
