package planner

import (
	"fmt"
	"sort"
	"strings"

	"gqlorm/internal/model"
	"gqlorm/internal/queryset"
)

// ParseOrderBy validates and parses the orderBy argument. It accepts a single
// {field: ASC|DESC} object or a list of them, applied in order.
func ParseOrderBy(m *model.Model, args map[string]any) ([]queryset.OrderExpr, error) {
	raw, ok := args["orderBy"]
	if !ok || raw == nil {
		return nil, nil
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	default:
		return nil, fmt.Errorf("orderBy must be an input object or a list of them")
	}

	var order []queryset.OrderExpr
	seen := map[string]bool{}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("orderBy items must be input objects")
		}
		if len(obj) == 0 {
			continue
		}
		if len(obj) != 1 {
			return nil, fmt.Errorf("orderBy items must contain a single field")
		}
		for fieldName, dirValue := range obj {
			if _, ok := m.Field(fieldName); !ok {
				return nil, fmt.Errorf("orderBy field %s does not exist on %s", fieldName, m.Name)
			}
			direction, ok := dirValue.(string)
			if !ok {
				return nil, fmt.Errorf("orderBy direction must be ASC or DESC")
			}
			direction = strings.ToUpper(direction)
			if direction != "ASC" && direction != "DESC" {
				return nil, fmt.Errorf("orderBy direction must be ASC or DESC")
			}
			if seen[fieldName] {
				return nil, fmt.Errorf("orderBy field %s is repeated", fieldName)
			}
			seen[fieldName] = true
			order = append(order, queryset.OrderExpr{Path: fieldName, Desc: direction == "DESC"})
		}
	}
	return order, nil
}

// OrderByKey returns a stable identity for an ordering, used to bind cursors
// to the ordering they were issued under.
func OrderByKey(order []queryset.OrderExpr) string {
	parts := make([]string, len(order))
	for i, o := range order {
		parts[i] = o.String()
	}
	return strings.Join(parts, ",")
}

// OrderableFields lists the fields that may appear in orderBy, sorted.
func OrderableFields(m *model.Model) []string {
	var names []string
	for _, f := range m.Fields {
		if f.Type == model.TypeJSON {
			continue
		}
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}
