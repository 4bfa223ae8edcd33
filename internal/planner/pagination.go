package planner

import (
	"fmt"

	"gqlorm/internal/cursor"
	"gqlorm/internal/model"
	"gqlorm/internal/queryset"
)

type window struct {
	limit  *uint64
	offset uint64
}

func (p *Planner) parseWindow(m *model.Model, order []queryset.OrderExpr, args map[string]any, connection bool) (window, error) {
	var w window
	limitArg, offsetArg := "limit", "offset"
	if connection {
		limitArg = "first"
	}

	if raw, ok := args[limitArg]; ok && raw != nil {
		n, err := nonNegative(limitArg, raw)
		if err != nil {
			return w, err
		}
		if p.maxLimit > 0 && n > p.maxLimit {
			return w, fmt.Errorf("%s must be at most %d", limitArg, p.maxLimit)
		}
		w.limit = &n
	}

	if connection {
		raw, ok := args["after"]
		if !ok || raw == nil {
			return w, nil
		}
		s, ok := raw.(string)
		if !ok {
			return w, fmt.Errorf("after must be a cursor string")
		}
		c, err := cursor.DecodeCursor(s)
		if err != nil {
			return w, err
		}
		if err := c.Validate(m.Name, OrderByKey(order)); err != nil {
			return w, err
		}
		w.offset = c.Position + 1
		return w, nil
	}

	if raw, ok := args[offsetArg]; ok && raw != nil {
		n, err := nonNegative(offsetArg, raw)
		if err != nil {
			return w, err
		}
		w.offset = n
	}
	return w, nil
}

func nonNegative(name string, raw any) (uint64, error) {
	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("%s must be an integer", name)
		}
		n = int64(v)
	default:
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must be non-negative", name)
	}
	return uint64(n), nil
}
