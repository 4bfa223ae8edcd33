package resolver

import (
	"github.com/graphql-go/graphql"

	"gqlorm/internal/cursor"
	"gqlorm/internal/model"
	"gqlorm/internal/planner"
	"gqlorm/internal/queryset"
)

// connectionResult holds one fetched page of a connection field.
type connectionResult struct {
	typeName string
	orderKey string
	page     *queryset.Page
}

func newConnectionResult(m *model.Model, args map[string]interface{}, page *queryset.Page) (*connectionResult, error) {
	order, err := planner.ParseOrderBy(m, args)
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = &queryset.Page{}
	}
	return &connectionResult{typeName: m.Name, orderKey: planner.OrderByKey(order), page: page}, nil
}

func (cr *connectionResult) cursorAt(i int) string {
	return cursor.EncodeCursor(cr.typeName, cr.orderKey, cr.page.Offset+uint64(i))
}

func (cr *connectionResult) edges() []map[string]interface{} {
	edges := make([]map[string]interface{}, len(cr.page.Rows))
	for i, row := range cr.page.Rows {
		edges[i] = map[string]interface{}{
			"cursor": cr.cursorAt(i),
			"node":   row,
		}
	}
	return edges
}

func (cr *connectionResult) pageInfo() map[string]interface{} {
	info := map[string]interface{}{
		"hasNextPage":     cr.page.Offset+uint64(len(cr.page.Rows)) < uint64(cr.page.Total),
		"hasPreviousPage": cr.page.Offset > 0,
		"startCursor":     nil,
		"endCursor":       nil,
	}
	if n := len(cr.page.Rows); n > 0 {
		info["startCursor"] = cr.cursorAt(0)
		info["endCursor"] = cr.cursorAt(n - 1)
	}
	return info
}

// connectionType builds "<Type>Connection" with edges, nodes, pageInfo and
// totalCount.
func (r *Resolver) connectionType(typeName string) *graphql.Object {
	if cached, ok := r.connections[typeName]; ok {
		return cached
	}
	node := r.outputType(typeName)
	edge := r.edgeType(typeName, node)
	conn := graphql.NewObject(graphql.ObjectConfig{
		Name: typeName + "Connection",
		Fields: graphql.Fields{
			"edges": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(edge))),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					cr, ok := p.Source.(*connectionResult)
					if !ok {
						return nil, nil
					}
					return cr.edges(), nil
				},
			},
			"nodes": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(node))),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					cr, ok := p.Source.(*connectionResult)
					if !ok {
						return nil, nil
					}
					return cr.page.Rows, nil
				},
			},
			"pageInfo": &graphql.Field{
				Type: graphql.NewNonNull(r.pageInfoType()),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					cr, ok := p.Source.(*connectionResult)
					if !ok {
						return nil, nil
					}
					return cr.pageInfo(), nil
				},
			},
			"totalCount": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					cr, ok := p.Source.(*connectionResult)
					if !ok {
						return nil, nil
					}
					return cr.page.Total, nil
				},
			},
		},
	})
	r.connections[typeName] = conn
	return conn
}

func (r *Resolver) edgeType(typeName string, node graphql.Output) *graphql.Object {
	if cached, ok := r.edges[typeName]; ok {
		return cached
	}
	edge := graphql.NewObject(graphql.ObjectConfig{
		Name: typeName + "Edge",
		Fields: graphql.Fields{
			"cursor": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"node":   &graphql.Field{Type: graphql.NewNonNull(node)},
		},
	})
	r.edges[typeName] = edge
	return edge
}

func (r *Resolver) pageInfoType() *graphql.Object {
	if r.pageInfo != nil {
		return r.pageInfo
	}
	r.pageInfo = graphql.NewObject(graphql.ObjectConfig{
		Name: "PageInfo",
		Fields: graphql.Fields{
			"hasNextPage":     &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"hasPreviousPage": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"startCursor":     &graphql.Field{Type: graphql.String},
			"endCursor":       &graphql.Field{Type: graphql.String},
		},
	})
	return r.pageInfo
}
