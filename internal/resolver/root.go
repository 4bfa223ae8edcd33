package resolver

import (
	"context"

	"github.com/graphql-go/graphql"
	"go.opentelemetry.io/otel/attribute"

	"gqlorm/internal/optimizer"
	"gqlorm/internal/queryset"
)

// addRootQueries adds "<models>", "<model>" and "<models>Connection" for t.
func (r *Resolver) addRootQueries(fields graphql.Fields, t *optimizer.TypeMeta) {
	item := r.outputType(t.Name)
	listName := r.namer.ListFieldName(t.Name)
	singleName := r.namer.SingleFieldName(t.Name)
	connectionName := listName + "Connection"

	list := r.rootField(listName, t, false)
	fields[listName] = &graphql.Field{
		Type:    graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(item))),
		Args:    r.listArgs(t.Model),
		Resolve: r.makeListResolver(t, list),
	}

	conn := r.rootField(connectionName, t, true)
	fields[connectionName] = &graphql.Field{
		Type:    graphql.NewNonNull(r.connectionType(t.Name)),
		Args:    r.connectionArgs(t.Model),
		Resolve: r.makeListResolver(t, conn),
	}

	if len(t.Model.PrimaryKey()) > 0 && singleName != listName {
		single := r.rootField(singleName, t, false)
		fields[singleName] = &graphql.Field{
			Type:    item,
			Args:    r.primaryKeyArgs(t),
			Resolve: r.makeSingleRowResolver(t, single),
		}
	}
}

func (r *Resolver) rootField(name string, t *optimizer.TypeMeta, connection bool) *optimizer.FieldMeta {
	return &optimizer.FieldMeta{
		Name:       name,
		Kind:       optimizer.RelationField,
		Target:     t.Name,
		Connection: connection,
		Hints:      r.fieldHints(QueryTypeName, name),
	}
}

func (r *Resolver) primaryKeyArgs(t *optimizer.TypeMeta) graphql.FieldConfigArgument {
	args := graphql.FieldConfigArgument{}
	for _, f := range t.Model.PrimaryKey() {
		args[f.Name] = &graphql.ArgumentConfig{Type: graphql.NewNonNull(r.scalarInput(f.Type))}
	}
	return args
}

func (r *Resolver) makeListResolver(t *optimizer.TypeMeta, root *optimizer.FieldMeta) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (result interface{}, err error) {
		ctx, span := startResolverSpan(p.Context, "graphql.resolve.root",
			attribute.String("graphql.type", t.Name),
			attribute.String("graphql.field", root.Name),
		)
		defer func() { finishResolverSpan(span, err, "") }()

		if err := r.authorize(ctx, QueryTypeName, root.Name, nil); err != nil {
			return nil, err
		}
		base, err := r.schema.BaseQuerySet(t.Name)
		if err != nil {
			return nil, err
		}
		qs, err := r.planner.Apply(base, p.Args, root.Connection)
		if err != nil {
			return nil, err
		}
		page, err := r.fetch(ctx, p, t, root, qs)
		if err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.Int("graphql.rows", len(page.Rows)))
		if root.Connection {
			return newConnectionResult(t.Model, p.Args, page)
		}
		return page.Rows, nil
	}
}

func (r *Resolver) makeSingleRowResolver(t *optimizer.TypeMeta, root *optimizer.FieldMeta) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (result interface{}, err error) {
		ctx, span := startResolverSpan(p.Context, "graphql.resolve.root",
			attribute.String("graphql.type", t.Name),
			attribute.String("graphql.field", root.Name),
		)
		defer func() { finishResolverSpan(span, err, "") }()

		if err := r.authorize(ctx, QueryTypeName, root.Name, nil); err != nil {
			return nil, err
		}
		return r.fetchByPK(ctx, p, t, root, primaryKeyFromArgs(t.Model, p.Args))
	}
}

// fetchByPK loads one row through the optimizer. A missing row is nil.
func (r *Resolver) fetchByPK(ctx context.Context, p graphql.ResolveParams, t *optimizer.TypeMeta, root *optimizer.FieldMeta, pk []any) (interface{}, error) {
	base, err := r.schema.BaseQuerySet(t.Name)
	if err != nil {
		return nil, err
	}
	for i, f := range t.Model.PrimaryKey() {
		base = base.Filter(queryset.Eq(f.Name, pk[i]))
	}
	page, err := r.fetch(ctx, p, t, root, base)
	if err != nil {
		return nil, err
	}
	if len(page.Rows) == 0 {
		return nil, nil
	}
	return page.Rows[0], nil
}

// fetch hands qs to the optimizer for the field's selection and evaluates
// the result.
func (r *Resolver) fetch(ctx context.Context, p graphql.ResolveParams, t *optimizer.TypeMeta, root *optimizer.FieldMeta, qs queryset.QuerySet) (*queryset.Page, error) {
	p.Context = ctx
	ec := optimizer.NewExecutionContext(p, qs)
	if err := r.optimizer.OnBeforeResolve(optimizer.RootField{TypeName: t.Name, Field: root}, ec); err != nil {
		return nil, err
	}
	page, err := ec.QuerySet.Fetch(ctx, r.sessionFor(ctx))
	if err != nil {
		return nil, normalizeQueryError(err)
	}
	return page, nil
}
