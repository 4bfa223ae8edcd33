package resolver

import (
	"github.com/graphql-go/graphql"
	"go.opentelemetry.io/otel/attribute"

	"gqlorm/internal/model"
	"gqlorm/internal/optimizer"
	"gqlorm/internal/queryset"
	"gqlorm/internal/scalars"
)

// outputType returns the interface type of a polymorphic model and the
// object type otherwise.
func (r *Resolver) outputType(typeName string) graphql.Output {
	t, ok := r.schema.Type(typeName)
	if !ok {
		return graphql.String
	}
	if t.IsPolymorphic() {
		return r.interfaceType(t)
	}
	return r.objectType(t)
}

func (r *Resolver) objectType(t *optimizer.TypeMeta) *graphql.Object {
	if cached, ok := r.objects[t.Name]; ok {
		return cached
	}
	var interfaces []*graphql.Interface
	for _, name := range t.Interfaces {
		if it, ok := r.schema.Type(name); ok {
			interfaces = append(interfaces, r.interfaceType(it))
		}
	}
	obj := graphql.NewObject(graphql.ObjectConfig{
		Name:       t.Name,
		Interfaces: interfaces,
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			return r.buildFields(t)
		}),
	})
	r.objects[t.Name] = obj
	return obj
}

func (r *Resolver) interfaceType(t *optimizer.TypeMeta) *graphql.Interface {
	if cached, ok := r.interfaces[t.Name]; ok {
		return cached
	}
	iface := graphql.NewInterface(graphql.InterfaceConfig{
		Name: t.Name,
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			return r.buildFields(t)
		}),
		ResolveType: func(p graphql.ResolveTypeParams) *graphql.Object {
			row, ok := p.Value.(*queryset.Row)
			if !ok || row == nil {
				return nil
			}
			st, ok := r.schema.Type(row.TypeName())
			if !ok || st.IsPolymorphic() {
				return nil
			}
			return r.objectType(st)
		},
	})
	r.interfaces[t.Name] = iface
	return iface
}

// buildFields creates the GraphQL fields of a type from its field metadata.
func (r *Resolver) buildFields(t *optimizer.TypeMeta) graphql.Fields {
	fields := graphql.Fields{}
	for _, f := range t.Fields() {
		switch f.Kind {
		case optimizer.ColumnField:
			mf, ok := lookupModelField(t, f.Column)
			if !ok {
				continue
			}
			fields[f.Name] = &graphql.Field{
				Type:    r.columnOutputType(mf),
				Resolve: r.makeColumnResolver(t, f),
			}
		case optimizer.RelationField:
			if field := r.relationField(t, f); field != nil {
				fields[f.Name] = field
			}
		case optimizer.ComputedField:
			def, ok := r.computed[t.Name+"."+f.Name]
			if !ok {
				continue
			}
			var typ graphql.Output = scalarOutput(def.valueType)
			if def.nonNull {
				typ = graphql.NewNonNull(typ)
			}
			fields[f.Name] = &graphql.Field{
				Type:    typ,
				Resolve: r.makeComputedResolver(t, f, def),
			}
		}
	}
	return fields
}

func (r *Resolver) relationField(t *optimizer.TypeMeta, f *optimizer.FieldMeta) *graphql.Field {
	rel, target, err := r.registry.Target(t.Model, f.Relation)
	if err != nil {
		return nil
	}
	item := r.outputType(f.Target)
	resolve := r.makeRelationResolver(t, f)
	switch {
	case f.Connection:
		return &graphql.Field{
			Type:    graphql.NewNonNull(r.connectionType(f.Target)),
			Args:    r.connectionArgs(target),
			Resolve: resolve,
		}
	case rel.IsToMany():
		return &graphql.Field{
			Type:    graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(item))),
			Args:    r.listArgs(target),
			Resolve: resolve,
		}
	default:
		return &graphql.Field{Type: item, Resolve: resolve}
	}
}

func (r *Resolver) columnOutputType(f model.Field) graphql.Output {
	out := scalarOutput(f.Type)
	if f.Nullable {
		return out
	}
	return graphql.NewNonNull(out)
}

// scalarOutput maps a model type to a GraphQL scalar.
func scalarOutput(t model.Type) *graphql.Scalar {
	switch t {
	case model.TypeTime:
		return scalars.DateTime()
	case model.TypeJSON:
		return scalars.JSON()
	case model.TypeInt:
		return graphql.Int
	case model.TypeFloat:
		return graphql.Float
	case model.TypeBool:
		return graphql.Boolean
	default:
		return graphql.String
	}
}

// lookupModelField finds a column field on the model or on the type's subtype.
func lookupModelField(t *optimizer.TypeMeta, name string) (model.Field, bool) {
	if f, ok := t.Model.Field(name); ok {
		return f, true
	}
	if t.Subtype == "" || t.Model.Polymorphism == nil {
		return model.Field{}, false
	}
	st, ok := t.Model.Polymorphism.Subtype(t.Subtype)
	if !ok {
		return model.Field{}, false
	}
	return st.Field(name)
}

func (r *Resolver) makeColumnResolver(t *optimizer.TypeMeta, f *optimizer.FieldMeta) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		row, ok := p.Source.(*queryset.Row)
		if !ok || row == nil {
			return nil, nil
		}
		if err := r.authorize(p.Context, t.Name, f.Name, row); err != nil {
			return nil, err
		}
		v, err := row.Value(p.Context, f.Column)
		if err != nil {
			return nil, normalizeQueryError(err)
		}
		return v, nil
	}
}

func (r *Resolver) makeComputedResolver(t *optimizer.TypeMeta, f *optimizer.FieldMeta, def computedField) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		row, ok := p.Source.(*queryset.Row)
		if !ok || row == nil {
			return nil, nil
		}
		if err := r.authorize(p.Context, t.Name, f.Name, row); err != nil {
			return nil, err
		}
		v, err := def.resolve(p.Context, row)
		if err != nil {
			return nil, normalizeQueryError(err)
		}
		return v, nil
	}
}

// makeRelationResolver serves a relation from the row's join and prefetch
// caches, falling back to loading it for this row alone.
func (r *Resolver) makeRelationResolver(t *optimizer.TypeMeta, f *optimizer.FieldMeta) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (result interface{}, err error) {
		row, ok := p.Source.(*queryset.Row)
		if !ok || row == nil {
			return nil, nil
		}
		if err := r.authorize(p.Context, t.Name, f.Name, row); err != nil {
			return nil, err
		}
		rel, target, err := r.registry.Target(row.Model(), f.Relation)
		if err != nil {
			return nil, err
		}

		if !rel.IsToMany() {
			base, err := r.schema.BaseQuerySet(f.Target)
			if err != nil {
				return nil, err
			}
			related, err := row.RelatedFrom(p.Context, rel.Name, &base)
			if err != nil {
				return nil, normalizeQueryError(err)
			}
			if related == nil {
				return nil, nil
			}
			return related, nil
		}

		key := optimizer.PrefetchKey(rel.Name, optimizer.FieldArguments(p.Info.FieldASTs, p.Info.VariableValues), f.Connection)
		page, cached := row.Prefetched(key)
		if !cached {
			ctx, span := startResolverSpan(p.Context, "graphql.resolve.relation",
				attribute.String("graphql.type", t.Name),
				attribute.String("graphql.field", f.Name),
			)
			defer func() { finishResolverSpan(span, err, "") }()

			base, err := r.schema.BaseQuerySet(f.Target)
			if err != nil {
				return nil, err
			}
			qs, err := r.planner.Apply(base, p.Args, f.Connection)
			if err != nil {
				return nil, err
			}
			page, err = row.Children(ctx, key, rel.Name, qs)
			if err != nil {
				return nil, normalizeQueryError(err)
			}
		}
		if f.Connection {
			return newConnectionResult(target, p.Args, page)
		}
		return page.Rows, nil
	}
}
