package resolver

import (
	"context"
	"fmt"

	"github.com/graphql-go/graphql"
	"go.opentelemetry.io/otel/attribute"

	"gqlorm/internal/model"
	"gqlorm/internal/optimizer"
	"gqlorm/internal/planner"
	"gqlorm/internal/sqlutil"
)

// MutationTypeName is the permission type name of root mutation fields.
const MutationTypeName = "Mutation"

// addMutations adds create, update and delete fields for t. Polymorphic
// models and models without a primary key are read-only.
func (r *Resolver) addMutations(fields graphql.Fields, t *optimizer.TypeMeta) {
	m := t.Model
	if t.IsPolymorphic() || m.Polymorphism != nil || len(m.PrimaryKey()) == 0 {
		return
	}
	if r.mutations != nil && !r.mutations.TableAllowed(m.Table) {
		return
	}
	obj := r.objectType(t)

	createName := "create" + t.Name
	fields[createName] = &graphql.Field{
		Type: obj,
		Args: graphql.FieldConfigArgument{
			"input": &graphql.ArgumentConfig{Type: graphql.NewNonNull(r.createInputType(m))},
		},
		Resolve: r.makeCreateResolver(t, r.rootField(createName, t, false)),
	}

	if len(r.updatableFields(m)) > 0 {
		updateName := "update" + t.Name
		args := r.primaryKeyArgs(t)
		args["set"] = &graphql.ArgumentConfig{Type: graphql.NewNonNull(r.updateInputType(m))}
		fields[updateName] = &graphql.Field{
			Type:    obj,
			Args:    args,
			Resolve: r.makeUpdateResolver(t, r.rootField(updateName, t, false)),
		}
	}

	deleteName := "delete" + t.Name
	fields[deleteName] = &graphql.Field{
		Type:    graphql.NewNonNull(graphql.Boolean),
		Args:    r.primaryKeyArgs(t),
		Resolve: r.makeDeleteResolver(t, r.rootField(deleteName, t, false)),
	}
}

func (r *Resolver) updatableFields(m *model.Model) []model.Field {
	var out []model.Field
	for _, f := range m.Fields {
		if !f.PrimaryKey && r.writable(m, f) {
			out = append(out, f)
		}
	}
	return out
}

func (r *Resolver) writable(m *model.Model, f model.Field) bool {
	return r.mutations == nil || r.mutations.ColumnAllowed(m.Table, f.Column)
}

// createInputType requires every non-nullable column except the primary key,
// which the database may generate.
func (r *Resolver) createInputType(m *model.Model) *graphql.InputObject {
	if cached, ok := r.createInputs[m.Name]; ok {
		return cached
	}
	fields := graphql.InputObjectConfigFieldMap{}
	for _, f := range m.Fields {
		if !f.PrimaryKey && !r.writable(m, f) {
			continue
		}
		var typ graphql.Input = r.scalarInput(f.Type)
		if !f.Nullable && !f.PrimaryKey {
			typ = graphql.NewNonNull(typ)
		}
		fields[f.Name] = &graphql.InputObjectFieldConfig{Type: typ}
	}
	input := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   m.Name + "CreateInput",
		Fields: fields,
	})
	r.createInputs[m.Name] = input
	return input
}

func (r *Resolver) updateInputType(m *model.Model) *graphql.InputObject {
	if cached, ok := r.updateInputs[m.Name]; ok {
		return cached
	}
	fields := graphql.InputObjectConfigFieldMap{}
	for _, f := range r.updatableFields(m) {
		fields[f.Name] = &graphql.InputObjectFieldConfig{Type: r.scalarInput(f.Type)}
	}
	input := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   m.Name + "UpdateInput",
		Fields: fields,
	})
	r.updateInputs[m.Name] = input
	return input
}

// makeCreateResolver inserts a row with optimization bypassed, then reads it
// back through the optimizer for the mutation's selection.
func (r *Resolver) makeCreateResolver(t *optimizer.TypeMeta, root *optimizer.FieldMeta) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (result interface{}, err error) {
		ctx, span := startResolverSpan(p.Context, "graphql.mutation.create", attribute.String("graphql.type", t.Name))
		outcome := ""
		defer func() {
			markMutationFailed(ctx, err)
			finishResolverSpan(span, err, outcome)
		}()

		if err := r.authorize(ctx, MutationTypeName, root.Name, nil); err != nil {
			return nil, err
		}
		input, _ := p.Args["input"].(map[string]interface{})
		pk, err := r.insert(optimizer.WithoutOptimization(ctx), t.Model, input)
		if err != nil {
			return nil, normalizeMutationError(err)
		}
		outcome = "created"
		return r.fetchByPK(ctx, p, t, root, pk)
	}
}

func (r *Resolver) makeUpdateResolver(t *optimizer.TypeMeta, root *optimizer.FieldMeta) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (result interface{}, err error) {
		ctx, span := startResolverSpan(p.Context, "graphql.mutation.update", attribute.String("graphql.type", t.Name))
		outcome := ""
		defer func() {
			markMutationFailed(ctx, err)
			finishResolverSpan(span, err, outcome)
		}()

		if err := r.authorize(ctx, MutationTypeName, root.Name, nil); err != nil {
			return nil, err
		}
		pk := primaryKeyFromArgs(t.Model, p.Args)
		writeCtx := optimizer.WithoutOptimization(ctx)

		// Rows hidden by the type's base filter cannot be updated.
		existing, err := r.fetchByPK(writeCtx, p, t, root, pk)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			outcome = "not_found"
			return nil, nil
		}

		set, _ := p.Args["set"].(map[string]interface{})
		plan, err := planner.PlanUpdate(r.dialect, t.Model, set, pk)
		if err != nil {
			return nil, err
		}
		if _, err := r.sessionFor(writeCtx).Executor().ExecContext(writeCtx, plan.SQL, plan.Args...); err != nil {
			return nil, normalizeMutationError(err)
		}
		outcome = "updated"
		return r.fetchByPK(ctx, p, t, root, pk)
	}
}

func (r *Resolver) makeDeleteResolver(t *optimizer.TypeMeta, root *optimizer.FieldMeta) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (result interface{}, err error) {
		ctx, span := startResolverSpan(p.Context, "graphql.mutation.delete", attribute.String("graphql.type", t.Name))
		outcome := ""
		defer func() {
			markMutationFailed(ctx, err)
			finishResolverSpan(span, err, outcome)
		}()

		if err := r.authorize(ctx, MutationTypeName, root.Name, nil); err != nil {
			return nil, err
		}
		pk := primaryKeyFromArgs(t.Model, p.Args)
		writeCtx := optimizer.WithoutOptimization(ctx)

		// Rows hidden by the type's base filter cannot be deleted.
		existing, err := r.fetchByPK(writeCtx, p, t, root, pk)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			outcome = "not_found"
			return false, nil
		}

		plan, err := planner.PlanDelete(r.dialect, t.Model, pk)
		if err != nil {
			return nil, err
		}
		res, err := r.sessionFor(writeCtx).Executor().ExecContext(writeCtx, plan.SQL, plan.Args...)
		if err != nil {
			return nil, normalizeMutationError(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			outcome = "not_found"
			return false, nil
		}
		outcome = "deleted"
		return true, nil
	}
}

// insert runs the INSERT and returns the new row's primary key: the supplied
// values, RETURNING under Postgres, or the driver's last insert id.
func (r *Resolver) insert(ctx context.Context, m *model.Model, values map[string]interface{}) ([]any, error) {
	plan, err := planner.PlanInsert(r.dialect, m, values)
	if err != nil {
		return nil, err
	}
	exec := r.sessionFor(ctx).Executor()
	pkFields := m.PrimaryKey()

	if r.dialect.Name == sqlutil.Postgres.Name {
		rows, err := exec.QueryContext(ctx, plan.SQL, plan.Args...)
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("insert into %s returned no primary key", m.Name)
		}
		pk := make([]any, len(pkFields))
		ptrs := make([]any, len(pkFields))
		for i := range pk {
			ptrs[i] = &pk[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		return pk, rows.Err()
	}

	res, err := exec.ExecContext(ctx, plan.SQL, plan.Args...)
	if err != nil {
		return nil, err
	}
	if pk, ok := suppliedPrimaryKey(m, values); ok {
		return pk, nil
	}
	if len(pkFields) != 1 {
		return nil, fmt.Errorf("cannot determine the primary key of the new %s row", m.Name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return []any{id}, nil
}

func suppliedPrimaryKey(m *model.Model, values map[string]interface{}) ([]any, bool) {
	fields := m.PrimaryKey()
	pk := make([]any, len(fields))
	for i, f := range fields {
		v, ok := values[f.Name]
		if !ok || v == nil {
			return nil, false
		}
		pk[i] = v
	}
	return pk, true
}

func primaryKeyFromArgs(m *model.Model, args map[string]interface{}) []any {
	fields := m.PrimaryKey()
	pk := make([]any, len(fields))
	for i, f := range fields {
		pk[i] = args[f.Name]
	}
	return pk
}
