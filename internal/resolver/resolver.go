// Package resolver builds and executes GraphQL schemas over relational models.
// It generates object and interface types, root queries, mutations and
// relation resolvers from the model registry. Root fields hand their queryset
// to the optimizer before it is evaluated, so nested relations are served from
// joins and prefetches instead of one query per row.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/graphql-go/graphql"

	"gqlorm/internal/dbexec"
	"gqlorm/internal/model"
	"gqlorm/internal/naming"
	"gqlorm/internal/optimizer"
	"gqlorm/internal/planner"
	"gqlorm/internal/queryset"
	"gqlorm/internal/sqlutil"
)

// QueryTypeName is the hint key prefix for root query fields ("Query.issues").
const QueryTypeName = "Query"

// Config describes the schema to build and how to execute it.
type Config struct {
	Registry *model.Registry
	// Executor runs statements when no session is present in the request
	// context.
	Executor dbexec.QueryExecutor
	Dialect  sqlutil.Dialect
	Gate     optimizer.Gate
	Namer    *naming.Namer
	// MaxLimit bounds limit and first arguments. Zero keeps the planner default.
	MaxLimit uint64
	// Hints are declared optimization hints keyed by "Type.field", or by
	// "Type" for hints applied wherever the type is selected.
	Hints map[string]optimizer.FieldHints
	// Computed adds fields resolved from SQL expressions or Go code.
	Computed []ComputedField
	// BaseFilters narrows every queryset of a type with a where-style filter.
	BaseFilters map[string]map[string]any
	// Deferred names "Type.relation" to-one relations always fetched with
	// their own query. Relations into a base-filtered type are deferred
	// regardless.
	Deferred []string
	// Permission is consulted on every field resolution.
	Permission FieldPermission
	// Mutations restricts which tables and columns get write fields. Nil
	// allows all.
	Mutations MutationPolicy

	OptimizerOptions []optimizer.Option
	SessionOptions   []queryset.SessionOption
}

// Resolver owns the derived GraphQL schema and the optimizer wired to it.
type Resolver struct {
	registry   *model.Registry
	schema     *optimizer.Schema
	optimizer  *optimizer.Optimizer
	planner    *planner.Planner
	executor   dbexec.QueryExecutor
	dialect    sqlutil.Dialect
	namer      *naming.Namer
	permission FieldPermission
	mutations  MutationPolicy
	hints      map[string]optimizer.FieldHints
	computed   map[string]computedField
	session    *queryset.Session

	objects        map[string]*graphql.Object
	interfaces     map[string]*graphql.Interface
	connections    map[string]*graphql.Object
	edges          map[string]*graphql.Object
	whereInputs    map[string]*graphql.InputObject
	filterInputs   map[model.Type]*graphql.InputObject
	relationInputs map[string]*graphql.InputObject
	orderByInputs  map[string]*graphql.InputObject
	createInputs   map[string]*graphql.InputObject
	updateInputs   map[string]*graphql.InputObject
	orderDirection *graphql.Enum
	nonNegativeInt *graphql.Scalar
	pageInfo       *graphql.Object
}

// New derives the optimizer schema from cfg.Registry, applies the declared
// hints and computed fields and wires an optimizer to it.
func New(cfg Config) (*Resolver, error) {
	if cfg.Registry == nil {
		return nil, errors.New("resolver: model registry is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("resolver: executor is required")
	}
	namer := cfg.Namer
	if namer == nil {
		namer = naming.Default()
	}
	var plannerOpts []planner.Option
	if cfg.MaxLimit > 0 {
		plannerOpts = append(plannerOpts, planner.WithMaxLimit(cfg.MaxLimit))
	}

	r := &Resolver{
		registry:       cfg.Registry,
		planner:        planner.New(cfg.Registry, plannerOpts...),
		executor:       cfg.Executor,
		dialect:        cfg.Dialect,
		namer:          namer,
		permission:     cfg.Permission,
		mutations:      cfg.Mutations,
		hints:          cfg.Hints,
		computed:       map[string]computedField{},
		session:        queryset.NewSession(cfg.Executor, cfg.Dialect, cfg.SessionOptions...),
		objects:        map[string]*graphql.Object{},
		interfaces:     map[string]*graphql.Interface{},
		connections:    map[string]*graphql.Object{},
		edges:          map[string]*graphql.Object{},
		whereInputs:    map[string]*graphql.InputObject{},
		filterInputs:   map[model.Type]*graphql.InputObject{},
		relationInputs: map[string]*graphql.InputObject{},
		orderByInputs:  map[string]*graphql.InputObject{},
		createInputs:   map[string]*graphql.InputObject{},
		updateInputs:   map[string]*graphql.InputObject{},
	}

	schema, err := r.prepareSchema(cfg)
	if err != nil {
		return nil, err
	}
	r.schema = schema
	r.optimizer = optimizer.New(schema, cfg.Gate, r.planner, cfg.OptimizerOptions...)
	return r, nil
}

// Schema returns the optimizer schema the GraphQL schema is derived from.
func (r *Resolver) Schema() *optimizer.Schema { return r.schema }

// Optimizer returns the optimizer consulted by root fields.
func (r *Resolver) Optimizer() *optimizer.Optimizer { return r.optimizer }

// BuildGraphQLSchema constructs the executable schema: one type per model
// (an interface plus one object per subtype for polymorphic models), list,
// by-primary-key and connection root queries, and create/update/delete
// mutations for non-polymorphic models.
func (r *Resolver) BuildGraphQLSchema() (graphql.Schema, error) {
	queryFields := graphql.Fields{}
	mutationFields := graphql.Fields{}
	for _, m := range r.registry.Models() {
		t, ok := r.schema.Type(m.Name)
		if !ok {
			return graphql.Schema{}, fmt.Errorf("model %s has no GraphQL type", m.Name)
		}
		r.addRootQueries(queryFields, t)
		r.addMutations(mutationFields, t)
	}

	// If no models exist, add a placeholder query to satisfy GraphQL requirements
	if len(queryFields) == 0 {
		queryFields["_schema"] = &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return "No models registered", nil
			},
			Description: "Placeholder field when no models are registered",
		}
	}

	schemaConfig := graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{Name: QueryTypeName, Fields: queryFields}),
	}
	if len(mutationFields) > 0 {
		schemaConfig.Mutation = graphql.NewObject(graphql.ObjectConfig{
			Name:   "Mutation",
			Fields: mutationFields,
		})
	}

	// Subtype objects are only reachable through their interface, so they
	// must be registered explicitly.
	for _, t := range r.schema.Types() {
		if !t.IsPolymorphic() {
			schemaConfig.Types = append(schemaConfig.Types, r.objectType(t))
		}
	}
	return graphql.NewSchema(schemaConfig)
}

// sessionFor returns the request's queryset session, or the resolver's own.
func (r *Resolver) sessionFor(ctx context.Context) *queryset.Session {
	if s, err := queryset.SessionFromContext(ctx); err == nil {
		return s
	}
	return r.session
}

// fieldHints returns the declared hints for "Type.field".
func (r *Resolver) fieldHints(typeName, field string) *optimizer.FieldHints {
	h, ok := r.hints[typeName+"."+field]
	if !ok {
		return nil
	}
	return &h
}

func sortedTypeNames[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func splitHintKey(key string) (string, string) {
	typeName, field, _ := strings.Cut(key, ".")
	return typeName, field
}
