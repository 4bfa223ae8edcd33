package optimizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"go.opentelemetry.io/otel/attribute"

	"gqlorm/internal/logging"
	"gqlorm/internal/queryset"
)

// ErrUnknownRootType is returned when a root field names a type the schema
// does not know. It indicates a wiring mistake, not a per-query condition.
var ErrUnknownRootType = errors.New("optimizer: unknown root type")

// Recorder receives optimizer outcomes for metrics.
type Recorder interface {
	RecordPlan(ctx context.Context, rootType string, plan *FetchPlan, elapsed time.Duration)
	RecordSkipped(ctx context.Context, rootType string)
}

// Optimizer rewrites root querysets from GraphQL selections.
type Optimizer struct {
	schema   *Schema
	gate     Gate
	applier  ArgumentApplier
	parallel bool
	recorder Recorder
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithParallelWalk walks sibling root selections concurrently.
func WithParallelWalk(enabled bool) Option {
	return func(o *Optimizer) { o.parallel = enabled }
}

// WithRecorder reports outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(o *Optimizer) { o.recorder = r }
}

// New returns an optimizer for schema.
func New(schema *Schema, gate Gate, applier ArgumentApplier, opts ...Option) *Optimizer {
	o := &Optimizer{schema: schema, gate: gate, applier: applier}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Schema returns the schema the optimizer walks.
func (o *Optimizer) Schema() *Schema { return o.schema }

// Gate returns the optimization gate.
func (o *Optimizer) Gate() Gate { return o.gate }

// RootField identifies the root field being resolved.
type RootField struct {
	// TypeName is the GraphQL type of the field's items.
	TypeName string
	Field    *FieldMeta
}

// ExecutionContext carries a root field's selection and its queryset through
// OnBeforeResolve. QuerySet and Plan are replaced when optimization runs.
type ExecutionContext struct {
	Context   context.Context
	Alias     string
	Path      []string
	FieldASTs []*ast.Field
	Fragments map[string]ast.Definition
	Variables map[string]any
	QuerySet  queryset.QuerySet
	Plan      *FetchPlan
}

// NewExecutionContext captures the parts of p the optimizer reads.
func NewExecutionContext(p graphql.ResolveParams, qs queryset.QuerySet) *ExecutionContext {
	ec := &ExecutionContext{
		Context:   p.Context,
		Alias:     p.Info.FieldName,
		FieldASTs: p.Info.FieldASTs,
		Fragments: p.Info.Fragments,
		Variables: p.Info.VariableValues,
		QuerySet:  qs,
	}
	if ec.Context == nil {
		ec.Context = context.Background()
	}
	if len(p.Info.FieldASTs) > 0 && p.Info.FieldASTs[0].Alias != nil {
		ec.Alias = p.Info.FieldASTs[0].Alias.Value
	}
	for current := p.Info.Path; current != nil; current = current.Prev {
		ec.Path = append([]string{fmt.Sprint(current.Key)}, ec.Path...)
	}
	return ec
}

// OnBeforeResolve optimizes ec.QuerySet for the root field's selection.
// When the gate is closed the queryset is left untouched. Per-query
// failures degrade to the untouched queryset and are logged; only wiring
// errors are returned.
func (o *Optimizer) OnBeforeResolve(root RootField, ec *ExecutionContext) error {
	if ec == nil {
		return errors.New("optimizer: nil execution context")
	}
	ctx := ec.Context
	if ctx == nil {
		ctx = context.Background()
	}
	t, ok := o.schema.Type(root.TypeName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRootType, root.TypeName)
	}
	if !o.gate.IsOptimizationEnabled(FieldContext{Context: ctx, Field: root.Field}) {
		if o.recorder != nil {
			o.recorder.RecordSkipped(ctx, root.TypeName)
		}
		return nil
	}

	sels := CollectSelections(ec.FieldASTs, ec.Fragments, ec.Variables)
	if root.Field != nil && root.Field.Connection {
		sels = UnwrapConnection(sels)
	}

	start := time.Now()
	qs, plan, err := o.Optimize(ctx, t, sels, ec.QuerySet)
	logger := logging.FromContext(ctx)
	if err != nil {
		logger.Warn("query optimization skipped",
			"root", ec.Alias,
			"type", root.TypeName,
			"error", err,
		)
		return nil
	}
	for _, d := range plan.Degradations {
		logger.Warn("query partially optimized",
			"root", ec.Alias,
			"path", d.Path,
			"reason", string(d.Reason),
			"detail", d.Detail,
		)
	}
	logger.Debug("query optimized",
		"root", ec.Alias,
		"joins", plan.Joins,
		"prefetches", plan.PrefetchPaths(),
		"projection", len(plan.Projection),
	)
	if o.recorder != nil {
		o.recorder.RecordPlan(ctx, root.TypeName, plan, time.Since(start))
	}
	ec.QuerySet = qs
	ec.Plan = plan
	return nil
}

// Optimize walks sels against t and compiles the hints onto qs.
func (o *Optimizer) Optimize(ctx context.Context, t *TypeMeta, sels []*Selection, qs queryset.QuerySet) (out queryset.QuerySet, plan *FetchPlan, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, plan, err = qs, nil, fmt.Errorf("optimizer panic: %v", r)
		}
	}()

	walkCtx, span := startSpan(ctx, "optimizer.walk",
		attribute.String("optimizer.type", t.Name),
		attribute.Int("optimizer.selections", len(sels)),
	)
	rep := &report{}
	w := &walker{ctx: walkCtx, schema: o.schema, applier: o.applier, report: rep, parallel: o.parallel}
	store, err := w.walkRoot(t, sels)
	finishSpan(span, err)
	if err != nil {
		return qs, nil, err
	}

	compileCtx, span := startSpan(ctx, "optimizer.compile")
	out, plan, err = compileWith(compileCtx, o.schema, qs, store)
	if err == nil {
		span.SetAttributes(
			attribute.Int("optimizer.joins", len(plan.Joins)),
			attribute.Int("optimizer.prefetches", len(plan.Prefetches)),
		)
	}
	finishSpan(span, err)
	if err != nil {
		return qs, nil, err
	}
	plan.Degradations = append(rep.list(), plan.Degradations...)
	return out, plan, nil
}
