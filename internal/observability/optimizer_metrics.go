package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"gqlorm/internal/optimizer"
)

// OptimizerMetrics records fetch plan outcomes. It implements
// optimizer.Recorder.
type OptimizerMetrics struct {
	plans        metric.Int64Counter
	skipped      metric.Int64Counter
	compileTime  metric.Float64Histogram
	joins        metric.Int64Histogram
	prefetches   metric.Int64Histogram
	annotations  metric.Int64Histogram
	degradations metric.Int64Counter
}

var _ optimizer.Recorder = (*OptimizerMetrics)(nil)

// InitOptimizerMetrics creates the optimizer instruments.
func InitOptimizerMetrics() (*OptimizerMetrics, error) {
	meter := otel.Meter(MeterName)
	m := &OptimizerMetrics{}
	var err error

	if m.plans, err = meter.Int64Counter(
		"optimizer.plans.total",
		metric.WithDescription("Fetch plans compiled for root fields"),
	); err != nil {
		return nil, fmt.Errorf("failed to create plans counter: %w", err)
	}
	if m.skipped, err = meter.Int64Counter(
		"optimizer.plans.skipped",
		metric.WithDescription("Root fields resolved without a fetch plan"),
	); err != nil {
		return nil, fmt.Errorf("failed to create skipped counter: %w", err)
	}
	if m.compileTime, err = meter.Float64Histogram(
		"optimizer.plan.duration",
		metric.WithDescription("Time spent walking the selection and compiling the plan"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create plan duration histogram: %w", err)
	}
	if m.joins, err = meter.Int64Histogram(
		"optimizer.plan.joins",
		metric.WithDescription("Joined relations per fetch plan, nested plans included"),
	); err != nil {
		return nil, fmt.Errorf("failed to create joins histogram: %w", err)
	}
	if m.prefetches, err = meter.Int64Histogram(
		"optimizer.plan.prefetches",
		metric.WithDescription("Prefetches per fetch plan, nested plans included"),
	); err != nil {
		return nil, fmt.Errorf("failed to create prefetches histogram: %w", err)
	}
	if m.annotations, err = meter.Int64Histogram(
		"optimizer.plan.annotations",
		metric.WithDescription("Annotations per fetch plan, nested plans included"),
	); err != nil {
		return nil, fmt.Errorf("failed to create annotations histogram: %w", err)
	}
	if m.degradations, err = meter.Int64Counter(
		"optimizer.degradations.total",
		metric.WithDescription("Selections left to lazy loading, by reason"),
	); err != nil {
		return nil, fmt.Errorf("failed to create degradations counter: %w", err)
	}
	return m, nil
}

// RecordPlan records one compiled plan.
func (m *OptimizerMetrics) RecordPlan(ctx context.Context, rootType string, plan *optimizer.FetchPlan, elapsed time.Duration) {
	typeAttr := metric.WithAttributes(attribute.String("root_type", rootType))
	m.plans.Add(ctx, 1, typeAttr)
	m.compileTime.Record(ctx, float64(elapsed.Microseconds())/1000, typeAttr)
	if plan == nil {
		return
	}

	stats := PlanStatsOf(plan)
	m.joins.Record(ctx, int64(stats.Joins), typeAttr)
	m.prefetches.Record(ctx, int64(stats.Prefetches), typeAttr)
	m.annotations.Record(ctx, int64(stats.Annotations), typeAttr)
	for _, d := range plan.Degradations {
		m.degradations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("root_type", rootType),
			attribute.String("reason", string(d.Reason)),
		))
	}
}

// RecordSkipped records a root field the gate or a hint kept unoptimized.
func (m *OptimizerMetrics) RecordSkipped(ctx context.Context, rootType string) {
	m.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("root_type", rootType)))
}

// PlanStats summarizes a fetch plan and its nested prefetch plans.
type PlanStats struct {
	Joins        int
	Prefetches   int
	Annotations  int
	Degradations int
}

// PlanStatsOf walks plan and its prefetch plans.
func PlanStatsOf(plan *optimizer.FetchPlan) PlanStats {
	var s PlanStats
	if plan == nil {
		return s
	}
	s.Degradations = len(plan.Degradations)
	var walk func(p *optimizer.FetchPlan)
	walk = func(p *optimizer.FetchPlan) {
		s.Joins += len(p.Joins)
		s.Annotations += len(p.Annotations)
		for _, pf := range p.Prefetches {
			s.Prefetches++
			if pf.Plan != nil {
				walk(pf.Plan)
			}
		}
	}
	walk(plan)
	return s
}

// Attributes returns the stats as span attributes.
func (s PlanStats) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("optimizer.joins", s.Joins),
		attribute.Int("optimizer.prefetches", s.Prefetches),
		attribute.Int("optimizer.annotations", s.Annotations),
		attribute.Int("optimizer.degradations", s.Degradations),
	}
}
