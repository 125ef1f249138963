// Package observe records render cache metrics through OpenTelemetry.
// The exporter is chosen by the binary; library code only sees Metrics.
package observe

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of every instrument.
const MeterName = "rendercache"

// Lookup results.
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupError = "error"
)

// Store results.
const (
	StoreStored  = "stored"
	StoreSkipped = "skipped"
	StoreError   = "error"
)

// Metrics records cache activity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	RecordLookup(ctx context.Context, result string)
	RecordStore(ctx context.Context, result string)
	RecordInvalidation(ctx context.Context, tags int)
	RecordRender(ctx context.Context, element string, hit bool)
}

type metricsImpl struct {
	lookups       metric.Int64Counter
	stores        metric.Int64Counter
	invalidations metric.Int64Counter
	renders       metric.Int64Counter
}

// New creates Metrics on the given meter.
func New(meter metric.Meter) (Metrics, error) {
	lookups, err := meter.Int64Counter(
		"render_cache.lookups",
		metric.WithDescription("Render cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	stores, err := meter.Int64Counter(
		"render_cache.stores",
		metric.WithDescription("Render cache writes by result"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, err
	}

	invalidations, err := meter.Int64Counter(
		"render_cache.invalidated_tags",
		metric.WithDescription("Cache tags invalidated"),
		metric.WithUnit("{tag}"),
	)
	if err != nil {
		return nil, err
	}

	renders, err := meter.Int64Counter(
		"render.elements",
		metric.WithDescription("Cacheable render elements processed"),
		metric.WithUnit("{element}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		lookups:       lookups,
		stores:        stores,
		invalidations: invalidations,
		renders:       renders,
	}, nil
}

// NewGlobal creates Metrics on the global meter provider.
func NewGlobal() (Metrics, error) {
	return New(otel.GetMeterProvider().Meter(MeterName))
}

func (m *metricsImpl) RecordLookup(ctx context.Context, result string) {
	m.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *metricsImpl) RecordStore(ctx context.Context, result string) {
	m.stores.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *metricsImpl) RecordInvalidation(ctx context.Context, tags int) {
	m.invalidations.Add(ctx, int64(tags))
}

func (m *metricsImpl) RecordRender(ctx context.Context, element string, hit bool) {
	m.renders.Add(ctx, 1, metric.WithAttributes(
		attribute.String("element", element),
		attribute.Bool("cache_hit", hit),
	))
}

// Noop returns Metrics that discard everything.
func Noop() Metrics { return noopMetrics{} }

type noopMetrics struct{}

func (noopMetrics) RecordLookup(context.Context, string)       {}
func (noopMetrics) RecordStore(context.Context, string)        {}
func (noopMetrics) RecordInvalidation(context.Context, int)    {}
func (noopMetrics) RecordRender(context.Context, string, bool) {}
