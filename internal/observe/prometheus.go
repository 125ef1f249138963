package observe

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Prometheus is a meter provider whose instruments are served in the
// Prometheus text format.
type Prometheus struct {
	Provider *sdkmetric.MeterProvider
	registry *prometheus.Registry
}

// NewPrometheus creates a meter provider exporting to a private
// Prometheus registry.
func NewPrometheus() (*Prometheus, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	return &Prometheus{
		Provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)),
		registry: registry,
	}, nil
}

// Handler serves the registry for scraping.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Metrics creates Metrics on the provider's meter.
func (p *Prometheus) Metrics() (Metrics, error) {
	return New(p.Provider.Meter(MeterName))
}

// Shutdown flushes and stops the provider.
func (p *Prometheus) Shutdown(ctx context.Context) error {
	return p.Provider.Shutdown(ctx)
}
