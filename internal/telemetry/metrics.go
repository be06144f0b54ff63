package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records engine activity through OpenTelemetry instruments and
// exposes them in Prometheus format.
type Metrics struct {
	registry      *prometheus.Registry
	meterProvider *sdkmetric.MeterProvider

	runsCreated     metric.Int64Counter
	runTransitions  metric.Int64Counter
	stepTransitions metric.Int64Counter
	opDuration      metric.Float64Histogram
}

// NewMetrics builds a meter provider backed by a private Prometheus registry.
func NewMetrics(serviceName string) (*Metrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(serviceName)

	m := &Metrics{registry: registry, meterProvider: provider}

	if m.runsCreated, err = meter.Int64Counter("onboarding_runs_created",
		metric.WithDescription("Onboarding runs instantiated")); err != nil {
		return nil, err
	}
	if m.runTransitions, err = meter.Int64Counter("onboarding_run_transitions",
		metric.WithDescription("Run status transitions by target status")); err != nil {
		return nil, err
	}
	if m.stepTransitions, err = meter.Int64Counter("onboarding_step_transitions",
		metric.WithDescription("Step instance transitions by target status")); err != nil {
		return nil, err
	}
	if m.opDuration, err = meter.Float64Histogram("onboarding_operation_duration",
		metric.WithDescription("Engine operation latency"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.meterProvider.Shutdown(ctx)
}

func (m *Metrics) RunCreated(ctx context.Context) {
	m.runsCreated.Add(ctx, 1)
}

func (m *Metrics) RunTransition(ctx context.Context, status string) {
	m.runTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) StepTransition(ctx context.Context, status string) {
	m.stepTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// ObserveOperation records how long an engine operation took and whether it
// succeeded.
func (m *Metrics) ObserveOperation(ctx context.Context, op string, d time.Duration, outcome string) {
	m.opDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RunCreated(context.Context)                                      {}
func (Nop) RunTransition(context.Context, string)                           {}
func (Nop) StepTransition(context.Context, string)                          {}
func (Nop) ObserveOperation(context.Context, string, time.Duration, string) {}
