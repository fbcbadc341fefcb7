// Package telemetry holds the OpenTelemetry instruments shared by the
// scheduler and the dispatcher.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/dukerupert/freshkeep"

// Telemetry bundles the tracer and the counters recorded by background jobs.
type Telemetry struct {
	Tracer trace.Tracer

	alertsSent        metric.Int64Counter
	duplicatesSkipped metric.Int64Counter
	channelFailures   metric.Int64Counter
	jobRuns           metric.Int64Counter
	jobSkips          metric.Int64Counter
	jobDuration       metric.Float64Histogram
}

// New creates instruments from the global providers. Until Setup installs a
// provider they are no-ops, so tests can use New freely.
func New() (*Telemetry, error) {
	return NewWithProviders(otel.GetTracerProvider(), otel.GetMeterProvider())
}

func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Telemetry, error) {
	meter := mp.Meter(instrumentationName)
	t := &Telemetry{Tracer: tp.Tracer(instrumentationName)}

	var err error
	if t.alertsSent, err = meter.Int64Counter("freshkeep.alerts.sent",
		metric.WithDescription("Notifications created by the dispatcher")); err != nil {
		return nil, fmt.Errorf("create alerts counter: %w", err)
	}
	if t.duplicatesSkipped, err = meter.Int64Counter("freshkeep.alerts.duplicates",
		metric.WithDescription("Dispatches skipped because the idempotency key already existed")); err != nil {
		return nil, fmt.Errorf("create duplicates counter: %w", err)
	}
	if t.channelFailures, err = meter.Int64Counter("freshkeep.channel.failures",
		metric.WithDescription("Failed channel sends")); err != nil {
		return nil, fmt.Errorf("create channel failures counter: %w", err)
	}
	if t.jobRuns, err = meter.Int64Counter("freshkeep.job.runs",
		metric.WithDescription("Job invocations")); err != nil {
		return nil, fmt.Errorf("create job runs counter: %w", err)
	}
	if t.jobSkips, err = meter.Int64Counter("freshkeep.job.skips",
		metric.WithDescription("Job ticks skipped because a run was in flight")); err != nil {
		return nil, fmt.Errorf("create job skips counter: %w", err)
	}
	if t.jobDuration, err = meter.Float64Histogram("freshkeep.job.duration",
		metric.WithDescription("Job run duration"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create job duration histogram: %w", err)
	}
	return t, nil
}

// Noop returns instruments that record nothing.
func Noop() *Telemetry {
	t, _ := New()
	return t
}

func (t *Telemetry) AlertSent(ctx context.Context, notifType string) {
	t.alertsSent.Add(ctx, 1, metric.WithAttributes(attribute.String("type", notifType)))
}

func (t *Telemetry) DuplicateSkipped(ctx context.Context, notifType string) {
	t.duplicatesSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("type", notifType)))
}

func (t *Telemetry) ChannelFailed(ctx context.Context, channel string) {
	t.channelFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

func (t *Telemetry) JobFinished(ctx context.Context, job string, seconds float64, failed bool) {
	attrs := metric.WithAttributes(attribute.String("job", job), attribute.Bool("failed", failed))
	t.jobRuns.Add(ctx, 1, attrs)
	t.jobDuration.Record(ctx, seconds, attrs)
}

func (t *Telemetry) JobSkipped(ctx context.Context, job, reason string) {
	t.jobSkips.Add(ctx, 1, metric.WithAttributes(attribute.String("job", job), attribute.String("reason", reason)))
}

// Setup installs a global tracer provider. When w is non-nil spans are
// written to it as JSON; otherwise spans are sampled but not exported.
// The returned function flushes and shuts the provider down.
func Setup(serviceName string, w io.Writer) (func(context.Context) error, error) {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if w != nil {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
