package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"tidegate/internal/ledger"
)

// InstrumentedLedger wraps a ledger.Ledger with OpenTelemetry tracing and
// metrics. Every admission records a trace span, an operation latency sample,
// a decision counter split by outcome, and an error counter on backend
// failures.
type InstrumentedLedger struct {
	inner     ledger.Ledger
	tracer    trace.Tracer
	duration  metric.Float64Histogram
	decisions metric.Int64Counter
	errors    metric.Int64Counter
}

// NewInstrumentedLedger creates the instrumented wrapper.
func NewInstrumentedLedger(inner ledger.Ledger) (*InstrumentedLedger, error) {
	tracer := otel.Tracer("tidegate/ledger")
	meter := otel.Meter("tidegate/ledger")

	duration, err := meter.Float64Histogram(
		"ledger.admit.duration",
		metric.WithDescription("Duration of quota admission checks in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	decisions, err := meter.Int64Counter(
		"ledger.admit.decisions",
		metric.WithDescription("Quota admission decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"ledger.admit.errors",
		metric.WithDescription("Quota backend failures during admission"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedLedger{
		inner:     inner,
		tracer:    tracer,
		duration:  duration,
		decisions: decisions,
		errors:    errCounter,
	}, nil
}

// TryAdmit implements ledger.Ledger.
func (l *InstrumentedLedger) TryAdmit(ctx context.Context, entityKey, city string, capacity int) (ledger.Admission, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.TryAdmit",
		trace.WithAttributes(
			attribute.String("quota.entity_key", entityKey),
			attribute.String("quota.city", city),
			attribute.Int("quota.capacity", capacity),
		),
	)
	start := time.Now()

	adm, err := l.inner.TryAdmit(ctx, entityKey, city, capacity)

	l.duration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		l.errors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return adm, err
	}

	span.SetAttributes(
		attribute.Bool("quota.admitted", adm.Admitted),
		attribute.Int("quota.remaining", adm.Remaining),
	)
	span.SetStatus(codes.Ok, "")
	span.End()

	l.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("admitted", adm.Admitted),
	))

	return adm, nil
}

// Close implements ledger.Ledger.
func (l *InstrumentedLedger) Close() error {
	return l.inner.Close()
}
