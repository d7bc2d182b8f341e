package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"tidegate/internal/bonus"
	"tidegate/internal/models"
)

// InstrumentedBonusStore wraps a bonus.Store with OpenTelemetry tracing and
// metrics. Policy errors (cooldown, not-found, expired, already-claimed) are
// expected outcomes and are not counted as failures; only backend errors are.
type InstrumentedBonusStore struct {
	inner    bonus.Store
	tracer   trace.Tracer
	duration metric.Float64Histogram
	consumed metric.Int64Counter
}

// NewInstrumentedBonusStore creates the instrumented wrapper.
func NewInstrumentedBonusStore(inner bonus.Store) (*InstrumentedBonusStore, error) {
	tracer := otel.Tracer("tidegate/bonus")
	meter := otel.Meter("tidegate/bonus")

	duration, err := meter.Float64Histogram(
		"bonus.operation.duration",
		metric.WithDescription("Duration of bonus store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	consumed, err := meter.Int64Counter(
		"bonus.tokens.consumed",
		metric.WithDescription("Bonus tokens successfully consumed"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedBonusStore{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		consumed: consumed,
	}, nil
}

func (s *InstrumentedBonusStore) startSpan(ctx context.Context, operation string) (context.Context, trace.Span, time.Time) {
	ctx, span := s.tracer.Start(ctx, "bonus."+operation,
		trace.WithAttributes(attribute.String("bonus.operation", operation)),
	)
	return ctx, span, time.Now()
}

func (s *InstrumentedBonusStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	s.duration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("operation", operation)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Issue implements bonus.Store.
func (s *InstrumentedBonusStore) Issue(ctx context.Context, deviceID, originIP string) (*models.BonusToken, error) {
	ctx, span, start := s.startSpan(ctx, "Issue")
	token, err := s.inner.Issue(ctx, deviceID, originIP)
	s.record(ctx, span, "Issue", start, err)
	return token, err
}

// CooldownRemaining implements bonus.Store.
func (s *InstrumentedBonusStore) CooldownRemaining(ctx context.Context, deviceID string) (int, error) {
	ctx, span, start := s.startSpan(ctx, "CooldownRemaining")
	mins, err := s.inner.CooldownRemaining(ctx, deviceID)
	s.record(ctx, span, "CooldownRemaining", start, err)
	return mins, err
}

// Claim implements bonus.Store.
func (s *InstrumentedBonusStore) Claim(ctx context.Context, token, deviceID string) error {
	ctx, span, start := s.startSpan(ctx, "Claim")
	err := s.inner.Claim(ctx, token, deviceID)
	s.record(ctx, span, "Claim", start, err)
	return err
}

// TryConsume implements bonus.Store.
func (s *InstrumentedBonusStore) TryConsume(ctx context.Context, token, deviceID string) (bool, error) {
	ctx, span, start := s.startSpan(ctx, "TryConsume")
	used, err := s.inner.TryConsume(ctx, token, deviceID)
	if used {
		s.consumed.Add(ctx, 1)
	}
	span.SetAttributes(attribute.Bool("bonus.consumed", used))
	s.record(ctx, span, "TryConsume", start, err)
	return used, err
}

// Close implements bonus.Store.
func (s *InstrumentedBonusStore) Close() error {
	return s.inner.Close()
}
