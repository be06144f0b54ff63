// Package services implements the workflow run engine: run instantiation,
// step progression, pause and cancel, template reordering and duplication.
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"onboarding/backend/internal/eventbus"
	"onboarding/backend/internal/logging"
	"onboarding/backend/internal/repository"
	"onboarding/backend/internal/telemetry"
	"onboarding/backend/pkg/models"
)

// Engine runs every operation against one transactional repository. It keeps
// no state between calls.
type Engine struct {
	repo    repository.Repository
	events  eventbus.Publisher
	metrics Metrics
	logger  *logging.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

func WithPublisher(p eventbus.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine. Events are dropped and metrics discarded
// unless the matching options are given.
func NewEngine(repo repository.Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:    repo,
		events:  eventbus.NopPublisher{},
		metrics: telemetry.Nop{},
		logger:  logging.NewNop(),
		tracer:  otel.Tracer("onboarding/backend/internal/services"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ping reports whether the backing store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.repo.Ping(ctx)
}

// begin opens a span for op. The returned func ends it and records the
// operation latency with the error kind as outcome.
func (e *Engine) begin(ctx context.Context, op string, caller models.Caller) (context.Context, func(error)) {
	ctx, span := e.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("org_id", caller.OrgID),
		attribute.String("caller_id", caller.CallerID),
	))
	start := time.Now()
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = KindOf(err).String()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		e.metrics.ObserveOperation(ctx, op, time.Since(start), outcome)
		span.End()
	}
}

// publish is called after commit. Delivery failures never fail the request.
func (e *Engine) publish(ctx context.Context, events ...*eventbus.Event) {
	for _, ev := range events {
		if err := e.events.Publish(ctx, ev); err != nil {
			e.logger.Warn("failed to publish event",
				"event_type", string(ev.Type),
				"subject", ev.Subject,
				"error", err)
		}
	}
}

func (e *Engine) timestamp() time.Time {
	return e.now().UTC()
}

func requireCaller(caller models.Caller) error {
	if caller.OrgID == "" || caller.CallerID == "" {
		return Unauthorized("missing caller identity")
	}
	return nil
}

// requireID rejects ids that cannot name any stored entity.
func requireID(entity, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return Validation("invalid %s id %q", entity, id)
	}
	return nil
}
