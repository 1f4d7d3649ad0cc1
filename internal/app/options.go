package app

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
	"github.com/ParamigosApps/appbar-sub000/internal/observability"
)

// EventPublisher delivers committed facts to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.Event) error { return nil }

// deps are the ambient collaborators every service carries.
type deps struct {
	logger    *zap.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
	publisher EventPublisher
}

type Option func(*deps)

func WithLogger(l *zap.Logger) Option {
	return func(d *deps) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics records service outcomes on m. A nil m disables metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *deps) {
		d.metrics = m
	}
}

func WithPublisher(p EventPublisher) Option {
	return func(d *deps) {
		if p != nil {
			d.publisher = p
		}
	}
}

func newDeps(opts []Option) deps {
	d := deps{
		logger:    zap.NewNop(),
		tracer:    observability.Tracer(),
		publisher: nopPublisher{},
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

func (d deps) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
