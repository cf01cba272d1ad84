package events

import (
	"context"
	"log/slog"
	"time"

	"parley/internal/platform/metrics"
	"parley/pkg/platform/circuit"
	"parley/pkg/requestcontext"
)

const defaultPublishTimeout = 2 * time.Second

//go:generate mockgen -source=notifier.go -destination=mocks/events-mocks.go -package=mocks

// Publisher delivers one envelope to the message broker.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Notifier wraps a Publisher with the best-effort contract: each publish is
// bounded by a timeout, guarded by a circuit breaker, counted and logged.
// Notify never returns an error.
type Notifier struct {
	publisher Publisher
	timeout   time.Duration
	breaker   *circuit.Breaker
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type NotifierOption func(*Notifier)

func WithTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

func WithBreaker(b *circuit.Breaker) NotifierOption {
	return func(n *Notifier) {
		n.breaker = b
	}
}

func WithLogger(logger *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		n.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) NotifierOption {
	return func(n *Notifier) {
		n.metrics = m
	}
}

// NewNotifier builds a Notifier. A nil publisher drops every event.
func NewNotifier(publisher Publisher, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		publisher: publisher,
		timeout:   defaultPublishTimeout,
		breaker:   circuit.New("events"),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Notifier) Notify(ctx context.Context, env Envelope) {
	if n.publisher == nil {
		n.record(env, "disabled")
		return
	}
	if n.breaker != nil && !n.breaker.Allow() {
		n.record(env, "skipped")
		n.logger.DebugContext(ctx, "event publish skipped, breaker open",
			"event_type", env.Type,
			"user_id", env.UserID,
		)
		return
	}

	// Publishing outlives request cancellation but not the timeout.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	err := n.publisher.Publish(publishCtx, env)
	if err != nil {
		n.record(env, "failed")
		if n.breaker != nil {
			if _, change := n.breaker.RecordFailure(); change.Opened {
				n.setBreakerGauge(true)
				n.logger.WarnContext(ctx, "event publisher circuit opened")
			}
		}
		n.logger.WarnContext(ctx, "failed to publish user event",
			"event_type", env.Type,
			"user_id", env.UserID,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return
	}

	n.record(env, "published")
	if n.breaker != nil {
		if _, change := n.breaker.RecordSuccess(); change.Closed {
			n.setBreakerGauge(false)
			n.logger.InfoContext(ctx, "event publisher circuit closed")
		}
	}
}

func (n *Notifier) record(env Envelope, result string) {
	if n.metrics != nil {
		n.metrics.IncrementEventPublished(string(env.Type), result)
	}
}

func (n *Notifier) setBreakerGauge(open bool) {
	if n.metrics != nil && n.breaker != nil {
		n.metrics.SetBreakerOpen(n.breaker.Name(), open)
	}
}
