package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by both services. Each
// service only touches the collectors relevant to it.
type Metrics struct {
	HTTPRequestDuration *prometheus.HistogramVec
	UsersCreated        prometheus.Counter
	LoginAttempts       *prometheus.CounterVec
	EventsPublished     *prometheus.CounterVec
	UpstreamRequests    *prometheus.CounterVec
	UpstreamLatency     *prometheus.HistogramVec
	RevocationLatency   prometheus.Histogram
	BreakerOpen         *prometheus.GaugeVec
	RateLimitRejected   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_http_request_duration_seconds",
			Help:    "Latency of inbound HTTP requests by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		UsersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_users_created_total",
			Help: "Total number of users registered",
		}),
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_login_attempts_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_user_events_published_total",
			Help: "User change notifications by event type and result",
		}, []string{"type", "result"}),
		UpstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_gateway_upstream_requests_total",
			Help: "Requests forwarded to backends by backend and outcome",
		}, []string{"backend", "outcome"}),
		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_gateway_upstream_duration_seconds",
			Help:    "Latency of forwarded backend calls",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"backend"}),
		RevocationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_token_revocation_check_duration_seconds",
			Help:    "Latency of token revocation list lookups",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		BreakerOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parley_circuit_breaker_open",
			Help: "1 while the named circuit breaker is open",
		}, []string{"name"}),
		RateLimitRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_gateway_rate_limited_total",
			Help: "Requests rejected with 429 by endpoint class",
		}, []string{"class"}),
	}
}

func (m *Metrics) IncrementUsersCreated() {
	m.UsersCreated.Inc()
}

func (m *Metrics) IncrementLoginAttempt(result string) {
	m.LoginAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementEventPublished(eventType, result string) {
	m.EventsPublished.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) ObserveUpstream(backend, outcome string, elapsed time.Duration) {
	m.UpstreamRequests.WithLabelValues(backend, outcome).Inc()
	m.UpstreamLatency.WithLabelValues(backend).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRevocationCheck(elapsed time.Duration) {
	m.RevocationLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) SetBreakerOpen(name string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.BreakerOpen.WithLabelValues(name).Set(v)
}

func (m *Metrics) IncrementRateLimited(class string) {
	m.RateLimitRejected.WithLabelValues(class).Inc()
}
