// Package forwarder relays gateway requests to backend services.
//
// Every backend gets its own circuit breaker. Transport failures and 5xx
// answers count against it; 4xx answers do not. Backend responses, including
// error responses, are returned unchanged. Only a failure to get any response
// at all becomes an *UpstreamError:
//
//	breaker open        -> 503 upstream_unavailable
//	timeout             -> 504 upstream_unavailable
//	connection failure  -> 502 upstream_unavailable
//	oversized response  -> 502 upstream_unavailable
//
// Tokens are never decoded or re-signed here; the inbound Authorization
// header is copied byte-for-byte.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"parley/internal/platform/metrics"
	"parley/internal/platform/middleware"
	"parley/pkg/platform/circuit"
	"parley/pkg/requestcontext"
)

// defaultMaxResponseBytes bounds buffered backend responses.
const defaultMaxResponseBytes = 32 << 20

// Outcomes recorded in metrics and span attributes.
const (
	OutcomeOK           = "ok"
	OutcomeBackendError = "backend_error"
	OutcomeTimeout      = "timeout"
	OutcomeUnreachable  = "unreachable"
	OutcomeShortCircuit = "short_circuit"
	OutcomeCanceled     = "canceled"
	OutcomeTooLarge     = "response_too_large"
)

// forwardedHeaders are copied from the inbound request when present.
var forwardedHeaders = []string{"Authorization", "Content-Type", "Accept", "Accept-Language"}

// returnedHeaders are copied from the backend response when present.
var returnedHeaders = []string{"Content-Type", "Cache-Control", "Location", "Retry-After", "Www-Authenticate"}

// ErrUnknownBackend is returned for a backend name that was not configured.
var ErrUnknownBackend = errors.New("unknown backend")

// UpstreamError reports that no backend response could be obtained.
type UpstreamError struct {
	Backend string
	Status  int
	Outcome string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("backend %s %s: %v", e.Backend, e.Outcome, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Request is one call to a backend.
type Request struct {
	Backend string
	Method  string
	Path    string
	Query   string
	Header  http.Header
	Body    io.Reader
}

// Response is a fully buffered backend response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

type backend struct {
	name    string
	base    string
	breaker *circuit.Breaker
}

type Forwarder struct {
	client          *http.Client
	backends        map[string]*backend
	breakerFailures int
	breakerCooldown time.Duration
	maxBody         int64
	tracer          trace.Tracer
	logger          *slog.Logger
	metrics         *metrics.Metrics
}

type Option func(*Forwarder)

// WithClient replaces the outbound HTTP client. Its Timeout bounds every call.
func WithClient(client *http.Client) Option {
	return func(f *Forwarder) {
		if client != nil {
			f.client = client
		}
	}
}

// WithTimeout sets the per-call timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.client.Timeout = d
		}
	}
}

// WithBreaker sets the consecutive failures that open a backend's breaker and
// how long it stays open before a probe is let through.
func WithBreaker(failures int, cooldown time.Duration) Option {
	return func(f *Forwarder) {
		f.breakerFailures = failures
		f.breakerCooldown = cooldown
	}
}

// WithMaxResponseBytes bounds how much of a backend response is buffered.
// A larger response is rejected rather than truncated.
func WithMaxResponseBytes(n int64) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(f *Forwarder) {
		if tracer != nil {
			f.tracer = tracer
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

// New creates a forwarder for the given backend base URLs. A base URL may
// carry a path prefix; upstream paths are appended to it.
func New(baseURLs map[string]string, opts ...Option) (*Forwarder, error) {
	f := &Forwarder{
		client:          &http.Client{Timeout: 30 * time.Second},
		backends:        make(map[string]*backend, len(baseURLs)),
		breakerFailures: 5,
		breakerCooldown: 30 * time.Second,
		maxBody:         defaultMaxResponseBytes,
		tracer:          otel.Tracer("parley/gateway/forwarder"),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}

	for name, raw := range baseURLs {
		base, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("backend %s: parse base URL: %w", name, err)
		}
		if base.Scheme != "http" && base.Scheme != "https" {
			return nil, fmt.Errorf("backend %s: base URL %q must be http or https", name, raw)
		}
		base.RawQuery, base.Fragment = "", ""
		f.backends[name] = &backend{
			name: name,
			base: strings.TrimRight(base.String(), "/"),
			breaker: circuit.New(name,
				circuit.WithFailureThreshold(f.breakerFailures),
				circuit.WithCooldown(f.breakerCooldown),
			),
		}
	}
	return f, nil
}

// Breaker exposes a backend's breaker for health reporting.
func (f *Forwarder) Breaker(name string) (*circuit.Breaker, bool) {
	b, ok := f.backends[name]
	if !ok {
		return nil, false
	}
	return b.breaker, true
}

// Forward sends req to its backend and buffers the response. Backend error
// statuses are returned as a Response, not an error.
func (f *Forwarder) Forward(ctx context.Context, req Request) (*Response, error) {
	b, ok := f.backends[req.Backend]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, req.Backend)
	}

	ctx, span := f.tracer.Start(ctx, "gateway.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("backend", b.name),
			attribute.String("http.method", req.Method),
			attribute.String("upstream.path", req.Path),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := f.do(ctx, b, req)
	elapsed := time.Since(start)

	outcome := OutcomeOK
	if err != nil {
		var ue *UpstreamError
		if errors.As(err, &ue) {
			outcome = ue.Outcome
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetAttributes(attribute.Int("http.status_code", resp.Status))
		if resp.Status >= http.StatusInternalServerError {
			outcome = OutcomeBackendError
			span.SetStatus(codes.Error, outcome)
		}
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	f.record(ctx, b, outcome)
	if f.metrics != nil {
		f.metrics.ObserveUpstream(b.name, outcome, elapsed)
	}
	return resp, err
}

func (f *Forwarder) do(ctx context.Context, b *backend, req Request) (*Response, error) {
	if !b.breaker.Allow() {
		return nil, &UpstreamError{
			Backend: b.name,
			Status:  http.StatusServiceUnavailable,
			Outcome: OutcomeShortCircuit,
			Err:     errors.New("circuit breaker open"),
		}
	}

	target := b.base + req.Path
	if req.Query != "" {
		target += "?" + req.Query
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, target, req.Body)
	if err != nil {
		return nil, &UpstreamError{Backend: b.name, Status: http.StatusBadGateway, Outcome: OutcomeUnreachable, Err: err}
	}
	for _, name := range forwardedHeaders {
		if v := req.Header.Get(name); v != "" {
			out.Header.Set(name, v)
		}
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		out.Header.Set(middleware.RequestIDHeader, requestID)
	}

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, classify(ctx, b.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, classify(ctx, b.name, err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, &UpstreamError{
			Backend: b.name,
			Status:  http.StatusBadGateway,
			Outcome: OutcomeTooLarge,
			Err:     fmt.Errorf("response body exceeds %d bytes", f.maxBody),
		}
	}

	header := make(http.Header)
	for _, name := range returnedHeaders {
		if v := resp.Header.Get(name); v != "" {
			header.Set(name, v)
		}
	}
	return &Response{Status: resp.StatusCode, Header: header, Body: body}, nil
}

// record feeds the outcome to the backend's breaker. Caller cancellations and
// short circuits say nothing about the backend's health.
func (f *Forwarder) record(ctx context.Context, b *backend, outcome string) {
	switch outcome {
	case OutcomeCanceled, OutcomeShortCircuit:
		return
	case OutcomeOK:
		if _, change := b.breaker.RecordSuccess(); change.Closed {
			f.logger.InfoContext(ctx, "backend circuit closed", "backend", b.name)
			f.setBreakerGauge(b.name, false)
		}
	default:
		if _, change := b.breaker.RecordFailure(); change.Opened {
			f.logger.WarnContext(ctx, "backend circuit opened",
				"backend", b.name,
				"outcome", outcome,
				"request_id", requestcontext.RequestID(ctx),
			)
			f.setBreakerGauge(b.name, true)
		}
	}
}

func (f *Forwarder) setBreakerGauge(name string, open bool) {
	if f.metrics != nil {
		f.metrics.SetBreakerOpen("backend:"+name, open)
	}
}

func classify(ctx context.Context, backend string, err error) *UpstreamError {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &UpstreamError{Backend: backend, Status: http.StatusBadGateway, Outcome: OutcomeCanceled, Err: err}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &UpstreamError{Backend: backend, Status: http.StatusGatewayTimeout, Outcome: OutcomeTimeout, Err: err}
	}
	return &UpstreamError{Backend: backend, Status: http.StatusBadGateway, Outcome: OutcomeUnreachable, Err: err}
}
