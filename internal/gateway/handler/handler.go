// Package handler exposes the gateway's public HTTP surface and relays each
// route to its backend through the forwarder.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"parley/internal/gateway/forwarder"
	"parley/internal/gateway/routes"
	"parley/internal/platform/metrics"
	"parley/internal/platform/middleware"
	"parley/internal/ratelimit/models"
	dErrors "parley/pkg/domain-errors"
	"parley/pkg/platform/httputil"
	"parley/pkg/platform/middleware/auth"
	"parley/pkg/platform/middleware/metadata"
	"parley/pkg/requestcontext"
)

// maxRequestBytes bounds passthrough request bodies.
const maxRequestBytes = 10 << 20

// Forwarder relays one request to a backend.
type Forwarder interface {
	Forward(ctx context.Context, req forwarder.Request) (*forwarder.Response, error)
}

// RateLimiter returns the budget middleware for an endpoint class.
type RateLimiter interface {
	RateLimit(class models.EndpointClass) func(http.Handler) http.Handler
}

// Info identifies the running gateway in health and root responses.
type Info struct {
	Service     string
	Version     string
	Environment string
}

type Handler struct {
	table          routes.Table
	forwarder      Forwarder
	guard          *auth.Guard
	limiter        RateLimiter
	clientIP       *metadata.Resolver
	info           Info
	requestTimeout time.Duration
	healthTimeout  time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

type Option func(*Handler)

func WithInfo(info Info) Option {
	return func(h *Handler) {
		h.info = info
	}
}

// WithRequestTimeout bounds a whole inbound request. It should exceed the
// forwarder's upstream timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.requestTimeout = d
		}
	}
}

// WithHealthTimeout bounds each backend probe made by GET /health.
func WithHealthTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.healthTimeout = d
		}
	}
}

// WithRateLimiter limits forwarded routes per client IP. Health and root
// endpoints are never limited.
func WithRateLimiter(l RateLimiter) Option {
	return func(h *Handler) {
		h.limiter = l
	}
}

// WithClientIPResolver decides which address identifies the caller for rate
// limiting and logs.
func WithClientIPResolver(res *metadata.Resolver) Option {
	return func(h *Handler) {
		if res != nil {
			h.clientIP = res
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func New(table routes.Table, fwd Forwarder, guard *auth.Guard, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		table:          table,
		forwarder:      fwd,
		guard:          guard,
		clientIP:       metadata.NewResolver(nil),
		info:           Info{Service: "api-gateway", Version: "v1"},
		requestTimeout: 35 * time.Second,
		healthTimeout:  3 * time.Second,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the gateway routes on r.
func (h *Handler) Register(r chi.Router) {
	gw := chi.NewRouter()
	gw.Use(middleware.Recovery(h.logger))
	gw.Use(middleware.RequestID)
	gw.Use(h.clientIP.Middleware)
	gw.Use(middleware.RequestTime)
	gw.Use(middleware.Logger(h.logger))
	gw.Use(middleware.Timeout(h.requestTimeout))
	gw.Use(middleware.ContentTypeJSON)
	gw.Use(middleware.LatencyMiddleware(h.metrics))

	gw.Get("/", h.handleRoot)
	gw.Get("/health", h.handleHealth)
	for _, b := range h.table.Backends {
		gw.Get(b.PublicHealth, h.backendHealth(b))
	}

	requireAuth := auth.RequireAuth(h.guard, h.logger)
	optionalAuth := auth.OptionalAuth(h.guard, h.logger)
	for _, route := range h.table.Routes {
		var next http.Handler = h.proxy(route)
		switch route.Auth {
		case routes.AuthRequired:
			next = requireAuth(next)
		case routes.AuthOptional:
			next = optionalAuth(next)
		}
		if h.limiter != nil {
			next = h.limiter.RateLimit(routeClass(route))(next)
		}
		gw.Method(route.Method, route.Pattern, next)
	}

	r.Mount("/", gw)
}

// routeClass puts credential endpoints in their own budget and splits the
// rest by whether they change state.
func routeClass(route routes.Route) models.EndpointClass {
	switch {
	case route.Schema == routes.SchemaRegister || route.Schema == routes.SchemaLogin:
		return models.ClassAuth
	case route.Method == http.MethodGet:
		return models.ClassRead
	default:
		return models.ClassWrite
	}
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, RootResponse{
		Message: "parley API gateway",
		Version: h.info.Version,
	})
}

// proxy returns the handler for one route: validate the body if the route
// has a schema, forward, then relay the backend's answer.
func (h *Handler) proxy(route routes.Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		path, err := route.UpstreamPath(func(name string) string {
			return chi.URLParam(r, name)
		})
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to build upstream path",
				"route", route.Pattern,
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "route misconfigured"))
			return
		}

		body, header, ok := h.prepareBody(w, r, route)
		if !ok {
			return
		}

		resp, err := h.forwarder.Forward(ctx, forwarder.Request{
			Backend: route.Backend,
			Method:  route.Method,
			Path:    path,
			Query:   r.URL.RawQuery,
			Header:  header,
			Body:    body,
		})
		if err != nil {
			h.writeUpstreamError(ctx, w, route.Backend, err)
			return
		}

		if route.Schema == routes.SchemaChatbot && isSuccess(resp.Status) {
			resp.Body = chatbotAnswer(resp.Body)
		}
		writeResponse(w, resp)
	}
}

// prepareBody decodes and re-encodes typed bodies so that malformed payloads
// never reach a backend. Passthrough bodies are buffered as received.
func (h *Handler) prepareBody(w http.ResponseWriter, r *http.Request, route routes.Route) (io.Reader, http.Header, bool) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var payload any
	switch route.Schema {
	case routes.SchemaRegister:
		req, ok := httputil.DecodeAndPrepare[RegisterRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return nil, nil, false
		}
		payload = req
	case routes.SchemaLogin:
		req, ok := httputil.DecodeAndPrepare[LoginRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return nil, nil, false
		}
		payload = req
	case routes.SchemaProfile:
		req, ok := httputil.DecodeAndPrepare[UpdateProfileRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return nil, nil, false
		}
		payload = req
	case routes.SchemaChatbot:
		req, ok := httputil.DecodeAndPrepare[ChatbotRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return nil, nil, false
		}
		payload = req.payload()
	default:
		return h.passthroughBody(w, r)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode request"))
		return nil, nil, false
	}
	header := r.Header.Clone()
	header.Set("Content-Type", "application/json")
	return bytes.NewReader(encoded), header, true
}

func (h *Handler) passthroughBody(w http.ResponseWriter, r *http.Request) (io.Reader, http.Header, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, r.Header, true
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body too large"))
			return nil, nil, false
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "failed to read request body"))
		return nil, nil, false
	}
	if len(raw) == 0 {
		return nil, r.Header, true
	}
	return bytes.NewReader(raw), r.Header, true
}

// backendHealth relays a backend's own health endpoint without auth.
func (h *Handler) backendHealth(b routes.Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resp, err := h.forwarder.Forward(ctx, forwarder.Request{
			Backend: b.Name,
			Method:  http.MethodGet,
			Path:    b.HealthPath,
			Header:  http.Header{},
		})
		if err != nil {
			h.writeUpstreamError(ctx, w, b.Name, err)
			return
		}
		writeResponse(w, resp)
	}
}

// writeUpstreamError answers with upstream_unavailable when the backend could
// not be reached. It never produces a 401.
func (h *Handler) writeUpstreamError(ctx context.Context, w http.ResponseWriter, backend string, err error) {
	requestID := requestcontext.RequestID(ctx)

	var ue *forwarder.UpstreamError
	if !errors.As(err, &ue) {
		h.logger.ErrorContext(ctx, "forwarding failed",
			"backend", backend,
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "forwarding failed"))
		return
	}

	h.logger.WarnContext(ctx, "backend unavailable",
		"backend", backend,
		"outcome", ue.Outcome,
		"error", ue.Err,
		"request_id", requestID,
	)
	httputil.WriteJSON(w, ue.Status, httputil.ErrorResponse{
		Error:            string(dErrors.CodeUnavailable),
		ErrorDescription: describe(ue),
	})
}

func describe(ue *forwarder.UpstreamError) string {
	switch ue.Outcome {
	case forwarder.OutcomeTimeout:
		return "backend " + ue.Backend + " timed out"
	case forwarder.OutcomeShortCircuit:
		return "backend " + ue.Backend + " is temporarily unavailable"
	case forwarder.OutcomeTooLarge:
		return "backend " + ue.Backend + " response is too large"
	default:
		return "backend " + ue.Backend + " is unavailable"
	}
}

// writeResponse relays a backend response: status, selected headers and body
// are passed through unchanged.
func writeResponse(w http.ResponseWriter, resp *forwarder.Response) {
	for name, values := range resp.Header {
		w.Header().Del(name)
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
