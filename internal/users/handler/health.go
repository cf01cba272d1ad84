package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"parley/pkg/platform/httputil"
	"parley/pkg/requestcontext"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is a dependency the health endpoint probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health serves GET /health. It answers 503 when the store is unreachable.
type Health struct {
	service string
	version string
	store   Pinger
	logger  *slog.Logger
}

func NewHealth(service, version string, store Pinger, logger *slog.Logger) *Health {
	return &Health{service: service, version: version, store: store, logger: logger}
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Service: h.service, Version: h.version}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.logger.WarnContext(r.Context(), "health check failed",
				"request_id", requestcontext.RequestID(r.Context()),
				"error", err,
			)
			resp.Status = "unavailable"
			httputil.WriteJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
