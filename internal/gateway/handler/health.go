package handler

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"parley/internal/gateway/forwarder"
	"parley/pkg/platform/httputil"
	"parley/pkg/requestcontext"
)

// Backend health states reported by GET /health.
const (
	backendOK          = "ok"
	backendUnhealthy   = "unhealthy"
	backendUnavailable = "unavailable"
)

// handleHealth probes every backend concurrently. The gateway reports ok only
// when every backend answers its health endpoint with a 2xx.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		mu       sync.Mutex
		statuses = make(map[string]string, len(h.table.Backends))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range h.table.Backends {
		g.Go(func() error {
			status := h.probe(gctx, b.Name, b.HealthPath)
			mu.Lock()
			statuses[b.Name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	resp := GatewayHealthResponse{
		Status:      "ok",
		Service:     h.info.Service,
		Version:     h.info.Version,
		Environment: h.info.Environment,
		Backends:    statuses,
	}
	code := http.StatusOK
	for name, status := range statuses {
		if status != backendOK {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			h.logger.WarnContext(ctx, "backend unhealthy",
				"backend", name,
				"status", status,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
	}
	httputil.WriteJSON(w, code, resp)
}

func (h *Handler) probe(ctx context.Context, backend, path string) string {
	ctx, cancel := context.WithTimeout(ctx, h.healthTimeout)
	defer cancel()

	resp, err := h.forwarder.Forward(ctx, forwarder.Request{
		Backend: backend,
		Method:  http.MethodGet,
		Path:    path,
		Header:  http.Header{},
	})
	if err != nil {
		return backendUnavailable
	}
	if !isSuccess(resp.Status) {
		return backendUnhealthy
	}
	return backendOK
}
