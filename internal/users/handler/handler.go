// Package handler exposes the identity service over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"parley/internal/platform/metrics"
	"parley/internal/platform/middleware"
	"parley/internal/users/models"
	"parley/internal/users/service"
	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
	"parley/pkg/platform/httputil"
	"parley/pkg/platform/middleware/auth"
	"parley/pkg/requestcontext"
)

const requestTimeout = 30 * time.Second

// Service defines the identity operations the handler needs.
type Service interface {
	Register(ctx context.Context, cmd service.RegisterCommand) (*models.User, error)
	Login(ctx context.Context, identifier, password string) (*models.TokenResult, error)
	Me(ctx context.Context, principal id.Principal) (*models.User, error)
	UpdateProfile(ctx context.Context, principal id.Principal, cmd service.UpdateProfileCommand) (*models.User, error)
	GetUser(ctx context.Context, userID id.UserID) (*models.User, error)
	Logout(ctx context.Context, principal id.Principal) error
}

type Handler struct {
	users   Service
	guard   *auth.Guard
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(users Service, guard *auth.Guard, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		users:   users,
		guard:   guard,
		logger:  logger,
		metrics: metrics,
	}
}

// Register mounts the /v1 identity routes on r.
func (h *Handler) Register(r chi.Router) {
	usersRouter := chi.NewRouter()
	usersRouter.Use(middleware.Recovery(h.logger))
	usersRouter.Use(middleware.RequestID)
	usersRouter.Use(middleware.RequestTime)
	usersRouter.Use(middleware.Logger(h.logger))
	usersRouter.Use(middleware.Timeout(requestTimeout))
	usersRouter.Use(middleware.ContentTypeJSON)
	usersRouter.Use(middleware.LatencyMiddleware(h.metrics))

	usersRouter.Post("/users/register", h.handleRegister)
	usersRouter.Post("/auth/login", h.handleLogin)

	usersRouter.Group(func(authed chi.Router) {
		authed.Use(auth.RequireAuth(h.guard, h.logger))
		authed.Post("/auth/logout", h.handleLogout)
		authed.Get("/users/me", h.handleMe)
		authed.Patch("/users/me", h.handleUpdateMe)
		authed.Get("/users/{id}", h.handleGetUser)
	})

	r.Mount("/v1", usersRouter)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RegisterRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	user, err := h.users.Register(ctx, service.RegisterCommand{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "register", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, toUserResponse(user))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[LoginRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.users.Login(ctx, req.UsernameOrEmail, req.Password)
	if err != nil {
		h.writeServiceError(ctx, w, "login", err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, toTokenResponse(result))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	if err := h.users.Logout(ctx, principal); err != nil {
		h.writeServiceError(ctx, w, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	user, err := h.users.Me(ctx, principal)
	if err != nil {
		h.writeServiceError(ctx, w, "me", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[UpdateProfileRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	user, err := h.users.UpdateProfile(ctx, principal, service.UpdateProfileCommand{FullName: req.FullName})
	if err != nil {
		h.writeServiceError(ctx, w, "update profile", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid user id"))
		return
	}
	user, err := h.users.GetUser(ctx, userID)
	if err != nil {
		h.writeServiceError(ctx, w, "get user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (id.Principal, bool) {
	principal, ok := requestcontext.Principal(r.Context())
	if !ok {
		h.logger.ErrorContext(r.Context(), "principal missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return id.Principal{}, false
	}
	return principal, true
}

// writeServiceError logs client errors at WARN and everything else at ERROR,
// then writes the mapped response.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	status := httputil.StatusFor(dErrors.CodeOf(err))
	attrs := []any{
		"op", op,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed", attrs...)
	} else {
		h.logger.WarnContext(ctx, "request rejected", attrs...)
	}
	httputil.WriteError(w, err)
}
