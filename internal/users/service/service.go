// Package service implements the identity lifecycle: registration, login,
// profile reads and updates, and logout. Stores, hashing, token issuance and
// event delivery are injected so each can be replaced in tests.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"parley/internal/platform/metrics"
	"parley/internal/users/events"
	"parley/internal/users/models"
	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
	"parley/pkg/platform/sentinel"
	"parley/pkg/requestcontext"
)

const defaultStoreTimeout = 3 * time.Second

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

type UserStore interface {
	CreateIfUnique(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	FindByLogin(ctx context.Context, identifier string) (*models.User, error)
	Update(ctx context.Context, userID id.UserID, fn func(*models.User) error) (*models.User, error)
}

type PasswordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, hash string) (bool, error)
	DummyVerify(ctx context.Context, plaintext string) error
}

type TokenIssuer interface {
	Encode(subject string, extra map[string]any, ttl time.Duration) (string, time.Time, error)
}

type EventNotifier interface {
	Notify(ctx context.Context, env events.Envelope)
}

type TokenRevoker interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
}

// Service orchestrates identity operations.
type Service struct {
	users         UserStore
	hasher        PasswordHasher
	tokens        TokenIssuer
	notifier      EventNotifier
	revoker       TokenRevoker
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tokenTTL      time.Duration
	storeTimeout  time.Duration
	requireActive bool
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithNotifier(n EventNotifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithRevoker enables logout by jti revocation.
func WithRevoker(r TokenRevoker) Option {
	return func(s *Service) {
		s.revoker = r
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func WithRequireActiveLogin(require bool) Option {
	return func(s *Service) {
		s.requireActive = require
	}
}

// New constructs a Service. Tokens last one hour unless WithTokenTTL says
// otherwise; inactive identities cannot log in unless WithRequireActiveLogin(false).
func New(users UserStore, hasher PasswordHasher, tokens TokenIssuer, opts ...Option) *Service {
	s := &Service{
		users:         users,
		hasher:        hasher,
		tokens:        tokens,
		logger:        slog.Default(),
		tokenTTL:      time.Hour,
		storeTimeout:  defaultStoreTimeout,
		requireActive: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TokenTTL returns the lifetime of issued tokens.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

func (s *Service) withStoreTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// storeFailure translates an unexpected store error. Timeouts and connection
// failures become CodeUnavailable so they never read as auth failures.
func (s *Service) storeFailure(ctx context.Context, op string, err error) error {
	s.logger.ErrorContext(ctx, "user store failure",
		"op", op,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	if errors.Is(err, sentinel.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "user store unavailable")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+op)
}

func (s *Service) notify(ctx context.Context, env events.Envelope) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, env)
}

func (s *Service) incrementUsersCreated() {
	if s.metrics != nil {
		s.metrics.IncrementUsersCreated()
	}
}

func (s *Service) incrementLoginAttempt(result string) {
	if s.metrics != nil {
		s.metrics.IncrementLoginAttempt(result)
	}
}
