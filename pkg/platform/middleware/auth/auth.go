// Package auth authenticates requests carrying a bearer token.
//
// Guard.Authenticate classifies one presented credential:
//
//	no header                           -> ErrMissingCredential
//	not "Bearer <token>"                -> ErrMalformedCredential
//	token fails to decode or is revoked -> ErrInvalidOrExpired
//	otherwise                           -> authenticated principal
//
// RequireAuth turns any failure into a 401 with a bearer challenge.
// OptionalAuth treats any failure as an anonymous caller. Neither touches the
// user store; the token's claims are trusted until they expire.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
	"parley/pkg/platform/httputil"
	"parley/pkg/requestcontext"
)

const bearerScheme = "bearer"

// Credential failures. Returned errors match these with errors.Is.
var (
	ErrMissingCredential   = dErrors.New(dErrors.CodeUnauthorized, "missing authorization header")
	ErrMalformedCredential = dErrors.New(dErrors.CodeUnauthorized, "invalid authorization header format")
	ErrInvalidOrExpired    = dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token")
)

//go:generate mockgen -source=auth.go -destination=mocks/auth-mocks.go -package=mocks

// TokenValidator decodes a raw token into a principal.
type TokenValidator interface {
	ValidateToken(tokenString string) (id.Principal, error)
}

// TokenRevocationChecker reports whether a token id has been revoked.
type TokenRevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type Guard struct {
	validator TokenValidator
	revoked   TokenRevocationChecker
}

type GuardOption func(*Guard)

// WithRevocationChecker makes the guard reject revoked tokens. Tokens without
// a jti are rejected when a checker is configured.
func WithRevocationChecker(checker TokenRevocationChecker) GuardOption {
	return func(g *Guard) {
		g.revoked = checker
	}
}

func NewGuard(validator TokenValidator, opts ...GuardOption) *Guard {
	g := &Guard{validator: validator}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate classifies the Authorization header value. A failing
// revocation lookup is reported as CodeUnavailable, not as an auth failure.
func (g *Guard) Authenticate(ctx context.Context, header string) (id.Principal, error) {
	if strings.TrimSpace(header) == "" {
		return id.Principal{}, ErrMissingCredential
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], bearerScheme) {
		return id.Principal{}, ErrMalformedCredential
	}

	principal, err := g.validator.ValidateToken(parts[1])
	if err != nil {
		return id.Principal{}, dErrors.Wrap(err, ErrInvalidOrExpired.Code, ErrInvalidOrExpired.Message)
	}

	if g.revoked != nil {
		if principal.TokenID == "" {
			return id.Principal{}, ErrInvalidOrExpired
		}
		revoked, err := g.revoked.IsTokenRevoked(ctx, principal.TokenID)
		if err != nil {
			return id.Principal{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "token revocation check unavailable")
		}
		if revoked {
			return id.Principal{}, dErrors.Wrap(errors.New("token revoked"), ErrInvalidOrExpired.Code, ErrInvalidOrExpired.Message)
		}
	}
	return principal, nil
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(guard *Guard, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			header := r.Header.Get("Authorization")
			principal, err := guard.Authenticate(ctx, header)
			if err != nil {
				requestID := requestcontext.RequestID(ctx)
				if dErrors.HasCode(err, dErrors.CodeUnavailable) {
					logger.ErrorContext(ctx, "failed to check token revocation",
						"error", err,
						"request_id", requestID,
					)
				} else {
					logger.WarnContext(ctx, "unauthorized access",
						"reason", reason(err),
						"error", err,
						"request_id", requestID,
					)
				}
				httputil.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(withPrincipal(ctx, principal, header)))
		})
	}
}

// OptionalAuth attaches a principal when the request carries a valid bearer
// token and otherwise lets the request through as anonymous.
func OptionalAuth(guard *Guard, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			header := r.Header.Get("Authorization")
			principal, err := guard.Authenticate(ctx, header)
			if err != nil {
				if !errors.Is(err, ErrMissingCredential) {
					logger.DebugContext(ctx, "ignoring invalid credential on optional route",
						"reason", reason(err),
						"request_id", requestcontext.RequestID(ctx),
					)
				}
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(withPrincipal(ctx, principal, header)))
		})
	}
}

func withPrincipal(ctx context.Context, principal id.Principal, header string) context.Context {
	ctx = requestcontext.WithPrincipal(ctx, principal)
	return requestcontext.WithBearer(ctx, header)
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrMalformedCredential):
		return "malformed_credential"
	case errors.Is(err, ErrInvalidOrExpired):
		return "invalid_or_expired"
	default:
		return "unknown"
	}
}
