package service

import (
	"context"

	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
	"parley/pkg/requestcontext"
)

// Logout revokes the presented token for the rest of its lifetime. Without
// a revocation list it is a no-op and the token stays valid until expiry.
func (s *Service) Logout(ctx context.Context, principal id.Principal) error {
	if principal.IsAnonymous() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if s.revoker == nil {
		return nil
	}
	if principal.TokenID == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "token has no identifier")
	}

	remaining := principal.ExpiresAt.Sub(requestcontext.Now(ctx))
	if remaining <= 0 {
		return nil
	}

	storeCtx, cancel := s.withStoreTimeout(ctx)
	defer cancel()
	if err := s.revoker.RevokeToken(storeCtx, principal.TokenID, remaining); err != nil {
		s.logger.ErrorContext(ctx, "failed to add token to revocation list",
			"user_id", principal.UserID.String(),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "token revocation unavailable")
	}

	s.logger.InfoContext(ctx, "user logged out",
		"user_id", principal.UserID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}
