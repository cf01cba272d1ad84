package service

import (
	"context"
	"errors"
	"strings"

	jwttoken "parley/internal/jwt_token"
	"parley/internal/users/models"
	dErrors "parley/pkg/domain-errors"
	"parley/pkg/platform/sentinel"
	"parley/pkg/requestcontext"
)

const TokenTypeBearer = "bearer"

const invalidCredentialsMessage = "invalid username/email or password"

func invalidCredentials() error {
	return dErrors.New(dErrors.CodeInvalidCredentials, invalidCredentialsMessage)
}

// Login exchanges an identifier (username or email) and password for a
// signed token. Every rejection returns the same error.
func (s *Service) Login(ctx context.Context, identifier, password string) (*models.TokenResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "username_or_email and password are required")
	}

	storeCtx, cancel := s.withStoreTimeout(ctx)
	defer cancel()
	user, err := s.users.FindByLogin(storeCtx, identifier)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			if err := s.hasher.DummyVerify(ctx, password); err != nil {
				return nil, s.verifyFailure(ctx, err)
			}
			s.loginFailure(ctx, "unknown_identifier")
			return nil, invalidCredentials()
		}
		return nil, s.storeFailure(ctx, "find user", err)
	}

	ok, err := s.hasher.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		return nil, s.verifyFailure(ctx, err)
	}
	if !ok {
		s.loginFailure(ctx, "bad_password", "user_id", user.ID.String())
		return nil, invalidCredentials()
	}
	if s.requireActive && !user.IsActive {
		s.loginFailure(ctx, "inactive", "user_id", user.ID.String())
		return nil, invalidCredentials()
	}

	token, _, err := s.tokens.Encode(user.ID.String(), map[string]any{
		jwttoken.UsernameClaim: user.Username,
	}, s.tokenTTL)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue token", "user_id", user.ID.String(), "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}

	s.incrementLoginAttempt("success")
	s.logger.InfoContext(ctx, "user logged in",
		"user_id", user.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)

	return &models.TokenResult{
		AccessToken: token,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int(s.tokenTTL.Seconds()),
	}, nil
}

func (s *Service) loginFailure(ctx context.Context, reason string, attrs ...any) {
	s.incrementLoginAttempt("failure")
	args := append([]any{
		"reason", reason,
		"request_id", requestcontext.RequestID(ctx),
	}, attrs...)
	s.logger.WarnContext(ctx, "login rejected", args...)
}

// verifyFailure reports a verification that never ran to completion. It is
// not a failed login.
func (s *Service) verifyFailure(ctx context.Context, err error) error {
	s.logger.WarnContext(ctx, "password verification did not complete",
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	if dErrors.CodeOf(err) != dErrors.CodeInternal {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeTimeout, "password verification cancelled")
}
