package service

import (
	"context"
	"errors"

	"parley/internal/users/events"
	"parley/internal/users/models"
	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
	"parley/pkg/platform/sentinel"
	"parley/pkg/requestcontext"
)

const inactiveMessage = "user not found or inactive"

var errInactive = errors.New("user inactive")

// UpdateProfileCommand lists the profile fields to change. Nil fields are
// left as stored.
type UpdateProfileCommand struct {
	FullName *string
}

// Me re-resolves the caller's identity. A token whose subject no longer
// exists or is inactive is rejected even though it verifies.
func (s *Service) Me(ctx context.Context, principal id.Principal) (*models.User, error) {
	if principal.IsAnonymous() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	storeCtx, cancel := s.withStoreTimeout(ctx)
	defer cancel()
	user, err := s.users.FindByID(storeCtx, principal.UserID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.staleToken(ctx, principal, "missing")
			return nil, dErrors.New(dErrors.CodeUnauthorized, inactiveMessage)
		}
		return nil, s.storeFailure(ctx, "find user", err)
	}
	if !user.IsActive {
		s.staleToken(ctx, principal, "inactive")
		return nil, dErrors.New(dErrors.CodeUnauthorized, inactiveMessage)
	}
	return user, nil
}

// UpdateProfile applies the provided fields to the caller's own identity
// and publishes user.updated. An empty update returns the current record
// without writing or publishing.
func (s *Service) UpdateProfile(ctx context.Context, principal id.Principal, cmd UpdateProfileCommand) (*models.User, error) {
	update := models.ProfileUpdate{FullName: cmd.FullName}
	if update.IsEmpty() {
		return s.Me(ctx, principal)
	}
	if principal.IsAnonymous() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	now := requestcontext.Now(ctx)
	storeCtx, cancel := s.withStoreTimeout(ctx)
	defer cancel()
	user, err := s.users.Update(storeCtx, principal.UserID, func(u *models.User) error {
		if !u.IsActive {
			return errInactive
		}
		u.ApplyProfile(update, now)
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			s.staleToken(ctx, principal, "missing")
			return nil, dErrors.New(dErrors.CodeUnauthorized, inactiveMessage)
		case errors.Is(err, errInactive):
			s.staleToken(ctx, principal, "inactive")
			return nil, dErrors.New(dErrors.CodeUnauthorized, inactiveMessage)
		}
		return nil, s.storeFailure(ctx, "update user", err)
	}

	s.logger.InfoContext(ctx, "profile updated",
		"user_id", user.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.notify(ctx, events.UserUpdated(user, now))
	return user, nil
}

// GetUser returns the public view of any identity.
func (s *Service) GetUser(ctx context.Context, userID id.UserID) (*models.User, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}
	storeCtx, cancel := s.withStoreTimeout(ctx)
	defer cancel()
	user, err := s.users.FindByID(storeCtx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, s.storeFailure(ctx, "find user", err)
	}
	return user, nil
}

func (s *Service) staleToken(ctx context.Context, principal id.Principal, reason string) {
	s.logger.WarnContext(ctx, "token subject rejected",
		"reason", reason,
		"user_id", principal.UserID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
}
