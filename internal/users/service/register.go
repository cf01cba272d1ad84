package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/asaskevich/govalidator"

	"parley/internal/users/events"
	"parley/internal/users/models"
	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
	"parley/pkg/platform/sentinel"
	"parley/pkg/requestcontext"
)

// RegisterCommand carries a registration request. Password is plaintext and
// is dropped once hashed.
type RegisterCommand struct {
	Email    string
	Username string
	Password string
	FullName *string
}

func (c *RegisterCommand) Normalize() {
	c.Email = models.NormalizeEmail(c.Email)
	c.Username = strings.TrimSpace(c.Username)
	if c.FullName != nil {
		name := strings.TrimSpace(*c.FullName)
		c.FullName = &name
		if name == "" {
			c.FullName = nil
		}
	}
}

func (c RegisterCommand) Validate() error {
	if c.Email == "" || !govalidator.IsEmail(c.Email) {
		return dErrors.New(dErrors.CodeValidation, "email must be a valid email address")
	}
	if n := utf8.RuneCountInString(c.Username); n < models.UsernameMinLen || n > models.UsernameMaxLen {
		return dErrors.New(dErrors.CodeValidation, "username must be between 3 and 50 characters")
	}
	if utf8.RuneCountInString(c.Password) < models.PasswordMinLen {
		return dErrors.New(dErrors.CodeValidation, "password must be at least 8 characters")
	}
	return nil
}

// Register creates an active identity. Email and username uniqueness is
// enforced by the store's atomic insert; a collision is CodeConflict.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*models.User, error) {
	cmd.Normalize()
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(ctx, cmd.Password)
	if err != nil {
		if dErrors.CodeOf(err) != dErrors.CodeInternal {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	now := requestcontext.Now(ctx)
	user, err := models.NewUser(id.NewUserID(), cmd.Email, cmd.Username, cmd.FullName, hash, now)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	storeCtx, cancel := s.withStoreTimeout(ctx)
	defer cancel()
	if err := s.users.CreateIfUnique(storeCtx, user); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			s.logger.InfoContext(ctx, "registration conflict",
				"request_id", requestcontext.RequestID(ctx),
			)
			return nil, dErrors.New(dErrors.CodeConflict, "email or username already registered")
		}
		return nil, s.storeFailure(ctx, "create user", err)
	}

	s.logger.InfoContext(ctx, "user registered",
		"user_id", user.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.incrementUsersCreated()
	s.notify(ctx, events.UserCreated(user, now))

	return user, nil
}
