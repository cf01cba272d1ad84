package handler

import (
	"strings"

	"github.com/asaskevich/govalidator"

	"parley/internal/users/models"
	dErrors "parley/pkg/domain-errors"
)

type RegisterRequest struct {
	Email    string  `json:"email"`
	Username string  `json:"username"`
	Password string  `json:"password"`
	FullName *string `json:"full_name"`
}

func (r *RegisterRequest) Validate() error {
	r.Email = models.NormalizeEmail(r.Email)
	r.Username = strings.TrimSpace(r.Username)
	if !govalidator.StringLength(r.Email, "1", "255") || !govalidator.IsEmail(r.Email) {
		return dErrors.New(dErrors.CodeValidation, "email must be a valid email address")
	}
	if !govalidator.StringLength(r.Username, "3", "50") {
		return dErrors.New(dErrors.CodeValidation, "username must be between 3 and 50 characters")
	}
	if !govalidator.MinStringLength(r.Password, "8") {
		return dErrors.New(dErrors.CodeValidation, "password must be at least 8 characters")
	}
	if r.FullName != nil && !govalidator.MaxStringLength(*r.FullName, "255") {
		return dErrors.New(dErrors.CodeValidation, "full_name must be at most 255 characters")
	}
	return nil
}

type LoginRequest struct {
	UsernameOrEmail string `json:"username_or_email"`
	Password        string `json:"password"`
}

func (r *LoginRequest) Validate() error {
	r.UsernameOrEmail = strings.TrimSpace(r.UsernameOrEmail)
	if r.UsernameOrEmail == "" {
		return dErrors.New(dErrors.CodeValidation, "username_or_email is required")
	}
	if !govalidator.MaxStringLength(r.UsernameOrEmail, "255") {
		return dErrors.New(dErrors.CodeValidation, "username_or_email is too long")
	}
	if r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	return nil
}

// UpdateProfileRequest is a partial update: a missing or null full_name
// leaves the stored value unchanged.
type UpdateProfileRequest struct {
	FullName *string `json:"full_name"`
}

func (r *UpdateProfileRequest) Validate() error {
	if r.FullName != nil && !govalidator.MaxStringLength(*r.FullName, "255") {
		return dErrors.New(dErrors.CodeValidation, "full_name must be at most 255 characters")
	}
	return nil
}
