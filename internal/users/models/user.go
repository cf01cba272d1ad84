package models

import (
	"strings"
	"time"

	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
)

const (
	UsernameMinLen = 3
	UsernameMaxLen = 50
	PasswordMinLen = 8
)

// User is the identity aggregate owned by the users service.
//
// Invariants:
//   - ID is never reused
//   - Email is stored trimmed and lowercased, and is unique
//   - Username is 3 to 50 characters, unique, compared case-sensitively
//   - PasswordHash is never serialized
//   - new users start active
type User struct {
	ID           id.UserID `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	FullName     *string   `json:"full_name"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NormalizeEmail trims and lowercases an email so lookups and the uniqueness
// index agree.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NewUser(userID id.UserID, email, username string, fullName *string, passwordHash string, now time.Time) (*User, error) {
	email = NormalizeEmail(email)
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user id cannot be empty")
	}
	if email == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "email cannot be empty")
	}
	if n := len([]rune(username)); n < UsernameMinLen || n > UsernameMaxLen {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "username must be between 3 and 50 characters")
	}
	if passwordHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "password hash cannot be empty")
	}
	return &User{
		ID:           userID,
		Email:        email,
		Username:     username,
		FullName:     fullName,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ProfileUpdate lists the fields a user may change about themselves. Nil
// fields are left unchanged.
type ProfileUpdate struct {
	FullName *string
}

// IsEmpty reports whether the update changes nothing.
func (p ProfileUpdate) IsEmpty() bool {
	return p.FullName == nil
}

// ApplyProfile applies the provided fields and reports whether anything was set.
func (u *User) ApplyProfile(update ProfileUpdate, now time.Time) bool {
	if update.IsEmpty() {
		return false
	}
	if update.FullName != nil {
		name := *update.FullName
		u.FullName = &name
	}
	u.UpdatedAt = now
	return true
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (u *User) Clone() *User {
	c := *u
	if u.FullName != nil {
		name := *u.FullName
		c.FullName = &name
	}
	return &c
}

// TokenResult is returned by a successful login.
type TokenResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int
}
