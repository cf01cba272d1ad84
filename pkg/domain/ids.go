package domain

import (
	"github.com/google/uuid"

	dErrors "parley/pkg/domain-errors"
)

// UserID identifies a registered identity. It is generated once at
// registration and never reused.
type UserID uuid.UUID

// EventID identifies a published change notification.
type EventID uuid.UUID

// NewUserID returns a fresh random user id.
func NewUserID() UserID {
	return UserID(uuid.New())
}

// NewEventID returns a fresh random event id.
func NewEventID() EventID {
	return EventID(uuid.New())
}

// ParseUserID parses a user id at a trust boundary (token subject, URL param).
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user ID")
	if err != nil {
		return UserID{}, err
	}
	return UserID(u), nil
}

func (id UserID) String() string {
	return uuid.UUID(id).String()
}

func (id UserID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *UserID) UnmarshalText(b []byte) error {
	parsed, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// IsNil reports whether the id is the zero value.
func (id UserID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id EventID) String() string {
	return uuid.UUID(id).String()
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	return u, nil
}
