// Package events publishes user lifecycle notifications. Delivery is
// best-effort: a failed publish never fails the operation that caused it.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"parley/internal/users/models"
)

type Type string

const (
	TypeUserCreated Type = "user.created"
	TypeUserUpdated Type = "user.updated"
)

const (
	EnvelopeVersion = "1.0"
	Source          = "users-service"
)

// Envelope is the wire shape consumed by other backends. The routing key is
// the event type.
type Envelope struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Version    string         `json:"version"`
	Source     string         `json:"source"`
	UserID     string         `json:"user_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

func (e Envelope) RoutingKey() string {
	return string(e.Type)
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func newEnvelope(t Type, userID string, payload map[string]any, now time.Time) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Type:       t,
		Version:    EnvelopeVersion,
		Source:     Source,
		UserID:     userID,
		OccurredAt: now.UTC(),
		Payload:    payload,
	}
}

// UserCreated carries the public fields of a new identity. The password hash
// is never part of a payload.
func UserCreated(u *models.User, now time.Time) Envelope {
	return newEnvelope(TypeUserCreated, u.ID.String(), map[string]any{
		"email":     u.Email,
		"username":  u.Username,
		"full_name": u.FullName,
	}, now)
}

// UserUpdated carries the fields a profile update may change.
func UserUpdated(u *models.User, now time.Time) Envelope {
	return newEnvelope(TypeUserUpdated, u.ID.String(), map[string]any{
		"full_name": u.FullName,
	}, now)
}
