package domain

import "time"

// Principal is the authenticated identity behind a single request: the decoded
// claim set of a verified token. Claims holds the custom (non-registered)
// claims. A Principal is request-scoped and never persisted.
type Principal struct {
	UserID    UserID
	Username  string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Claims    map[string]any
}

// IsAnonymous reports whether the principal carries no subject.
func (p Principal) IsAnonymous() bool {
	return p.UserID.IsNil()
}
