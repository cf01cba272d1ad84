// Package models holds the rate limiting vocabulary shared by the stores and
// the middleware.
package models

import (
	"fmt"
	"time"
)

// EndpointClass groups routes that share a request budget.
type EndpointClass string

const (
	// ClassAuth covers registration and login.
	ClassAuth EndpointClass = "auth"
	// ClassRead covers GET routes.
	ClassRead EndpointClass = "read"
	// ClassWrite covers every other forwarded route.
	ClassWrite EndpointClass = "write"
)

// IsValid checks if the endpoint class is one of the supported values.
func (c EndpointClass) IsValid() bool {
	switch c {
	case ClassAuth, ClassRead, ClassWrite:
		return true
	}
	return false
}

// Limit is a request budget per sliding window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, only set when not allowed
}

// RateLimitExceededResponse is the 429 body. It extends the usual error
// envelope with retry_after.
type RateLimitExceededResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RetryAfter       int    `json:"retry_after"`
}

// IPKey builds the bucket key for a client IP within a class.
func IPKey(class EndpointClass, ip string) string {
	return fmt.Sprintf("rl:%s:ip:%s", class, SanitizeKeySegment(ip))
}
