// Package revocation keeps the jti revocation list that backs logout. Entries
// live only as long as the token they revoke.
package revocation

import (
	"fmt"
	"time"

	"parley/internal/platform/metrics"
	"parley/pkg/platform/sentinel"
)

// Clock returns the current time.
type Clock func() time.Time

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	return nil
}

func observe(m *metrics.Metrics, start time.Time) {
	if m != nil {
		m.ObserveRevocationCheck(time.Since(start))
	}
}
