package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, token lists and publishers
// return these (optionally wrapped) so services can translate them into
// domain errors without knowing which backend produced them.
//
//   - ErrNotFound: record does not exist
//   - ErrAlreadyUsed: a unique attribute (email, username, jti) is already taken
//   - ErrInvalidState: record is in the wrong state for the operation
//   - ErrUnavailable: backing service did not answer in time or refused the connection
var (
	ErrNotFound     = errors.New("not found")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
