// Package password hashes and verifies user credentials with bcrypt.
//
// bcrypt is deliberately slow. Calls are bounded by a weighted semaphore sized
// to GOMAXPROCS so concurrent logins share CPU instead of queueing behind a
// single lock, and a waiting caller gives up when its context is cancelled.
package password

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"

	dErrors "parley/pkg/domain-errors"
)

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = 12

// maxPasswordBytes is bcrypt's input limit.
const maxPasswordBytes = 72

type Hasher struct {
	cost int
	sem  *semaphore.Weighted

	// dummy is a hash of a random value at the configured cost. Verifying
	// against it costs the same as a real verification.
	dummy []byte
}

type Option func(*Hasher)

// WithCost overrides DefaultCost. Values outside bcrypt's range are ignored.
func WithCost(cost int) Option {
	return func(h *Hasher) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			h.cost = cost
		}
	}
}

// WithConcurrency bounds the number of hash/verify calls running at once.
func WithConcurrency(n int) Option {
	return func(h *Hasher) {
		if n > 0 {
			h.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func New(opts ...Option) *Hasher {
	h := &Hasher{
		cost: DefaultCost,
		sem:  semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}
	for _, opt := range opts {
		opt(h)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), h.cost)
	if err != nil {
		// cost is range-checked, so only a failing crypto/rand gets here.
		panic(fmt.Sprintf("password: build dummy hash: %v", err))
	}
	h.dummy = dummy
	return h
}

// Hash returns a salted bcrypt hash of plaintext.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", dErrors.New(dErrors.CodeValidation, "password is required")
	}
	if len(plaintext) > maxPasswordBytes {
		return "", dErrors.New(dErrors.CodeValidation, "password must be at most 72 bytes")
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeTimeout, "password hashing cancelled")
	}
	defer h.sem.Release(1)

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeValidation, "password must be at most 72 bytes")
		}
		return "", fmt.Errorf("could not hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches hash. A malformed hash is a
// mismatch. A context that ends while waiting for a hashing slot returns a
// CodeTimeout error, never a mismatch.
func (h *Hasher) Verify(ctx context.Context, plaintext, hash string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeTimeout, "password verification cancelled")
	}
	defer h.sem.Release(1)
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil, nil
}

// DummyVerify burns the same work as a real verification and always fails.
// Callers use it when no stored hash exists so that unknown identifiers are
// not distinguishable from wrong passwords by timing.
func (h *Hasher) DummyVerify(ctx context.Context, plaintext string) error {
	_, err := h.Verify(ctx, plaintext, string(h.dummy))
	return err
}
