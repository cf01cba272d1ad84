package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"parley/pkg/platform/sentinel"
)

func TestClassify(t *testing.T) {
	t.Run("unique violation", func(t *testing.T) {
		err := classify("create user", &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_email_key"})
		assert.ErrorIs(t, err, sentinel.ErrAlreadyUsed)
		assert.Contains(t, err.Error(), "users_email_key")
	})

	t.Run("deadline", func(t *testing.T) {
		err := classify("find user", context.DeadlineExceeded)
		assert.ErrorIs(t, err, sentinel.ErrUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("other pg error stays opaque", func(t *testing.T) {
		err := classify("find user", &pgconn.PgError{Code: pgerrcode.UndefinedTable})
		assert.False(t, errors.Is(err, sentinel.ErrAlreadyUsed))
		assert.False(t, errors.Is(err, sentinel.ErrUnavailable))
	})
}
