package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"parley/internal/users/models"
	id "parley/pkg/domain"
	"parley/pkg/platform/sentinel"
	"parley/pkg/platform/tx"
)

const userColumns = `id, email, username, full_name, password_hash, is_active, created_at, updated_at`

// PostgresStore persists users in PostgreSQL. Uniqueness of email and
// username is enforced by unique indexes, so concurrent registrations cannot
// both succeed.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateIfUnique(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Executor(ctx, s.db).ExecContext(ctx, query,
		user.ID.String(),
		models.NormalizeEmail(user.Email),
		user.Username,
		user.FullName,
		user.PasswordHash,
		user.IsActive,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return classify("create user", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx, query, userID.String())
	return scanUser("find user by id", row)
}

// FindByLogin prefers an exact username match over an email match.
func (s *PostgresStore) FindByLogin(ctx context.Context, identifier string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE username = $1 OR email = $2
		ORDER BY (username = $1) DESC
		LIMIT 1
	`
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx, query, identifier, models.NormalizeEmail(identifier))
	return scanUser("find user by login", row)
}

// Update locks the row, applies fn and writes the mutable columns back in the
// same transaction.
func (s *PostgresStore) Update(ctx context.Context, userID id.UserID, fn func(*models.User) error) (*models.User, error) {
	var updated *models.User
	err := tx.Run(ctx, s.db, func(txCtx context.Context) error {
		exec := tx.Executor(txCtx, s.db)
		query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
		user, err := scanUser("lock user", exec.QueryRowContext(txCtx, query, userID.String()))
		if err != nil {
			return err
		}
		if err := fn(user); err != nil {
			return err
		}
		_, err = exec.ExecContext(txCtx, `
			UPDATE users
			SET full_name = $2, password_hash = $3, is_active = $4, updated_at = $5
			WHERE id = $1
		`, userID.String(), user.FullName, user.PasswordHash, user.IsActive, user.UpdatedAt)
		if err != nil {
			return classify("update user", err)
		}
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify("ping users db", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(op string, row rowScanner) (*models.User, error) {
	var (
		u        models.User
		rawID    uuid.UUID
		fullName sql.NullString
	)
	err := row.Scan(&rawID, &u.Email, &u.Username, &fullName, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, classify(op, err)
	}
	u.ID = id.UserID(rawID)
	if fullName.Valid {
		name := fullName.String
		u.FullName = &name
	}
	return &u, nil
}

// classify maps driver errors onto sentinel facts: unique violations become
// ErrAlreadyUsed, timeouts and connection failures become ErrUnavailable.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, sentinel.ErrAlreadyUsed)
	}
	var connErr *pgconn.ConnectError
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.As(err, &connErr) ||
		pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
