// Package store persists user identities. Both implementations enforce the
// uniqueness of email and username atomically with the insert and report a
// collision as sentinel.ErrAlreadyUsed.
package store

import (
	"context"
	"fmt"
	"sync"

	"parley/internal/users/models"
	id "parley/pkg/domain"
	"parley/pkg/platform/sentinel"
)

// InMemory is a process-local user store for development and tests.
type InMemory struct {
	mu         sync.RWMutex
	users      map[id.UserID]*models.User
	byEmail    map[string]id.UserID
	byUsername map[string]id.UserID
}

func NewInMemory() *InMemory {
	return &InMemory{
		users:      make(map[id.UserID]*models.User),
		byEmail:    make(map[string]id.UserID),
		byUsername: make(map[string]id.UserID),
	}
}

// CreateIfUnique inserts user unless its id, email or username is taken.
// The check and the insert happen under one lock.
func (s *InMemory) CreateIfUnique(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("create user: %w", sentinel.ErrUnavailable)
	}
	email := models.NormalizeEmail(user.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("user id: %w", sentinel.ErrAlreadyUsed)
	}
	if _, ok := s.byEmail[email]; ok {
		return fmt.Errorf("email: %w", sentinel.ErrAlreadyUsed)
	}
	if _, ok := s.byUsername[user.Username]; ok {
		return fmt.Errorf("username: %w", sentinel.ErrAlreadyUsed)
	}

	stored := user.Clone()
	stored.Email = email
	s.users[stored.ID] = stored
	s.byEmail[email] = stored.ID
	s.byUsername[stored.Username] = stored.ID
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("find user: %w", sentinel.ErrUnavailable)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[userID]; ok {
		return u.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

// FindByLogin returns the user whose username equals identifier, or failing
// that, whose email equals it case-insensitively.
func (s *InMemory) FindByLogin(ctx context.Context, identifier string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("find user: %w", sentinel.ErrUnavailable)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if userID, ok := s.byUsername[identifier]; ok {
		return s.users[userID].Clone(), nil
	}
	if userID, ok := s.byEmail[models.NormalizeEmail(identifier)]; ok {
		return s.users[userID].Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

// Update loads the user, applies fn and stores the result atomically. Email
// and username are immutable through Update.
func (s *InMemory) Update(ctx context.Context, userID id.UserID, fn func(*models.User) error) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("update user: %w", sentinel.ErrUnavailable)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID = current.ID
	working.Email = current.Email
	working.Username = current.Username
	s.users[userID] = working
	return working.Clone(), nil
}

// Ping satisfies the health checker.
func (s *InMemory) Ping(context.Context) error {
	return nil
}
