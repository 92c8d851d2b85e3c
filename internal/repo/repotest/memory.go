// Package repotest provides in-memory repositories for tests.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rvidia/server/internal/model"
	"github.com/rvidia/server/internal/repo"
)

// Users is an in-memory repo.UserRepo with the same uniqueness rules as the users table
type Users struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]model.User
	Err   error // returned by every call when set
	clock func() time.Time
}

// NewUsers returns an empty user store
func NewUsers() *Users {
	return &Users{byID: make(map[uuid.UUID]model.User), clock: time.Now}
}

var _ repo.UserRepo = (*Users)(nil)

func (s *Users) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return model.User{}, s.Err
	}
	u, ok := s.byID[id]
	if !ok {
		return model.User{}, fmt.Errorf("user: %w", repo.ErrNotFound)
	}
	return u, nil
}

func (s *Users) GetByEmail(_ context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.find(func(u model.User) bool { return u.Email == email })
}

func (s *Users) GetByUsername(_ context.Context, username string) (model.User, error) {
	username = strings.TrimSpace(username)
	return s.find(func(u model.User) bool { return strings.EqualFold(u.Username, username) })
}

func (s *Users) find(match func(model.User) bool) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return model.User{}, s.Err
	}
	for _, u := range s.byID {
		if match(u) {
			return u, nil
		}
	}
	return model.User{}, fmt.Errorf("user: %w", repo.ErrNotFound)
}

func (s *Users) Create(_ context.Context, u model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return model.User{}, s.Err
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for _, existing := range s.byID {
		if existing.Email == u.Email {
			return model.User{}, fmt.Errorf("insert user: %w", repo.ErrEmailConflict)
		}
		if strings.EqualFold(existing.Username, u.Username) {
			return model.User{}, fmt.Errorf("insert user: %w", repo.ErrConflict)
		}
		if u.GoogleID != nil && existing.GoogleID != nil && *existing.GoogleID == *u.GoogleID {
			return model.User{}, fmt.Errorf("insert user: %w", repo.ErrConflict)
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = s.clock()
	u.UpdatedAt = u.CreatedAt
	s.byID[u.ID] = u
	return u, nil
}

func (s *Users) LinkGoogle(_ context.Context, id uuid.UUID, googleID string) error {
	return s.update(id, func(u *model.User) { u.GoogleID = &googleID })
}

func (s *Users) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	return s.update(id, func(u *model.User) { u.PasswordHash = passwordHash })
}

func (s *Users) update(id uuid.UUID, fn func(*model.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	u, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("user: %w", repo.ErrNotFound)
	}
	fn(&u)
	u.UpdatedAt = s.clock()
	s.byID[id] = u
	return nil
}

func (s *Users) List(_ context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	users := make([]model.User, 0, len(s.byID))
	for _, u := range s.byID {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })
	return users, nil
}

// Delete removes a user; used to simulate an account deleted under a live session
func (s *Users) Delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

// Resets is an in-memory repo.ResetRepo
type Resets struct {
	mu     sync.Mutex
	tokens map[uuid.UUID]resetEntry
}

type resetEntry struct {
	hash      string
	expiresAt time.Time
}

// NewResets returns an empty reset token store
func NewResets() *Resets {
	return &Resets{tokens: make(map[uuid.UUID]resetEntry)}
}

var _ repo.ResetRepo = (*Resets)(nil)

func (s *Resets) Replace(_ context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = resetEntry{hash: tokenHash, expiresAt: expiresAt}
	return nil
}

func (s *Resets) Consume(_ context.Context, tokenHash string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, e := range s.tokens {
		if e.hash != tokenHash {
			continue
		}
		delete(s.tokens, userID)
		if !time.Now().Before(e.expiresAt) {
			return uuid.Nil, fmt.Errorf("reset token expired: %w", repo.ErrNotFound)
		}
		return userID, nil
	}
	return uuid.Nil, fmt.Errorf("reset token: %w", repo.ErrNotFound)
}

// Count is the number of stored tokens
func (s *Resets) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
