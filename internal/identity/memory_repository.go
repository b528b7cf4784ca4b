package identity

import (
	"context"
	"fmt"

	"github.com/congo-pay/p2p_market/internal/apperr"
)

// MemoryRepository is an in-memory user store for tests and development.
type MemoryRepository struct {
	users map[string]User
}

// NewMemoryRepository builds an empty in-memory user store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]User)}
}

// Clone returns an independent copy.
func (r *MemoryRepository) Clone() *MemoryRepository {
	out := &MemoryRepository{users: make(map[string]User, len(r.users))}
	for k, v := range r.users {
		out.users[k] = v
	}
	return out
}

func (r *MemoryRepository) Create(_ context.Context, user User) error {
	for _, u := range r.users {
		if u.Username == user.Username {
			return ErrUsernameTaken
		}
	}
	user.UserID = user.ID
	r.users[user.ID] = user
	return nil
}

func (r *MemoryRepository) FindByUsername(_ context.Context, username string) (User, error) {
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("user: %w", apperr.ErrNotFound)
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (User, error) {
	user, ok := r.users[id]
	if !ok {
		return User{}, fmt.Errorf("user: %w", apperr.ErrNotFound)
	}
	return user, nil
}

func (r *MemoryRepository) UpdateTokenVersion(_ context.Context, id string, version int) error {
	user, ok := r.users[id]
	if !ok {
		return fmt.Errorf("user: %w", apperr.ErrNotFound)
	}
	user.TokenVersion = version
	r.users[id] = user
	return nil
}

func (r *MemoryRepository) LockStats(_ context.Context, id string) (Stats, error) {
	user, ok := r.users[id]
	if !ok {
		return Stats{}, fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	return user.Stats, nil
}

func (r *MemoryRepository) SaveStats(_ context.Context, stats Stats) error {
	user, ok := r.users[stats.UserID]
	if !ok {
		return fmt.Errorf("user %s: %w", stats.UserID, apperr.ErrNotFound)
	}
	user.Stats = stats
	r.users[stats.UserID] = user
	return nil
}
