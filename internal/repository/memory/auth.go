package memory

import (
	"context"
	"strings"
	"time"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository"
	"github.com/iliyamo/library-circulation/internal/utils"
)

// CreateUser stores a new account with a bcrypt hash of password.
func (s *Store) CreateUser(_ context.Context, email, password, role string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	var id uint64
	err = s.view(func(st *state) error {
		for _, u := range st.users {
			if u.Email == email {
				return repository.ErrEmailExists
			}
		}
		now := s.clock.Now()
		id = st.next("users")
		st.users[id] = model.User{ID: id, Email: email, PasswordHash: hash, Role: role, IsActive: true, CreatedAt: now, UpdatedAt: now}
		return nil
	})
	return id, err
}

// UserByEmail looks an account up by normalized email.
func (s *Store) UserByEmail(_ context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var out model.User
	err := s.view(func(st *state) error {
		for _, u := range st.users {
			if u.Email == email {
				out = u
				return nil
			}
		}
		return circulation.ErrNotFound
	})
	return out, err
}

// UserByID looks an account up by id.
func (s *Store) UserByID(_ context.Context, id uint64) (model.User, error) {
	var out model.User
	err := s.view(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return circulation.ErrNotFound
		}
		out = u
		return nil
	})
	return out, err
}

func (s *Store) StoreRefresh(_ context.Context, userID uint64, tokenHash string, exp time.Time) error {
	return s.view(func(st *state) error {
		st.tokens[tokenHash] = model.RefreshToken{
			ID:        st.next("refresh_tokens"),
			UserID:    userID,
			TokenHash: tokenHash,
			ExpiresAt: exp,
			CreatedAt: s.clock.Now(),
		}
		return nil
	})
}

func (s *Store) ValidateRefresh(_ context.Context, tokenHash string) (uint64, error) {
	var uid uint64
	err := s.view(func(st *state) error {
		t, ok := st.tokens[tokenHash]
		if !ok || t.RevokedAt != nil || s.clock.Now().After(t.ExpiresAt) {
			return repository.ErrInvalidToken
		}
		uid = t.UserID
		return nil
	})
	return uid, err
}

func (s *Store) RevokeByHash(_ context.Context, tokenHash string) error {
	return s.view(func(st *state) error {
		t, ok := st.tokens[tokenHash]
		if ok && t.RevokedAt == nil {
			now := s.clock.Now()
			t.RevokedAt = &now
			st.tokens[tokenHash] = t
		}
		return nil
	})
}

func (s *Store) RevokeAllForUser(_ context.Context, userID uint64) error {
	return s.view(func(st *state) error {
		now := s.clock.Now()
		for k, t := range st.tokens {
			if t.UserID == userID && t.RevokedAt == nil {
				t.RevokedAt = &now
				st.tokens[k] = t
			}
		}
		return nil
	})
}
