package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a dev/test fallback when DB is not configured.
// It mirrors PostgresStore semantics including conflict detection.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]User   // id -> user
	creds map[string]string // id -> password hash
}

// NewMemoryStore constructs an in-memory Store implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]User),
		creds: make(map[string]string),
	}
}

// CreateUser creates a user, enforcing email uniqueness.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := strings.TrimSpace(in.Email)
	fullName := strings.TrimSpace(in.FullName)
	if email == "" {
		return User{}, pgInvalid(op, "email is required")
	}
	if fullName == "" {
		return User{}, pgInvalid(op, "full_name is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	emailNorm := NormalizeEmail(email)

	pwHash, err := HashPassword(in.Password, DefaultArgon2idParams())
	if err != nil {
		return User{}, pgInvalid(op, err.Error())
	}

	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.EmailNorm == emailNorm {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
	}

	u := User{
		ID:        id,
		Email:     email,
		EmailNorm: emailNorm,
		FullName:  fullName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[id] = u
	s.creds[id] = pwHash
	return u, nil
}

// GetUserByID loads a user by id.
func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.TrimSpace(id)]
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrNotFound}
	}
	return u, nil
}

// GetUserAuthByEmail loads the auth view for a login attempt.
func (s *MemoryStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByEmail"

	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	norm := NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.users {
		if u.EmailNorm == norm {
			return UserAuth{User: u, PasswordHash: s.creds[id]}, nil
		}
	}
	return UserAuth{}, OpError{Op: op, Kind: ErrNotFound}
}

// ListUsersExcluding returns every user except selfID, ordered by full name then id.
func (s *MemoryStore) ListUsersExcluding(ctx context.Context, selfID string) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]User, 0, len(s.users))
	for id, u := range s.users {
		if id == selfID {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateProfile applies a profile patch; nil fields keep their value.
func (s *MemoryStore) UpdateProfile(ctx context.Context, in UpdateProfileInput) (User, error) {
	const op = "identity.UpdateProfile"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.TrimSpace(in.UserID)]
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrNotFound}
	}
	if in.FullName != nil {
		u.FullName = *in.FullName
	}
	if in.AvatarURL != nil {
		u.AvatarURL = *in.AvatarURL
	}
	u.UpdatedAt = now
	s.users[u.ID] = u
	return u, nil
}
