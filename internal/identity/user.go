package identity

import (
	"context"
	"strings"
	"time"
)

// User is Ripple's canonical directory record.
// It never carries credential material; see UserAuth for the auth-only view.
type User struct {
	ID        string
	Email     string
	EmailNorm string
	FullName  string
	AvatarURL string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserAuth joins a User with its stored password hash for login checks.
type UserAuth struct {
	User         User
	PasswordHash string
}

// CreateUserInput describes a signup request.
type CreateUserInput struct {
	Email    string
	FullName string
	Password string
	Now      time.Time
}

// UpdateProfileInput describes a profile patch; nil fields are left
// untouched.
type UpdateProfileInput struct {
	UserID    string
	FullName  *string
	AvatarURL *string
	Now       time.Time
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Store is the user-directory persistence boundary.
type Store interface {
	// CreateUser creates a user, hashing the password.
	// Returns ConflictError{Field:"email"} on a duplicate email.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// GetUserByID loads a user by id. Returns ErrNotFound when missing.
	GetUserByID(ctx context.Context, id string) (User, error)

	// GetUserAuthByEmail loads the auth view for a login attempt.
	// Returns ErrNotFound when the email is unknown.
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)

	// ListUsersExcluding returns every user except selfID, ordered by
	// full name then id for a stable directory listing.
	ListUsersExcluding(ctx context.Context, selfID string) ([]User, error)

	// UpdateProfile applies a profile patch. Returns ErrNotFound when missing.
	UpdateProfile(ctx context.Context, in UpdateProfileInput) (User, error)
}
