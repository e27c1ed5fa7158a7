package repository

import (
	"context"
	"time"

	"github.com/CodingButter/braidarr/internal/domain"
)

// UserRepository defines the interface for user persistence operations.
type UserRepository interface {
	// Create inserts a new user into the store.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by their email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// UpdatePasswordHash replaces the stored password hash for a user.
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
}

// RefreshTokenRepository is the durable record of issued refresh-token
// identifiers. A token id absent from the store is revoked regardless of the
// token's cryptographic validity.
type RefreshTokenRepository interface {
	// Record persists a new active refresh-token record.
	Record(ctx context.Context, tokenID, userID string, expiresAt time.Time) error

	// IsActive reports whether the token id exists, is unrevoked, and unexpired.
	IsActive(ctx context.Context, tokenID string) (bool, error)

	// Consume atomically revokes a live record and reports whether this call
	// won. Concurrent consumers of the same id see at most one true result,
	// which makes every refresh token single-use.
	Consume(ctx context.Context, tokenID string) (bool, error)

	// Revoke marks the record revoked. Revoking an unknown or already-revoked
	// id is not an error.
	Revoke(ctx context.Context, tokenID string) error

	// RevokeAllForUser revokes every live record for the user. Used on
	// password change, "log out everywhere", and token-reuse detection.
	RevokeAllForUser(ctx context.Context, userID string) error

	// DeleteExpired removes records past their expiry and returns the count.
	DeleteExpired(ctx context.Context) (int64, error)
}

// APIKeyRepository defines persistence for API keys.
type APIKeyRepository interface {
	// Create inserts a new API key record (hash and prefix, never the raw key).
	Create(ctx context.Context, key *domain.APIKey) error

	// GetByPrefix retrieves the candidate key for a raw key's prefix.
	GetByPrefix(ctx context.Context, prefix string) (*domain.APIKey, error)

	// ListByUserID returns all keys owned by the user.
	ListByUserID(ctx context.Context, userID string) ([]domain.APIKey, error)

	// Deactivate disables a key owned by the given user.
	Deactivate(ctx context.Context, id, userID string) error

	// TouchLastUsed updates the key's last-used timestamp.
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// AuditRepository holds the append-only telemetry tables. Writes are
// best-effort from the caller's perspective; nothing in this service reads
// them back.
type AuditRepository interface {
	// RecordLoginAttempt appends a login attempt row.
	RecordLoginAttempt(ctx context.Context, attempt *domain.LoginAttempt) error

	// RecordAPIKeyUsage appends an API key usage row.
	RecordAPIKeyUsage(ctx context.Context, usage *domain.APIKeyUsage) error
}
