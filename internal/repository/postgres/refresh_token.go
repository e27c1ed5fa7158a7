package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/google/uuid"
)

// RefreshTokenRepository implements repository.RefreshTokenRepository using
// PostgreSQL. Records are flagged revoked rather than deleted so reuse of a
// rotated token remains observable until the expiry sweep.
type RefreshTokenRepository struct {
	db DB
}

// NewRefreshTokenRepository creates a new PostgreSQL-backed refresh token repository.
func NewRefreshTokenRepository(db DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Record persists a new active refresh-token record.
func (r *RefreshTokenRepository) Record(ctx context.Context, tokenID, userID string, expiresAt time.Time) error {
	query := `
		INSERT INTO refresh_tokens (id, token_id, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query, uuid.New().String(), tokenID, userID, expiresAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

// IsActive reports whether the token id exists, is unrevoked, and unexpired.
func (r *RefreshTokenRepository) IsActive(ctx context.Context, tokenID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM refresh_tokens
			WHERE token_id = $1 AND revoked_at IS NULL AND expires_at > $2
		)`

	var active bool
	if err := r.db.QueryRow(ctx, query, tokenID, time.Now().UTC()).Scan(&active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check refresh token: %w", err)
	}

	return active, nil
}

// Consume atomically revokes a live record and reports whether this call won.
// The conditional UPDATE is the single-use check-and-set: two concurrent
// refreshes racing on the same token id see exactly one row affected between
// them.
func (r *RefreshTokenRepository) Consume(ctx context.Context, tokenID string) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE token_id = $2 AND revoked_at IS NULL AND expires_at > $1`

	ct, err := r.db.Exec(ctx, query, time.Now().UTC(), tokenID)
	if err != nil {
		return false, fmt.Errorf("consume refresh token: %w", err)
	}

	return ct.RowsAffected() == 1, nil
}

// Revoke marks the record revoked. Unknown or already-revoked ids are not errors.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenID string) error {
	query := `UPDATE refresh_tokens SET revoked_at = $1 WHERE token_id = $2 AND revoked_at IS NULL`

	if _, err := r.db.Exec(ctx, query, time.Now().UTC(), tokenID); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	return nil
}

// RevokeAllForUser revokes every live record for the user.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	query := `UPDATE refresh_tokens SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`

	if _, err := r.db.Exec(ctx, query, time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("revoke refresh tokens by user: %w", err)
	}

	return nil
}

// DeleteExpired removes records past their expiry and returns the count.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at <= $1`

	ct, err := r.db.Exec(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}

	return ct.RowsAffected(), nil
}
