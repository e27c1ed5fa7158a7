package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/CodingButter/braidarr/internal/domain"
	apperrors "github.com/CodingButter/braidarr/pkg/errors"
)

// APIKeyRepository implements repository.APIKeyRepository using PostgreSQL.
// Scopes are stored as a jsonb document alongside the hashed secret.
type APIKeyRepository struct {
	db DB
}

// NewAPIKeyRepository creates a new PostgreSQL-backed API key repository.
func NewAPIKeyRepository(db DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Create persists a new API key record.
func (r *APIKeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}

	query := `
		INSERT INTO api_keys (id, name, secret_hash, key_prefix, scopes, is_active, expires_at, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.Exec(ctx, query,
		key.ID, key.Name, key.SecretHash, key.KeyPrefix, scopes,
		key.IsActive, key.ExpiresAt, key.UserID, key.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("api key", "name", key.Name)
		}
		return fmt.Errorf("insert api key: %w", err)
	}

	return nil
}

// GetByPrefix looks up a key by its public prefix.
func (r *APIKeyRepository) GetByPrefix(ctx context.Context, prefix string) (*domain.APIKey, error) {
	query := `
		SELECT id, name, secret_hash, key_prefix, scopes, is_active, expires_at, last_used_at, user_id, created_at
		FROM api_keys
		WHERE key_prefix = $1`

	key, err := scanAPIKey(r.db.QueryRow(ctx, query, prefix))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}

	return key, nil
}

// ListByUserID returns the user's keys, newest first.
func (r *APIKeyRepository) ListByUserID(ctx context.Context, userID string) ([]domain.APIKey, error) {
	query := `
		SELECT id, name, secret_hash, key_prefix, scopes, is_active, expires_at, last_used_at, user_id, created_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, *key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}

	return keys, nil
}

// Deactivate disables a key owned by the given user.
func (r *APIKeyRepository) Deactivate(ctx context.Context, keyID, userID string) error {
	query := `UPDATE api_keys SET is_active = false WHERE id = $1 AND user_id = $2`

	ct, err := r.db.Exec(ctx, query, keyID, userID)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("api key", keyID)
	}

	return nil
}

// TouchLastUsed records the most recent use of the key.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, keyID string, usedAt time.Time) error {
	query := `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`

	if _, err := r.db.Exec(ctx, query, usedAt, keyID); err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}

	return nil
}

func scanAPIKey(row pgx.Row) (*domain.APIKey, error) {
	var (
		key    domain.APIKey
		scopes []byte
	)
	err := row.Scan(
		&key.ID, &key.Name, &key.SecretHash, &key.KeyPrefix, &scopes,
		&key.IsActive, &key.ExpiresAt, &key.LastUsedAt, &key.UserID, &key.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scopes, &key.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}

	return &key, nil
}
