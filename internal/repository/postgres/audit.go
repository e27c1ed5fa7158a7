package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/CodingButter/braidarr/internal/domain"
)

// AuditRepository implements repository.AuditRepository using PostgreSQL.
// Both tables are append-only; nothing in this service reads them back.
type AuditRepository struct {
	db DB
}

// NewAuditRepository creates a new PostgreSQL-backed audit repository.
func NewAuditRepository(db DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// RecordLoginAttempt stores one login attempt row.
func (r *AuditRepository) RecordLoginAttempt(ctx context.Context, attempt *domain.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (id, email, ip_address, success, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		uuid.New().String(), attempt.Email, attempt.IPAddress,
		attempt.Success, attempt.UserID, attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}

	return nil
}

// RecordAPIKeyUsage stores one API key usage row.
func (r *AuditRepository) RecordAPIKeyUsage(ctx context.Context, usage *domain.APIKeyUsage) error {
	query := `
		INSERT INTO api_key_usage (id, api_key_id, endpoint, method, ip_address, user_agent, response_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		uuid.New().String(), usage.APIKeyID, usage.Endpoint, usage.Method,
		usage.IPAddress, usage.UserAgent, usage.ResponseCode, usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert api key usage: %w", err)
	}

	return nil
}
