package postgres

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodingButter/braidarr/internal/domain"
)

func newAuditTestFixture(t *testing.T) (*AuditRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := NewAuditRepository(mock)
	return repo, mock
}

func TestAuditRepository_RecordLoginAttempt(t *testing.T) {
	repo, mock := newAuditTestFixture(t)
	defer mock.Close()

	userID := "u-1234"
	attempt := &domain.LoginAttempt{
		Email:     "alice@example.com",
		IPAddress: "203.0.113.7",
		Success:   true,
		UserID:    &userID,
		CreatedAt: time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO login_attempts").
		WithArgs(pgxmock.AnyArg(), attempt.Email, attempt.IPAddress, attempt.Success, attempt.UserID, attempt.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.RecordLoginAttempt(context.Background(), attempt)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_RecordLoginAttempt_FailureRowHasNoUser(t *testing.T) {
	repo, mock := newAuditTestFixture(t)
	defer mock.Close()

	attempt := &domain.LoginAttempt{
		Email:     "nobody@example.com",
		IPAddress: "203.0.113.7",
		Success:   false,
		CreatedAt: time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO login_attempts").
		WithArgs(pgxmock.AnyArg(), attempt.Email, attempt.IPAddress, false, (*string)(nil), attempt.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.RecordLoginAttempt(context.Background(), attempt)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_RecordAPIKeyUsage(t *testing.T) {
	repo, mock := newAuditTestFixture(t)
	defer mock.Close()

	usage := &domain.APIKeyUsage{
		APIKeyID:     "key-1234",
		Endpoint:     "/api/v1/integration/lists",
		Method:       "GET",
		IPAddress:    "203.0.113.7",
		UserAgent:    "Radarr/5.3",
		ResponseCode: 200,
		CreatedAt:    time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO api_key_usage").
		WithArgs(
			pgxmock.AnyArg(), usage.APIKeyID, usage.Endpoint, usage.Method,
			usage.IPAddress, usage.UserAgent, usage.ResponseCode, usage.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.RecordAPIKeyUsage(context.Background(), usage)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
