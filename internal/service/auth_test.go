package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/CodingButter/braidarr/internal/auth"
	"github.com/CodingButter/braidarr/internal/domain"
	"github.com/CodingButter/braidarr/internal/event"
	apperrors "github.com/CodingButter/braidarr/pkg/errors"
)

// --- Mock User Repository ---

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	args := m.Called(ctx, id, passwordHash)
	return args.Error(0)
}

// --- Mock Refresh Token Repository ---

type mockRefreshTokenRepository struct {
	mock.Mock
}

func (m *mockRefreshTokenRepository) Record(ctx context.Context, tokenID, userID string, expiresAt time.Time) error {
	args := m.Called(ctx, tokenID, userID, expiresAt)
	return args.Error(0)
}

func (m *mockRefreshTokenRepository) IsActive(ctx context.Context, tokenID string) (bool, error) {
	args := m.Called(ctx, tokenID)
	return args.Bool(0), args.Error(1)
}

func (m *mockRefreshTokenRepository) Consume(ctx context.Context, tokenID string) (bool, error) {
	args := m.Called(ctx, tokenID)
	return args.Bool(0), args.Error(1)
}

func (m *mockRefreshTokenRepository) Revoke(ctx context.Context, tokenID string) error {
	args := m.Called(ctx, tokenID)
	return args.Error(0)
}

func (m *mockRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockRefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// --- Mock Audit Repository ---

type mockAuditRepository struct {
	mock.Mock
}

func (m *mockAuditRepository) RecordLoginAttempt(ctx context.Context, attempt *domain.LoginAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func (m *mockAuditRepository) RecordAPIKeyUsage(ctx context.Context, usage *domain.APIKeyUsage) error {
	args := m.Called(ctx, usage)
	return args.Error(0)
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testArgon2Params keeps hashing cheap in tests; correctness does not depend
// on the cost.
func testArgon2Params() auth.Argon2Params {
	return auth.Argon2Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1}
}

func newTestHasher() *auth.PasswordHasher {
	return auth.NewPasswordHasher(testArgon2Params(), 4, newTestLogger())
}

func newTestTokenService(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService(
		"test-access-secret-0123456789abcdef",
		"test-refresh-secret-0123456789abcdef",
		15*time.Minute,
		7*24*time.Hour,
	)
	require.NoError(t, err)
	return ts
}

func newTestAuthService(
	t *testing.T,
	userRepo *mockUserRepository,
	tokenRepo *mockRefreshTokenRepository,
	auditRepo *mockAuditRepository,
) *AuthService {
	t.Helper()
	logger := newTestLogger()
	// A producer with no Kafka backend is a no-op.
	producer := event.NewProducer(nil, logger)
	return NewAuthService(userRepo, tokenRepo, auditRepo, newTestHasher(), newTestTokenService(t), producer, logger)
}

func hashForTest(t *testing.T, password string) string {
	t.Helper()
	h, err := newTestHasher().Hash(context.Background(), password)
	require.NoError(t, err)
	return h
}

func activeUser(t *testing.T) *domain.User {
	t.Helper()
	now := time.Now().UTC()
	return &domain.User{
		ID:           "u-1234",
		Email:        "alice@example.com",
		Username:     "alice",
		PasswordHash: hashForTest(t, "SecurePass123"),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// --- Register ---

func TestRegister_Success(t *testing.T) {
	userRepo := new(mockUserRepository)
	tokenRepo := new(mockRefreshTokenRepository)
	auditRepo := new(mockAuditRepository)
	svc := newTestAuthService(t, userRepo, tokenRepo, auditRepo)
	ctx := context.Background()

	userRepo.On("Create", ctx, mock.AnythingOfType("*domain.User")).Return(nil)
	tokenRepo.On("Record", ctx, mock.AnythingOfType("string"), mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).Return(nil)

	user, tokens, err := svc.Register(ctx, RegisterInput{
		Email:    "alice@example.com",
		Username: "alice",
		Password: "SecurePass123",
	})

	require.NoError(t, err)
	require.NotNil(t, user)
	require.NotNil(t, tokens)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.True(t, user.IsActive)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, int((15 * time.Minute).Seconds()), tokens.ExpiresIn)
	assert.NotEqual(t, "SecurePass123", user.PasswordHash)

	userRepo.AssertExpectations(t)
	tokenRepo.AssertExpectations(t)
}

func TestRegister_WeakPassword(t *testing.T) {
	svc := newTestAuthService(t, new(mockUserRepository), new(mockRefreshTokenRepository), new(mockAuditRepository))

	for name, password := range map[string]string{
		"too short": "Ab1",
		"no digit":  "onlyletters",
		"no letter": "1234567890",
	} {
		t.Run(name, func(t *testing.T) {
			user, tokens, err := svc.Register(context.Background(), RegisterInput{
				Email:    "alice@example.com",
				Username: "alice",
				Password: password,
			})
			assert.Nil(t, user)
			assert.Nil(t, tokens)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	userRepo := new(mockUserRepository)
	svc := newTestAuthService(t, userRepo, new(mockRefreshTokenRepository), new(mockAuditRepository))
	ctx := context.Background()

	userRepo.On("Create", ctx, mock.AnythingOfType("*domain.User")).
		Return(apperrors.AlreadyExists("user", "email", "alice@example.com"))

	user, tokens, err := svc.Register(ctx, RegisterInput{
		Email:    "alice@example.com",
		Username: "alice",
		Password: "SecurePass123",
	})

	assert.Nil(t, user)
	assert.Nil(t, tokens)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	userRepo.AssertExpectations(t)
}

// --- Login ---

func TestLogin_Success(t *testing.T) {
	userRepo := new(mockUserRepository)
	tokenRepo := new(mockRefreshTokenRepository)
	auditRepo := new(mockAuditRepository)
	svc := newTestAuthService(t, userRepo, tokenRepo, auditRepo)
	ctx := context.Background()

	u := activeUser(t)
	userRepo.On("GetByEmail", ctx, u.Email).Return(u, nil)
	tokenRepo.On("Record", ctx, mock.AnythingOfType("string"), u.ID, mock.AnythingOfType("time.Time")).Return(nil)
	auditRepo.On("RecordLoginAttempt", mock.Anything, mock.MatchedBy(func(a *domain.LoginAttempt) bool {
		return a.Success && a.Email == u.Email && a.UserID != nil && *a.UserID == u.ID
	})).Return(nil)

	user, tokens, err := svc.Login(ctx, LoginInput{Email: u.Email, Password: "SecurePass123", IPAddress: "203.0.113.7"})

	require.NoError(t, err)
	assert.Equal(t, u.ID, user.ID)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	userRepo.AssertExpectations(t)
	tokenRepo.AssertExpectations(t)
	auditRepo.AssertExpectations(t)
}

func TestLogin_UnknownEmail(t *testing.T) {
	userRepo := new(mockUserRepository)
	auditRepo := new(mockAuditRepository)
	svc := newTestAuthService(t, userRepo, new(mockRefreshTokenRepository), auditRepo)
	ctx := context.Background()

	userRepo.On("GetByEmail", ctx, "nobody@example.com").Return(nil, apperrors.ErrNotFound)
	auditRepo.On("RecordLoginAttempt", mock.Anything, mock.MatchedBy(func(a *domain.LoginAttempt) bool {
		return !a.Success && a.UserID == nil
	})).Return(nil)

	user, tokens, err := svc.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "whatever1"})

	assert.Nil(t, user)
	assert.Nil(t, tokens)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	auditRepo.AssertExpectations(t)
}

func TestLogin_WrongPassword(t *testing.T) {
	userRepo := new(mockUserRepository)
	auditRepo := new(mockAuditRepository)
	svc := newTestAuthService(t, userRepo, new(mockRefreshTokenRepository), auditRepo)
	ctx := context.Background()

	u := activeUser(t)
	userRepo.On("GetByEmail", ctx, u.Email).Return(u, nil)
	auditRepo.On("RecordLoginAttempt", mock.Anything, mock.MatchedBy(func(a *domain.LoginAttempt) bool {
		return !a.Success && a.UserID != nil && *a.UserID == u.ID
	})).Return(nil)

	user, tokens, err := svc.Login(ctx, LoginInput{Email: u.Email, Password: "WrongPass123"})

	assert.Nil(t, user)
	assert.Nil(t, tokens)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	auditRepo.AssertExpectations(t)
}

func TestLogin_DisabledAccount(t *testing.T) {
	userRepo := new(mockUserRepository)
	auditRepo := new(mockAuditRepository)
	svc := newTestAuthService(t, userRepo, new(mockRefreshTokenRepository), auditRepo)
	ctx := context.Background()

	u := activeUser(t)
	u.IsActive = false
	userRepo.On("GetByEmail", ctx, u.Email).Return(u, nil)
	auditRepo.On("RecordLoginAttempt", mock.Anything, mock.AnythingOfType("*domain.LoginAttempt")).Return(nil)

	user, tokens, err := svc.Login(ctx, LoginInput{Email: u.Email, Password: "SecurePass123"})

	assert.Nil(t, user)
	assert.Nil(t, tokens)
	assert.ErrorIs(t, err, apperrors.ErrAccountDisabled)
}

func TestLogin_UpgradesLegacyHash(t *testing.T) {
	userRepo := new(mockUserRepository)
	tokenRepo := new(mockRefreshTokenRepository)
	auditRepo := new(mockAuditRepository)

	logger := newTestLogger()
	// Service targets stronger parameters than the stored hash was made with.
	hasher := auth.NewPasswordHasher(auth.Argon2Params{MemoryKiB: 2048, Iterations: 2, Parallelism: 1}, 4, logger)
	svc := NewAuthService(userRepo, tokenRepo, auditRepo, hasher, newTestTokenService(t), event.NewProducer(nil, logger), logger)
	ctx := context.Background()

	u := activeUser(t) // hashed with testArgon2Params, below the target
	userRepo.On("GetByEmail", ctx, u.Email).Return(u, nil)
	userRepo.On("UpdatePasswordHash", ctx, u.ID, mock.AnythingOfType("string")).Return(nil)
	tokenRepo.On("Record", ctx, mock.AnythingOfType("string"), u.ID, mock.AnythingOfType("time.Time")).Return(nil)
	auditRepo.On("RecordLoginAttempt", mock.Anything, mock.AnythingOfType("*domain.LoginAttempt")).Return(nil)

	_, _, err := svc.Login(ctx, LoginInput{Email: u.Email, Password: "SecurePass123"})

	require.NoError(t, err)
	userRepo.AssertCalled(t, "UpdatePasswordHash", ctx, u.ID, mock.AnythingOfType("string"))
}

// --- Refresh ---

func TestRefresh_RotatesToken(t *testing.T) {
	userRepo := new(mockUserRepository)
	tokenRepo := new(mockRefreshTokenRepository)
	svc := newTestAuthService(t, userRepo, tokenRepo, new(mockAuditRepository))
	ctx := context.Background()

	u := activeUser(t)
	refreshToken, tokenID, err := newTestTokenService(t).IssueRefreshToken(domain.Principal{
		UserID: u.ID, Email: u.Email, Username: u.Username, IsActive: true,
	})
	require.NoError(t, err)

	tokenRepo.On("Consume", ctx, tokenID).Return(true, nil)
	userRepo.On("GetByID", ctx, u.ID).Return(u, nil)
	tokenRepo.On("Record", ctx, mock.AnythingOfType("string"), u.ID, mock.AnythingOfType("time.Time")).Return(nil)

	pair, err := svc.Refresh(ctx, refreshToken, "203.0.113.7")

	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, refreshToken, pair.RefreshToken)

	tokenRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestRefresh_ReuseRevokesWholeFamily(t *testing.T) {
	userRepo := new(mockUserRepository)
	tokenRepo := new(mockRefreshTokenRepository)
	svc := newTestAuthService(t, userRepo, tokenRepo, new(mockAuditRepository))
	ctx := context.Background()

	u := activeUser(t)
	refreshToken, tokenID, err := newTestTokenService(t).IssueRefreshToken(domain.Principal{
		UserID: u.ID, Email: u.Email, Username: u.Username, IsActive: true,
	})
	require.NoError(t, err)

	// The token id was already consumed by an earlier rotation.
	tokenRepo.On("Consume", ctx, tokenID).Return(false, nil)
	tokenRepo.On("RevokeAllForUser", ctx, u.ID).Return(nil)

	pair, err := svc.Refresh(ctx, refreshToken, "203.0.113.7")

	assert.Nil(t, pair)
	assert.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	tokenRepo.AssertCalled(t, "RevokeAllForUser", ctx, u.ID)
}

func TestRefresh_TamperedToken(t *testing.T) {
	tokenRepo := new(mockRefreshTokenRepository)
	svc := newTestAuthService(t, new(mockUserRepository), tokenRepo, new(mockAuditRepository))

	pair, err := svc.Refresh(context.Background(), "not.a.token", "203.0.113.7")

	assert.Nil(t, pair)
	assert.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	tokenRepo.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything)
}

func TestRefresh_DisabledAccount(t *testing.T) {
	userRepo := new(mockUserRepository)
	tokenRepo := new(mockRefreshTokenRepository)
	svc := newTestAuthService(t, userRepo, tokenRepo, new(mockAuditRepository))
	ctx := context.Background()

	u := activeUser(t)
	u.IsActive = false
	refreshToken, tokenID, err := newTestTokenService(t).IssueRefreshToken(domain.Principal{
		UserID: u.ID, Email: u.Email, Username: u.Username, IsActive: true,
	})
	require.NoError(t, err)

	tokenRepo.On("Consume", ctx, tokenID).Return(true, nil)
	userRepo.On("GetByID", ctx, u.ID).Return(u, nil)

	pair, err := svc.Refresh(ctx, refreshToken, "203.0.113.7")

	assert.Nil(t, pair)
	assert.ErrorIs(t, err, apperrors.ErrAccountDisabled)
}

// --- Logout ---

func TestLogout_RevokesPresentedToken(t *testing.T) {
	tokenRepo := new(mockRefreshTokenRepository)
	svc := newTestAuthService(t, new(mockUserRepository), tokenRepo, new(mockAuditRepository))
	ctx := context.Background()

	refreshToken, tokenID, err := newTestTokenService(t).IssueRefreshToken(domain.Principal{UserID: "u-1234"})
	require.NoError(t, err)

	tokenRepo.On("Revoke", ctx, tokenID).Return(nil)

	require.NoError(t, svc.Logout(ctx, refreshToken))
	tokenRepo.AssertExpectations(t)
}

func TestLogoutAll(t *testing.T) {
	tokenRepo := new(mockRefreshTokenRepository)
	svc := newTestAuthService(t, new(mockUserRepository), tokenRepo, new(mockAuditRepository))
	ctx := context.Background()

	tokenRepo.On("RevokeAllForUser", ctx, "u-1234").Return(nil)

	require.NoError(t, svc.LogoutAll(ctx, "u-1234"))
	tokenRepo.AssertExpectations(t)
}

// --- ChangePassword ---

func TestChangePassword_Success(t *testing.T) {
	userRepo := new(mockUserRepository)
	tokenRepo := new(mockRefreshTokenRepository)
	svc := newTestAuthService(t, userRepo, tokenRepo, new(mockAuditRepository))
	ctx := context.Background()

	u := activeUser(t)
	userRepo.On("GetByID", ctx, u.ID).Return(u, nil)
	userRepo.On("UpdatePasswordHash", ctx, u.ID, mock.AnythingOfType("string")).Return(nil)
	tokenRepo.On("RevokeAllForUser", ctx, u.ID).Return(nil)

	err := svc.ChangePassword(ctx, u.ID, "SecurePass123", "EvenBetter456")

	require.NoError(t, err)
	userRepo.AssertExpectations(t)
	tokenRepo.AssertExpectations(t)
}

func TestChangePassword_WrongCurrentPassword(t *testing.T) {
	userRepo := new(mockUserRepository)
	tokenRepo := new(mockRefreshTokenRepository)
	svc := newTestAuthService(t, userRepo, tokenRepo, new(mockAuditRepository))
	ctx := context.Background()

	u := activeUser(t)
	userRepo.On("GetByID", ctx, u.ID).Return(u, nil)

	err := svc.ChangePassword(ctx, u.ID, "WrongPass123", "EvenBetter456")

	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	userRepo.AssertNotCalled(t, "UpdatePasswordHash", mock.Anything, mock.Anything, mock.Anything)
	tokenRepo.AssertNotCalled(t, "RevokeAllForUser", mock.Anything, mock.Anything)
}

func TestLogin_StoreFailureIsNotCredentialFailure(t *testing.T) {
	userRepo := new(mockUserRepository)
	auditRepo := new(mockAuditRepository)
	svc := newTestAuthService(t, userRepo, new(mockRefreshTokenRepository), auditRepo)
	ctx := context.Background()

	userRepo.On("GetByEmail", ctx, "alice@example.com").Return(nil, errors.New("connection refused"))

	user, tokens, err := svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: "Str0ngEnough"})

	assert.Nil(t, user)
	assert.Nil(t, tokens)
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatus(err))
	// An outage is not a failed attempt; no audit row, no event.
	auditRepo.AssertNotCalled(t, "RecordLoginAttempt", mock.Anything, mock.Anything)
}

func TestRefresh_StoreFailureIsNotCredentialFailure(t *testing.T) {
	userRepo := new(mockUserRepository)
	tokenRepo := new(mockRefreshTokenRepository)
	svc := newTestAuthService(t, userRepo, tokenRepo, new(mockAuditRepository))
	ctx := context.Background()

	u := activeUser(t)
	refreshToken, tokenID, err := newTestTokenService(t).IssueRefreshToken(domain.Principal{
		UserID: u.ID, Email: u.Email, Username: u.Username, IsActive: true,
	})
	require.NoError(t, err)

	tokenRepo.On("Consume", ctx, tokenID).Return(true, nil)
	userRepo.On("GetByID", ctx, u.ID).Return(nil, errors.New("connection refused"))

	pair, err := svc.Refresh(ctx, refreshToken, "203.0.113.7")

	assert.Nil(t, pair)
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrTokenInvalid)
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatus(err))
}
