package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/CodingButter/braidarr/internal/auth"
	"github.com/CodingButter/braidarr/internal/domain"
	"github.com/CodingButter/braidarr/internal/event"
	"github.com/CodingButter/braidarr/internal/repository"
	apperrors "github.com/CodingButter/braidarr/pkg/errors"
)

// minPasswordLength is the minimum password length required.
const minPasswordLength = 8

// auditTimeout bounds best-effort audit writes detached from the request context.
const auditTimeout = 5 * time.Second

// AuthService implements registration, login, token rotation, and password
// management.
type AuthService struct {
	userRepo  repository.UserRepository
	tokenRepo repository.RefreshTokenRepository
	auditRepo repository.AuditRepository
	hasher    *auth.PasswordHasher
	tokens    *auth.TokenService
	producer  *event.Producer
	logger    *slog.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(
	userRepo repository.UserRepository,
	tokenRepo repository.RefreshTokenRepository,
	auditRepo repository.AuditRepository,
	hasher *auth.PasswordHasher,
	tokens *auth.TokenService,
	producer *event.Producer,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
		auditRepo: auditRepo,
		hasher:    hasher,
		tokens:    tokens,
		producer:  producer,
		logger:    logger,
	}
}

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Email    string
	Username string
	Password string
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email     string
	Password  string
	IPAddress string
}

// Register creates a new user account and returns it with a token pair.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, *domain.TokenPair, error) {
	if input.Email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if input.Username == "" {
		return nil, nil, apperrors.InvalidInput("username is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, nil, err
	}

	hash, err := s.hasher.Hash(ctx, input.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        input.Email,
		Username:     input.Username,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("issue tokens: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, pair, nil
}

// Login authenticates a user with email and password, returning tokens. Every
// attempt, successful or not, produces an audit row and a security event.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*domain.User, *domain.TokenPair, error) {
	if input.Email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if input.Password == "" {
		return nil, nil, apperrors.InvalidInput("password is required")
	}

	user, err := s.userRepo.GetByEmail(ctx, input.Email)
	if err != nil {
		// Only a missing row is a bad credential; a store outage is not the
		// caller's fault and must not read as one.
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, fmt.Errorf("load user by email: %w", err)
		}
		s.recordLoginAttempt(ctx, input.Email, input.IPAddress, false, nil)
		s.producer.LoginFailed(ctx, event.LoginFailedData{
			Email: input.Email, IPAddress: input.IPAddress, Reason: "unknown_email",
		})
		return nil, nil, apperrors.Unauthorized("invalid email or password")
	}

	if !s.hasher.Verify(ctx, user.PasswordHash, input.Password) {
		s.recordLoginAttempt(ctx, input.Email, input.IPAddress, false, &user.ID)
		s.producer.LoginFailed(ctx, event.LoginFailedData{
			UserID: user.ID, Email: input.Email, IPAddress: input.IPAddress, Reason: "bad_password",
		})
		return nil, nil, apperrors.Unauthorized("invalid email or password")
	}

	if !user.IsActive {
		s.recordLoginAttempt(ctx, input.Email, input.IPAddress, false, &user.ID)
		s.producer.LoginFailed(ctx, event.LoginFailedData{
			UserID: user.ID, Email: input.Email, IPAddress: input.IPAddress, Reason: "account_disabled",
		})
		return nil, nil, apperrors.AccountDisabled()
	}

	// Upgrade the stored hash when cost parameters have moved since it was
	// written. The login still succeeds if the rewrite fails.
	if s.hasher.NeedsRehash(user.PasswordHash) {
		if newHash, err := s.hasher.Hash(ctx, input.Password); err == nil {
			if err := s.userRepo.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
				s.logger.WarnContext(ctx, "failed to persist rehashed password",
					slog.String("user_id", user.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("issue tokens: %w", err)
	}

	s.recordLoginAttempt(ctx, input.Email, input.IPAddress, true, &user.ID)
	s.producer.LoginSucceeded(ctx, event.LoginSucceededData{
		UserID: user.ID, Email: user.Email, IPAddress: input.IPAddress,
	})

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, pair, nil
}

// Refresh rotates a refresh token: the presented token is consumed and a new
// pair issued. A valid token that was already consumed is treated as stolen;
// every refresh token for that user is revoked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, ipAddress string) (*domain.TokenPair, error) {
	if refreshToken == "" {
		return nil, apperrors.MissingCredential("refresh token is required")
	}

	principal, tokenID, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	won, err := s.tokenRepo.Consume(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	if !won {
		s.logger.WarnContext(ctx, "refresh token reuse detected",
			slog.String("user_id", principal.UserID),
		)
		if err := s.tokenRepo.RevokeAllForUser(ctx, principal.UserID); err != nil {
			s.logger.ErrorContext(ctx, "failed to revoke token family after reuse",
				slog.String("user_id", principal.UserID),
				slog.String("error", err.Error()),
			)
		}
		s.producer.TokenReuseDetected(ctx, event.TokenReuseDetectedData{
			UserID: principal.UserID, TokenID: tokenID, IPAddress: ipAddress,
		})
		return nil, apperrors.TokenInvalid("refresh token has been revoked")
	}

	// Re-read the user so the new access token carries current state.
	user, err := s.userRepo.GetByID(ctx, principal.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.TokenInvalid("account no longer exists")
		}
		return nil, fmt.Errorf("load user %s: %w", principal.UserID, err)
	}
	if !user.IsActive {
		return nil, apperrors.AccountDisabled()
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	s.producer.TokensRefreshed(ctx, event.TokensRefreshedData{
		UserID: user.ID, IPAddress: ipAddress,
	})

	return pair, nil
}

// Logout revokes the presented refresh token. The access token stays valid
// until it expires; only the refresh grant dies here.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return apperrors.MissingCredential("refresh token is required")
	}

	principal, tokenID, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return err
	}

	if err := s.tokenRepo.Revoke(ctx, tokenID); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged out",
		slog.String("user_id", principal.UserID),
	)

	return nil
}

// LogoutAll revokes every refresh token for the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	if err := s.tokenRepo.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged out everywhere",
		slog.String("user_id", userID),
	)

	return nil
}

// ChangePassword verifies the current password, stores a new hash, and
// revokes every refresh token so stolen refresh grants die with the old
// password.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	if !s.hasher.Verify(ctx, user.PasswordHash, currentPassword) {
		return apperrors.Unauthorized("current password is incorrect")
	}

	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	if err := s.userRepo.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}

	if err := s.tokenRepo.RevokeAllForUser(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke refresh tokens after password change",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.producer.PasswordChanged(ctx, event.PasswordChangedData{
		UserID: user.ID, Email: user.Email,
	})

	s.logger.InfoContext(ctx, "password changed",
		slog.String("user_id", userID),
	)

	return nil
}

// GetProfile returns the user for an authenticated principal.
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// issueTokenPair creates an access/refresh pair and records the refresh
// token id.
func (s *AuthService) issueTokenPair(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	principal := domain.Principal{
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
		IsActive: user.IsActive,
	}

	accessToken, err := s.tokens.IssueAccessToken(principal)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	refreshToken, tokenID, err := s.tokens.IssueRefreshToken(principal)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	expiresAt := time.Now().UTC().Add(s.tokens.RefreshTTL())
	if err := s.tokenRepo.Record(ctx, tokenID, user.ID, expiresAt); err != nil {
		return nil, fmt.Errorf("record refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// recordLoginAttempt writes an audit row. The write is best-effort: a failed
// insert is logged and never fails the login itself. The detached context
// keeps the row even when the client disconnects mid-request.
func (s *AuthService) recordLoginAttempt(ctx context.Context, email, ipAddress string, success bool, userID *string) {
	attempt := &domain.LoginAttempt{
		Email:     email,
		IPAddress: ipAddress,
		Success:   success,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.auditRepo.RecordLoginAttempt(auditCtx, attempt); err != nil {
		s.logger.ErrorContext(ctx, "failed to record login attempt",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
	}
}

// validatePassword enforces the minimum password policy.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	var hasLetter, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsLetter(ch):
			hasLetter = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	if !hasLetter || !hasDigit {
		return apperrors.InvalidInput("password must contain at least one letter and one digit")
	}

	return nil
}
