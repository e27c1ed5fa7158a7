package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CodingButter/braidarr/internal/auth"
	"github.com/CodingButter/braidarr/internal/domain"
	"github.com/CodingButter/braidarr/internal/event"
	"github.com/CodingButter/braidarr/internal/repository"
	apperrors "github.com/CodingButter/braidarr/pkg/errors"
)

const (
	// apiKeyPrefix marks every raw key this service issues.
	apiKeyPrefix = "bra_"
	// apiKeyPrefixLen is the length of the public lookup prefix.
	apiKeyPrefixLen = 8
	// apiKeySecretBytes is the entropy of the secret portion.
	apiKeySecretBytes = 32
)

// APIKeyService issues and validates machine-to-machine API keys.
type APIKeyService struct {
	keyRepo   repository.APIKeyRepository
	userRepo  repository.UserRepository
	auditRepo repository.AuditRepository
	hasher    *auth.PasswordHasher
	producer  *event.Producer
	logger    *slog.Logger
}

// NewAPIKeyService creates a new API key service.
func NewAPIKeyService(
	keyRepo repository.APIKeyRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	hasher *auth.PasswordHasher,
	producer *event.Producer,
	logger *slog.Logger,
) *APIKeyService {
	return &APIKeyService{
		keyRepo:   keyRepo,
		userRepo:  userRepo,
		auditRepo: auditRepo,
		hasher:    hasher,
		producer:  producer,
		logger:    logger,
	}
}

// IssueInput holds the parameters for creating a new API key.
type IssueInput struct {
	Name      string
	Scopes    []domain.Scope
	ExpiresAt *time.Time
}

// Issue creates a new API key for the user. The returned raw key is shown
// exactly once; only the argon2 hash of its secret is stored.
func (s *APIKeyService) Issue(ctx context.Context, userID string, input IssueInput) (*domain.APIKey, string, error) {
	if input.Name == "" {
		return nil, "", apperrors.InvalidInput("name is required")
	}
	if len(input.Scopes) == 0 {
		return nil, "", apperrors.InvalidInput("at least one scope is required")
	}
	for _, sc := range input.Scopes {
		if sc.Resource == "" || len(sc.Actions) == 0 {
			return nil, "", apperrors.InvalidInput("each scope needs a resource and at least one action")
		}
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(time.Now().UTC()) {
		return nil, "", apperrors.InvalidInput("expiry must be in the future")
	}

	prefixBytes := make([]byte, apiKeyPrefixLen/2)
	if _, err := rand.Read(prefixBytes); err != nil {
		return nil, "", fmt.Errorf("generate key prefix: %w", err)
	}
	prefix := hex.EncodeToString(prefixBytes)

	secretBytes := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", fmt.Errorf("generate key secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	secretHash, err := s.hasher.Hash(ctx, secret)
	if err != nil {
		return nil, "", fmt.Errorf("hash key secret: %w", err)
	}

	key := &domain.APIKey{
		ID:         uuid.New().String(),
		Name:       input.Name,
		SecretHash: secretHash,
		KeyPrefix:  prefix,
		Scopes:     input.Scopes,
		IsActive:   true,
		ExpiresAt:  input.ExpiresAt,
		UserID:     userID,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.keyRepo.Create(ctx, key); err != nil {
		return nil, "", fmt.Errorf("create api key: %w", err)
	}

	s.logger.InfoContext(ctx, "api key issued",
		slog.String("key_id", key.ID),
		slog.String("key_prefix", prefix),
		slog.String("user_id", userID),
	)

	return key, apiKeyPrefix + prefix + secret, nil
}

// ValidateKey authenticates a raw API key and returns the key's context. The
// failure taxonomy distinguishes an unknown or mismatched key from a disabled
// or expired one; the prefix lookup happens before the expensive hash compare.
func (s *APIKeyService) ValidateKey(ctx context.Context, rawKey, ipAddress string) (*domain.APIKeyContext, error) {
	prefix, secret, ok := splitRawKey(rawKey)
	if !ok {
		return nil, apperrors.APIKeyInvalid()
	}

	key, err := s.keyRepo.GetByPrefix(ctx, prefix)
	if err != nil {
		// A store outage must not read as a bad key; integrations would
		// discard a working credential.
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("load api key by prefix: %w", err)
		}
		s.rejectKey(ctx, prefix, ipAddress, "unknown_prefix")
		return nil, apperrors.APIKeyInvalid()
	}

	if !s.hasher.Verify(ctx, key.SecretHash, secret) {
		s.rejectKey(ctx, prefix, ipAddress, "secret_mismatch")
		return nil, apperrors.APIKeyInvalid()
	}

	if !key.IsActive {
		s.rejectKey(ctx, prefix, ipAddress, "inactive")
		return nil, apperrors.APIKeyInactive()
	}
	if key.ExpiresAt != nil && !key.ExpiresAt.After(time.Now().UTC()) {
		s.rejectKey(ctx, prefix, ipAddress, "expired")
		return nil, apperrors.APIKeyExpired()
	}

	user, err := s.userRepo.GetByID(ctx, key.UserID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("load api key owner: %w", err)
		}
		s.rejectKey(ctx, prefix, ipAddress, "owner_missing")
		return nil, apperrors.APIKeyInvalid()
	}
	if !user.IsActive {
		s.rejectKey(ctx, prefix, ipAddress, "owner_disabled")
		return nil, apperrors.AccountDisabled()
	}

	return &domain.APIKeyContext{
		Principal: domain.Principal{
			UserID:   user.ID,
			Email:    user.Email,
			Username: user.Username,
			IsActive: user.IsActive,
		},
		KeyID:   key.ID,
		KeyName: key.Name,
		Scopes:  key.Scopes,
	}, nil
}

// HasPermission reports whether the key context grants the action on the
// resource. Wildcard entries match only when explicitly granted.
func (s *APIKeyService) HasPermission(kc *domain.APIKeyContext, resource, action string) bool {
	for _, sc := range kc.Scopes {
		if sc.Allows(resource, action) {
			return true
		}
	}
	return false
}

// RecordUsage logs one authenticated API-key request. The write runs in its
// own goroutine with a detached timeout context so a client disconnect cannot
// lose the row; failures are logged and swallowed.
func (s *APIKeyService) RecordUsage(ctx context.Context, usage *domain.APIKeyUsage) {
	usage.CreatedAt = time.Now().UTC()

	go func() {
		auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
		defer cancel()

		if err := s.auditRepo.RecordAPIKeyUsage(auditCtx, usage); err != nil {
			s.logger.ErrorContext(auditCtx, "failed to record api key usage",
				slog.String("key_id", usage.APIKeyID),
				slog.String("error", err.Error()),
			)
		}

		if err := s.keyRepo.TouchLastUsed(auditCtx, usage.APIKeyID, usage.CreatedAt); err != nil {
			s.logger.ErrorContext(auditCtx, "failed to update api key last_used_at",
				slog.String("key_id", usage.APIKeyID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// List returns the user's API keys. Secret hashes never leave the service
// layer in responses; handlers serialize only the public fields.
func (s *APIKeyService) List(ctx context.Context, userID string) ([]domain.APIKey, error) {
	keys, err := s.keyRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// Deactivate disables one of the user's keys. A key id owned by someone else
// reports not-found, never the key's existence.
func (s *APIKeyService) Deactivate(ctx context.Context, keyID, userID string) error {
	if err := s.keyRepo.Deactivate(ctx, keyID, userID); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "api key deactivated",
		slog.String("key_id", keyID),
		slog.String("user_id", userID),
	)

	return nil
}

func (s *APIKeyService) rejectKey(ctx context.Context, prefix, ipAddress, reason string) {
	s.logger.WarnContext(ctx, "api key rejected",
		slog.String("key_prefix", prefix),
		slog.String("reason", reason),
	)
	s.producer.APIKeyRejected(ctx, event.APIKeyRejectedData{
		KeyPrefix: prefix, IPAddress: ipAddress, Reason: reason,
	})
}

// splitRawKey splits a raw key into its lookup prefix and secret.
func splitRawKey(rawKey string) (prefix, secret string, ok bool) {
	if !strings.HasPrefix(rawKey, apiKeyPrefix) {
		return "", "", false
	}
	rest := rawKey[len(apiKeyPrefix):]
	if len(rest) <= apiKeyPrefixLen {
		return "", "", false
	}
	return rest[:apiKeyPrefixLen], rest[apiKeyPrefixLen:], true
}
