package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/CodingButter/braidarr/internal/domain"
	apperrors "github.com/CodingButter/braidarr/pkg/errors"
)

// Token issuer and audience strings, pinned at verification time.
const (
	TokenIssuer     = "braidarr"
	AccessAudience  = "braidarr-api"
	RefreshAudience = "braidarr-refresh"
)

// refreshTokenIDBytes is the size of the opaque refresh token identifier.
const refreshTokenIDBytes = 32

// AccessClaims are the JWT claims carried by an access token.
type AccessClaims struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// RefreshClaims are the JWT claims carried by a refresh token. TokenID is the
// opaque identifier checked against the durable store on every refresh.
type RefreshClaims struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	TokenID  string `json:"token_id"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies access and refresh tokens. The two secrets
// are distinct so a leaked access secret cannot forge refresh tokens, and
// vice versa. The service holds no mutable state.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokenService creates a token service. It rejects empty or identical
// secrets at construction so the misconfiguration fails at start-up, not at
// the first login.
func NewTokenService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*TokenService, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("token secrets must not be empty")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("access and refresh token secrets must differ")
	}
	return &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// RefreshTTL returns the configured refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// IssueAccessToken signs a short-lived access token for the principal.
func (s *TokenService) IssueAccessToken(p domain.Principal) (string, error) {
	now := time.Now().UTC()
	claims := &AccessClaims{
		Email:    p.Email,
		Username: p.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{AccessAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// IssueRefreshToken signs a refresh token embedding a fresh 256-bit random
// token identifier, and returns both. The caller records the identifier in
// the durable store; the token is single-use from then on.
func (s *TokenService) IssueRefreshToken(p domain.Principal) (token string, tokenID string, err error) {
	raw := make([]byte, refreshTokenIDBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate refresh token id: %w", err)
	}
	tokenID = hex.EncodeToString(raw)

	now := time.Now().UTC()
	claims := &RefreshClaims{
		Email:    p.Email,
		Username: p.Username,
		TokenID:  tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{RefreshAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(s.refreshSecret)
	if err != nil {
		return "", "", fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, tokenID, nil
}

// VerifyAccessToken validates the token against the access secret, issuer,
// and audience. An expired token fails TokenExpired; every other failure
// (signature, issuer, audience, malformed input, wrong algorithm) fails
// TokenInvalid.
func (s *TokenService) VerifyAccessToken(tokenString string) (domain.Principal, error) {
	claims := &AccessClaims{}
	err := s.parse(tokenString, claims, s.accessSecret, AccessAudience)
	if err != nil {
		return domain.Principal{}, err
	}

	return domain.Principal{
		UserID:   claims.Subject,
		Email:    claims.Email,
		Username: claims.Username,
	}, nil
}

// VerifyRefreshToken validates the token against the refresh secret and
// returns the embedded principal and token identifier. The caller is
// responsible for checking the identifier against the durable store: a
// cryptographically valid but revoked token must still be rejected.
func (s *TokenService) VerifyRefreshToken(tokenString string) (domain.Principal, string, error) {
	claims := &RefreshClaims{}
	err := s.parse(tokenString, claims, s.refreshSecret, RefreshAudience)
	if err != nil {
		return domain.Principal{}, "", err
	}
	if claims.TokenID == "" {
		return domain.Principal{}, "", apperrors.TokenInvalid("refresh token missing token id")
	}

	principal := domain.Principal{
		UserID:   claims.Subject,
		Email:    claims.Email,
		Username: claims.Username,
	}
	return principal, claims.TokenID, nil
}

func (s *TokenService) parse(tokenString string, claims jwt.Claims, secret []byte, audience string) error {
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		},
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		// A tampered token can report both a bad signature and an expired
		// claim; the signature failure wins.
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return apperrors.TokenInvalid("token verification failed")
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return apperrors.TokenExpired()
		}
		return apperrors.TokenInvalid("token verification failed")
	}
	if !token.Valid {
		return apperrors.TokenInvalid("token verification failed")
	}
	return nil
}
