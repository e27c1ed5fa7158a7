package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/CodingButter/braidarr/internal/auth"
	"github.com/CodingButter/braidarr/internal/domain"
	"github.com/CodingButter/braidarr/internal/repository"
	"github.com/CodingButter/braidarr/internal/service"
	apperrors "github.com/CodingButter/braidarr/pkg/errors"
	"github.com/CodingButter/braidarr/pkg/httputil"
	"github.com/CodingButter/braidarr/pkg/logger"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	apiKeyKey    contextKey = "api_key_context"
)

// PrincipalFromContext returns the authenticated principal, if any. Both the
// bearer and API-key guards populate the same key, so downstream handlers
// never care which credential authenticated the request.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(domain.Principal)
	return p, ok
}

// APIKeyFromContext returns the API key context when the request was
// authenticated with an API key.
func APIKeyFromContext(ctx context.Context) (*domain.APIKeyContext, bool) {
	kc, ok := ctx.Value(apiKeyKey).(*domain.APIKeyContext)
	return kc, ok
}

// AuthGuard authenticates requests carrying a bearer access token.
type AuthGuard struct {
	tokens   *auth.TokenService
	userRepo repository.UserRepository
	logger   *slog.Logger
}

// NewAuthGuard creates a bearer token guard.
func NewAuthGuard(tokens *auth.TokenService, userRepo repository.UserRepository, logger *slog.Logger) *AuthGuard {
	return &AuthGuard{tokens: tokens, userRepo: userRepo, logger: logger}
}

// Require rejects any request without a valid access token belonging to an
// active account.
func (g *AuthGuard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := g.authenticate(r)
		if err != nil {
			httputil.WriteError(w, r, err, g.logger)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

// Optional attaches a principal when a valid token is presented and lets the
// request through untouched otherwise. It never writes an error response, but
// store failures are still logged rather than silently dropped.
func (g *AuthGuard) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := g.authenticate(r)
		switch {
		case err == nil:
			r = r.WithContext(withPrincipal(r.Context(), principal))
		case apperrors.HTTPStatus(err) == http.StatusInternalServerError:
			g.logger.ErrorContext(r.Context(), "optional bearer authentication failed",
				slog.String("error", err.Error()),
				slog.String("path", r.URL.Path),
			)
		}
		next.ServeHTTP(w, r)
	})
}

func (g *AuthGuard) authenticate(r *http.Request) (domain.Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return domain.Principal{}, apperrors.MissingCredential("authorization header is required")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return domain.Principal{}, apperrors.MissingCredential("authorization header must be a bearer token")
	}

	principal, err := g.tokens.VerifyAccessToken(token)
	if err != nil {
		return domain.Principal{}, err
	}

	// The token proves who the caller was at issue time; the account state
	// check keeps a disabled user from riding out an unexpired token. Only a
	// missing row is a credential failure; a store outage must not read as an
	// invalid token or clients will discard a perfectly good one.
	user, err := g.userRepo.GetByID(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.Principal{}, apperrors.TokenInvalid("account no longer exists")
		}
		return domain.Principal{}, fmt.Errorf("load user %s: %w", principal.UserID, err)
	}
	if !user.IsActive {
		return domain.Principal{}, apperrors.AccountDisabled()
	}

	return domain.Principal{
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
		IsActive: user.IsActive,
	}, nil
}

// APIKeyGuard authenticates machine-to-machine requests carrying an API key.
type APIKeyGuard struct {
	keys   *service.APIKeyService
	logger *slog.Logger
}

// NewAPIKeyGuard creates an API key guard.
func NewAPIKeyGuard(keys *service.APIKeyService, logger *slog.Logger) *APIKeyGuard {
	return &APIKeyGuard{keys: keys, logger: logger}
}

// Require rejects requests without a valid API key. Each authenticated
// request is logged as a usage row carrying the response status.
func (g *APIKeyGuard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractAPIKey(r)
		if rawKey == "" {
			httputil.WriteError(w, r, apperrors.MissingCredential("API key is required"), g.logger)
			return
		}

		kc, err := g.keys.ValidateKey(r.Context(), rawKey, clientIP(r))
		if err != nil {
			httputil.WriteError(w, r, err, g.logger)
			return
		}

		ctx := withPrincipal(r.Context(), kc.Principal)
		ctx = context.WithValue(ctx, apiKeyKey, kc)
		ctx = logger.WithUserID(ctx, kc.Principal.UserID)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		g.keys.RecordUsage(ctx, &domain.APIKeyUsage{
			APIKeyID:     kc.KeyID,
			Endpoint:     r.URL.Path,
			Method:       r.Method,
			IPAddress:    clientIP(r),
			UserAgent:    r.UserAgent(),
			ResponseCode: ww.Status(),
		})
	})
}

// Optional attaches the key context when a valid key is presented and lets
// the request through untouched otherwise. Store failures are still logged.
func (g *APIKeyGuard) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractAPIKey(r)
		if rawKey != "" {
			kc, err := g.keys.ValidateKey(r.Context(), rawKey, clientIP(r))
			switch {
			case err == nil:
				ctx := withPrincipal(r.Context(), kc.Principal)
				ctx = context.WithValue(ctx, apiKeyKey, kc)
				r = r.WithContext(ctx)
			case apperrors.HTTPStatus(err) == http.StatusInternalServerError:
				g.logger.ErrorContext(r.Context(), "optional API key authentication failed",
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path),
				)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission gates a route on a scope grant. It must run inside
// Require, which establishes the key context.
func (g *APIKeyGuard) RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			kc, ok := APIKeyFromContext(r.Context())
			if !ok {
				httputil.WriteError(w, r, apperrors.MissingCredential("API key is required"), g.logger)
				return
			}
			if !g.keys.HasPermission(kc, resource, action) {
				httputil.WriteError(w, r, apperrors.InsufficientPermission(resource, action), g.logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// extractAPIKey pulls the raw key from the request, checking the supported
// locations in priority order.
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if key := r.Header.Get("apikey"); key != "" {
		return key
	}
	if key := r.URL.Query().Get("apikey"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

// clientIP returns the originating client address, trusting proxy headers
// when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
