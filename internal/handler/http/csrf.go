package http

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/CodingButter/braidarr/pkg/errors"
	"github.com/CodingButter/braidarr/pkg/httputil"
)

// csrfCookieName holds the HttpOnly secret half of the double-submit pair.
const csrfCookieName = "braidarr_csrf"

// csrfSkipPaths are exempt from CSRF checks: credential-establishing routes
// protected by their own rate limits, and operational endpoints.
var csrfSkipPaths = map[string]struct{}{
	"/api/v1/auth/login":    {},
	"/api/v1/auth/register": {},
	"/api/v1/auth/refresh":  {},
	"/api/v1/csrf-token":    {},
	"/health/live":          {},
	"/health/ready":         {},
	"/metrics":              {},
}

// CsrfGuard implements double-submit CSRF protection. The browser holds an
// HttpOnly cookie with a random secret; the client holds the HMAC of that
// secret and must echo it on mutating requests. The HMAC key is per-process:
// a restart invalidates outstanding tokens and clients simply refetch.
type CsrfGuard struct {
	key      []byte
	secure   bool
	sameSite http.SameSite
	logger   *slog.Logger
}

// NewCsrfGuard creates a CSRF guard with a fresh random HMAC key.
func NewCsrfGuard(secure bool, sameSite string, logger *slog.Logger) (*CsrfGuard, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate csrf key: %w", err)
	}
	return &CsrfGuard{
		key:      key,
		secure:   secure,
		sameSite: parseSameSite(sameSite),
		logger:   logger,
	}, nil
}

// IssueToken handles GET /api/v1/csrf-token: it sets the secret cookie and
// returns the matching token in the body.
func (g *CsrfGuard) IssueToken(w http.ResponseWriter, r *http.Request) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		httputil.WriteError(w, r, fmt.Errorf("generate csrf secret: %w", err), g.logger)
		return
	}
	secret := hex.EncodeToString(secretBytes)

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    secret,
		Path:     "/",
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: g.sameSite,
	})

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"csrfToken": g.tokenFor(secret),
	})
}

// Middleware rejects mutating requests whose CSRF token does not match the
// secret cookie. Requests without the cookie are not subject: the cookie is
// the ambient credential that makes cross-site forgery possible, and pure
// bearer or API-key calls never carry it.
func (g *CsrfGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if g.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-CSRF-Token")
		if token == "" {
			token = r.FormValue("_csrf")
		}

		if !hmac.Equal([]byte(token), []byte(g.tokenFor(cookie.Value))) {
			g.logger.WarnContext(r.Context(), "csrf token mismatch",
				slog.String("path", r.URL.Path),
				slog.String("method", r.Method),
			)
			httputil.WriteError(w, r, apperrors.CsrfMismatch(), g.logger)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *CsrfGuard) skip(path string) bool {
	if _, ok := csrfSkipPaths[path]; ok {
		return true
	}
	return strings.HasPrefix(path, "/docs")
}

func (g *CsrfGuard) tokenFor(secret string) string {
	mac := hmac.New(sha256.New, g.key)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
