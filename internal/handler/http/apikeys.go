package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CodingButter/braidarr/internal/domain"
	"github.com/CodingButter/braidarr/internal/service"
	apperrors "github.com/CodingButter/braidarr/pkg/errors"
	"github.com/CodingButter/braidarr/pkg/httputil"
	"github.com/CodingButter/braidarr/pkg/validator"
)

// APIKeyHandler handles API key management endpoints.
type APIKeyHandler struct {
	service *service.APIKeyService
	logger  *slog.Logger
}

// NewAPIKeyHandler creates a new API key HTTP handler.
func NewAPIKeyHandler(svc *service.APIKeyService, logger *slog.Logger) *APIKeyHandler {
	return &APIKeyHandler{service: svc, logger: logger}
}

// ScopeRequest is one scope grant in a key creation request.
type ScopeRequest struct {
	Resource string   `json:"resource" validate:"required"`
	Actions  []string `json:"actions" validate:"required,min=1,dive,required"`
}

// CreateAPIKeyRequest is the JSON request body for creating an API key.
type CreateAPIKeyRequest struct {
	Name      string         `json:"name" validate:"required,min=1,max=100"`
	Scopes    []ScopeRequest `json:"scopes" validate:"required,min=1,dive"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// CreateAPIKeyResponse returns the new key's metadata plus the raw key, which
// is shown here and never again.
type CreateAPIKeyResponse struct {
	Key    *domain.APIKey `json:"key"`
	RawKey string         `json:"raw_key"`
}

// Create handles POST /api/v1/api-keys
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.MissingCredential("authentication required"), h.logger)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body: "+err.Error()), h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	scopes := make([]domain.Scope, 0, len(req.Scopes))
	for _, s := range req.Scopes {
		scopes = append(scopes, domain.Scope{Resource: s.Resource, Actions: s.Actions})
	}

	key, rawKey, err := h.service.Issue(r.Context(), principal.UserID, service.IssueInput{
		Name:      req.Name,
		Scopes:    scopes,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, CreateAPIKeyResponse{Key: key, RawKey: rawKey})
}

// List handles GET /api/v1/api-keys
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.MissingCredential("authentication required"), h.logger)
		return
	}

	keys, err := h.service.List(r.Context(), principal.UserID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if keys == nil {
		keys = []domain.APIKey{}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// Delete handles DELETE /api/v1/api-keys/{id}
func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.MissingCredential("authentication required"), h.logger)
		return
	}

	keyID := chi.URLParam(r, "id")
	if err := h.service.Deactivate(r.Context(), keyID, principal.UserID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// IntegrationHandler serves the machine-to-machine sample routes. They exist
// to give integrations a scoped surface; the payloads are placeholders until
// the media features land behind them.
type IntegrationHandler struct {
	logger *slog.Logger
}

// NewIntegrationHandler creates the integration handler.
func NewIntegrationHandler(logger *slog.Logger) *IntegrationHandler {
	return &IntegrationHandler{logger: logger}
}

// Resource returns a stub collection response for the authenticated key.
func (h *IntegrationHandler) Resource(resource string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kc, _ := APIKeyFromContext(r.Context())
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"resource": resource,
			"items":    []any{},
			"key_name": kc.KeyName,
		})
	}
}
