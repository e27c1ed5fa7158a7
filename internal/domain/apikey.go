package domain

import (
	"time"
)

// ScopeWildcard is the explicit wildcard entry for a scope resource or action.
// Wildcards are deliberate grants made at key creation; matching never infers
// hierarchy from resource names.
const ScopeWildcard = "*"

// Scope is a (resource, actions) permission grant attached to an API key.
type Scope struct {
	Resource string   `json:"resource"`
	Actions  []string `json:"actions"`
}

// Allows reports whether this scope grants the given action on the given
// resource. Matching is exact string equality, with ScopeWildcard entries
// matching anything.
func (s Scope) Allows(resource, action string) bool {
	if s.Resource != resource && s.Resource != ScopeWildcard {
		return false
	}
	for _, a := range s.Actions {
		if a == action || a == ScopeWildcard {
			return true
		}
	}
	return false
}

// APIKey represents a machine-to-machine credential. The raw key is shown
// once at creation; only SecretHash and KeyPrefix persist. KeyPrefix enables
// O(1) candidate lookup before the expensive hash comparison.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SecretHash string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []Scope    `json:"scopes"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	UserID     string     `json:"user_id"`
	CreatedAt  time.Time  `json:"created_at"`
}

// APIKeyUsage is an append-only log row per authenticated API-key request.
// Write-only from this service's perspective.
type APIKeyUsage struct {
	ID           string    `json:"id"`
	APIKeyID     string    `json:"api_key_id"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	ResponseCode int       `json:"response_code"`
	CreatedAt    time.Time `json:"created_at"`
}

// APIKeyContext is the result of a successful key validation: the owning
// user's principal plus the key's identity and scope list.
type APIKeyContext struct {
	Principal Principal
	KeyID     string
	KeyName   string
	Scopes    []Scope
}
