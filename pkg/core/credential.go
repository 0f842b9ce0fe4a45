package core

import (
	"context"
	"time"
)

// Credential is the single live credential held for a provider. A successful
// exchange or refresh replaces the whole value; callers never see a partially
// written credential.
type Credential struct {
	ProviderID   string    `json:"provider_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	AcquiredAt   time.Time `json:"acquired_at"`
}

// Expired reports whether the credential is past, or within skew of, its
// expiry. A zero ExpiresAt means the provider did not report an expiry and the
// credential is treated as non-expiring.
func (c *Credential) Expired(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(c.ExpiresAt)
}

// AuthRequest is a pending authorization flow, keyed by its state token.
// It is consumed at most once: a callback that presents an already-taken
// state must fail.
type AuthRequest struct {
	State      string `json:"state"`
	ProviderID string `json:"provider_id"`
	CreatedAt  int64  `json:"created_at"`
	ExpiresAt  int64  `json:"expires_at"`
}

// Stale reports whether the request's TTL has elapsed.
func (a *AuthRequest) Stale(now time.Time) bool {
	return now.Unix() > a.ExpiresAt
}

// Store is the interface for persisting credentials and pending authorization
// requests. Implementations must replace credentials atomically: a reader
// observes either the previous credential or the new one, never a mix.
type Store interface {
	// GetCredential returns the live credential for a provider, or
	// ErrCredentialNotFound when none is stored (or a durable record has
	// outlived the backend's declared TTL).
	GetCredential(ctx context.Context, providerID string) (*Credential, error)
	// PutCredential stores a credential, replacing any prior one for the
	// same provider.
	PutCredential(ctx context.Context, cred *Credential) error
	// DeleteCredential removes the credential for a provider. It returns
	// ErrCredentialNotFound if none was stored.
	DeleteCredential(ctx context.Context, providerID string) error

	// SaveAuthRequest stores a pending authorization request keyed by state.
	SaveAuthRequest(ctx context.Context, req *AuthRequest) error
	// TakeAuthRequest removes and returns the request for the given state.
	// A second take of the same state returns ErrAuthRequestNotFound, which
	// is what makes callback replay fail.
	TakeAuthRequest(ctx context.Context, state string) (*AuthRequest, error)
}
