package broker

import (
	"context"
	"errors"
	"time"
)

// Status reasons reported for unauthenticated providers.
const (
	ReasonNotAuthenticated = "not_authenticated"
	ReasonReauthRequired   = "reauth_required"
	ReasonTransient        = "transient"
)

// Authentication modes.
const (
	ModeOAuth  = "oauth"
	ModeAPIKey = "api_key"
)

// Status is the answer to "is this provider connected". It carries no token
// material, only non-secret metadata.
type Status struct {
	ProviderID    string
	Authenticated bool
	Mode          string
	Reason        string
	Scopes        []string
	ExpiresAt     time.Time
}

// Status reports the authentication state of a provider, refreshing the
// stored credential transparently when needed. This is the single entry point
// integrations use before calling a provider's data API; "not connected" is
// a normal answer, never an error.
//
// A live OAuth credential takes precedence. The static API key answers only
// when no usable OAuth credential exists, and is reported as its own mode so
// callers can tell the difference.
//
// Reasons are not sticky: the call that finds a dead refresh token reports
// "reauth_required" and clears the credential, so later calls report
// "not_authenticated".
func (b *Broker) Status(ctx context.Context, providerID string) (*Status, error) {
	desc, err := b.registry.Get(providerID)
	if err != nil {
		return nil, err
	}

	cred, err := b.EnsureValid(ctx, providerID)
	if err == nil {
		return &Status{
			ProviderID:    providerID,
			Authenticated: true,
			Mode:          ModeOAuth,
			Scopes:        cred.Scopes,
			ExpiresAt:     cred.ExpiresAt,
		}, nil
	}

	switch {
	case errors.Is(err, ErrNotAuthenticated):
		if desc.HasAPIKey() {
			return &Status{ProviderID: providerID, Authenticated: true, Mode: ModeAPIKey}, nil
		}
		return &Status{ProviderID: providerID, Reason: ReasonNotAuthenticated}, nil
	case errors.Is(err, ErrReauthRequired):
		if desc.HasAPIKey() {
			return &Status{ProviderID: providerID, Authenticated: true, Mode: ModeAPIKey}, nil
		}
		return &Status{ProviderID: providerID, Reason: ReasonReauthRequired}, nil
	case errors.Is(err, ErrRefreshTransient):
		return &Status{ProviderID: providerID, Reason: ReasonTransient}, nil
	default:
		return nil, err
	}
}
