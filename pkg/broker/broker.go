// Package broker implements the multi-provider OAuth2 credential broker: it
// initiates authorization flows, exchanges callback codes for tokens, keeps a
// single live credential per provider, and refreshes credentials before the
// rest of the system uses them.
package broker

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/netcomhub/dashboard/pkg/core"
	"github.com/netcomhub/dashboard/pkg/provider"
	"github.com/netcomhub/dashboard/pkg/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const (
	// defaultStateTTL bounds how long an issued authorization URL stays valid.
	defaultStateTTL = 10 * time.Minute
	// defaultSkew is the safety margin before expiry at which a credential is
	// refreshed proactively.
	defaultSkew = 60 * time.Second
	// defaultRequestTimeout bounds every network call to a provider's token
	// endpoint.
	defaultRequestTimeout = 10 * time.Second
)

// Broker coordinates the authorization flow, token exchange, credential
// storage, and refresh for every registered provider.
type Broker struct {
	registry   *provider.Registry
	store      core.Store
	httpClient *http.Client
	stateTTL   time.Duration
	skew       time.Duration
	now        func() time.Time
	tracer     trace.Tracer

	// mu guards locks; each provider gets its own mutex so that token
	// exchange, refresh, and logout are serialized per provider without
	// blocking unrelated providers.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Broker.
type Option func(*Broker)

// WithHTTPClient sets the HTTP client used for token endpoint calls.
func WithHTTPClient(client *http.Client) Option {
	return func(b *Broker) {
		b.httpClient = client
	}
}

// WithStateTTL sets how long issued authorization requests stay valid.
func WithStateTTL(ttl time.Duration) Option {
	return func(b *Broker) {
		b.stateTTL = ttl
	}
}

// WithSkew sets the proactive refresh margin before credential expiry.
func WithSkew(skew time.Duration) Option {
	return func(b *Broker) {
		b.skew = skew
	}
}

// WithClock overrides the broker's time source.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		b.now = now
	}
}

// New creates a Broker over the given registry and store.
func New(registry *provider.Registry, st core.Store, opts ...Option) *Broker {
	b := &Broker{
		registry:   registry,
		store:      st,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		stateTTL:   defaultStateTTL,
		skew:       defaultSkew,
		now:        time.Now,
		tracer:     otel.Tracer("github.com/netcomhub/dashboard/pkg/broker"),
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// providerLock returns the mutex serializing operations for one provider.
func (b *Broker) providerLock(providerID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.locks[providerID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[providerID] = l
	}
	return l
}

// BeginAuth starts the authorization code flow for a provider. It issues a
// random state token, records the pending request, and returns the provider's
// consent page URL.
func (b *Broker) BeginAuth(ctx context.Context, providerID string) (string, error) {
	desc, err := b.registry.Get(providerID)
	if err != nil {
		return "", err
	}
	if !desc.OAuthConfigured() {
		return "", provider.ErrNotConfigured
	}

	state := generateState()
	now := b.now()
	req := &core.AuthRequest{
		State:      state,
		ProviderID: providerID,
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(b.stateTTL).Unix(),
	}
	if err := b.store.SaveAuthRequest(ctx, req); err != nil {
		return "", err
	}

	var authOpts []oauth2.AuthCodeOption
	if desc.SupportsRefresh {
		// Providers that rotate refresh tokens only hand one out for offline
		// consent requests.
		authOpts = append(authOpts,
			oauth2.AccessTypeOffline,
			oauth2.SetAuthURLParam("prompt", "consent"),
		)
	}

	authURL := desc.OAuth2Config().AuthCodeURL(state, authOpts...)
	core.LoggerFromCtx(ctx).Debug("authorization flow started",
		"provider", providerID,
	)
	return authURL, nil
}

// CompleteAuth handles the provider callback: it validates and consumes the
// state token, exchanges the code for tokens, and stores the credential. The
// state is consumed before the network call so a retried callback can never
// succeed twice.
func (b *Broker) CompleteAuth(ctx context.Context, providerID, code, state string) (*core.Credential, error) {
	desc, err := b.registry.Get(providerID)
	if err != nil {
		return nil, err
	}
	if !desc.OAuthConfigured() {
		return nil, provider.ErrNotConfigured
	}

	lock := b.providerLock(providerID)
	lock.Lock()
	defer lock.Unlock()

	req, err := b.store.TakeAuthRequest(ctx, state)
	if err != nil {
		if errors.Is(err, store.ErrAuthRequestNotFound) {
			return nil, ErrInvalidState
		}
		return nil, err
	}
	if req.ProviderID != providerID || req.Stale(b.now()) {
		return nil, ErrInvalidState
	}

	ctx, span := b.tracer.Start(ctx, "broker.exchange")
	defer span.End()
	core.AddRequestAttributes(ctx,
		attribute.String("oauth.provider", providerID),
	)

	exchangeCtx, cancel := context.WithTimeout(
		context.WithValue(ctx, oauth2.HTTPClient, b.httpClient),
		defaultRequestTimeout,
	)
	defer cancel()

	token, err := desc.OAuth2Config().Exchange(exchangeCtx, code)
	if err != nil {
		return nil, exchangeError(providerID, err)
	}

	cred := b.credentialFromToken(providerID, token, nil)
	if err := b.store.PutCredential(ctx, cred); err != nil {
		return nil, err
	}

	core.LoggerFromCtx(ctx).Info("authorization flow completed",
		"provider", providerID,
		"expires_at", cred.ExpiresAt,
		"has_refresh_token", cred.RefreshToken != "",
	)
	return cred, nil
}

// Logout removes the stored credential for a provider. It is idempotent: a
// logout without a stored credential succeeds.
func (b *Broker) Logout(ctx context.Context, providerID string) error {
	if _, err := b.registry.Get(providerID); err != nil {
		return err
	}

	lock := b.providerLock(providerID)
	lock.Lock()
	defer lock.Unlock()

	err := b.store.DeleteCredential(ctx, providerID)
	if err != nil && !errors.Is(err, store.ErrCredentialNotFound) {
		return err
	}
	core.LoggerFromCtx(ctx).Info("credential cleared", "provider", providerID)
	return nil
}

// credentialFromToken builds the stored credential for a token response.
// Previous credential fields carry over where the provider omitted them: a
// refresh exchange that does not rotate the refresh token keeps the old one.
func (b *Broker) credentialFromToken(providerID string, token *oauth2.Token, prev *core.Credential) *core.Credential {
	cred := &core.Credential{
		ProviderID:  providerID,
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresAt:   token.Expiry,
		AcquiredAt:  b.now(),
	}
	cred.RefreshToken = token.RefreshToken
	cred.Scopes = grantedScopes(token)
	if prev != nil {
		if cred.RefreshToken == "" {
			cred.RefreshToken = prev.RefreshToken
		}
		if len(cred.Scopes) == 0 {
			cred.Scopes = prev.Scopes
		}
	}
	return cred
}

// grantedScopes parses the scope field of a token response. Providers are
// split on the delimiter: most use spaces, GitHub and Slack use commas.
func grantedScopes(token *oauth2.Token) []string {
	raw, ok := token.Extra("scope").(string)
	if !ok || raw == "" {
		return nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// exchangeError maps an oauth2 exchange failure to a TokenExchangeError,
// preserving the upstream status and body when the provider responded.
func exchangeError(providerID string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		statusCode := 0
		if rerr.Response != nil {
			statusCode = rerr.Response.StatusCode
		}
		return &TokenExchangeError{
			ProviderID: providerID,
			StatusCode: statusCode,
			Body:       string(rerr.Body),
			Err:        err,
		}
	}
	return &TokenExchangeError{ProviderID: providerID, Err: err}
}

// generateState returns a cryptographically random state token.
func generateState() string {
	b := make([]byte, 32)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
