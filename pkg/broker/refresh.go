package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/netcomhub/dashboard/pkg/core"
	"github.com/netcomhub/dashboard/pkg/provider"
	"github.com/netcomhub/dashboard/pkg/store"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
)

// EnsureValid returns a usable credential for the provider, refreshing it
// first when it is expired or within the skew margin of expiry.
//
// Calls are serialized per provider: when N requests race on a near-expiry
// credential, one performs the refresh exchange and the rest wait on the
// provider lock, then observe the refreshed credential without issuing their
// own upstream call.
func (b *Broker) EnsureValid(ctx context.Context, providerID string) (*core.Credential, error) {
	desc, err := b.registry.Get(providerID)
	if err != nil {
		return nil, err
	}

	lock := b.providerLock(providerID)
	lock.Lock()
	defer lock.Unlock()

	cred, err := b.store.GetCredential(ctx, providerID)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}

	if !cred.Expired(b.now(), b.skew) {
		return cred, nil
	}

	if cred.RefreshToken == "" || !desc.SupportsRefresh {
		if err := b.clearCredential(ctx, providerID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: credential expired and provider %s cannot refresh", ErrReauthRequired, providerID)
	}

	return b.refresh(ctx, desc, cred)
}

// refresh performs one refresh exchange and replaces the stored credential.
// The caller must hold the provider lock.
func (b *Broker) refresh(ctx context.Context, desc *provider.Descriptor, cred *core.Credential) (*core.Credential, error) {
	ctx, span := b.tracer.Start(ctx, "broker.refresh")
	defer span.End()
	core.AddRequestAttributes(ctx,
		attribute.String("oauth.provider", desc.ID),
	)

	// The refresh result is shared by every request waiting on the provider
	// lock, so neither the exchange nor the store write may die with the
	// first caller's request context.
	detached := context.WithoutCancel(ctx)
	refreshCtx, cancel := context.WithTimeout(
		context.WithValue(detached, oauth2.HTTPClient, b.httpClient),
		defaultRequestTimeout,
	)
	defer cancel()

	source := desc.OAuth2Config().TokenSource(refreshCtx, &oauth2.Token{
		RefreshToken: cred.RefreshToken,
	})
	token, err := source.Token()
	if err != nil {
		return nil, b.refreshFailure(ctx, desc.ID, err)
	}

	next := b.credentialFromToken(desc.ID, token, cred)
	if err := b.store.PutCredential(detached, next); err != nil {
		return nil, err
	}

	core.LoggerFromCtx(ctx).Info("credential refreshed",
		"provider", desc.ID,
		"expires_at", next.ExpiresAt,
		"refresh_token_rotated", token.RefreshToken != "",
	)
	return next, nil
}

// refreshFailure classifies a refresh error. Permanent rejections clear the
// stored credential so later calls do not loop on a dead refresh token;
// transient failures keep it so a later call can retry.
func (b *Broker) refreshFailure(ctx context.Context, providerID string, err error) error {
	logger := core.LoggerFromCtx(ctx)

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && permanentRejection(rerr) {
		logger.Warn("refresh token rejected, clearing credential",
			"provider", providerID,
			"oauth_error", rerr.ErrorCode,
		)
		if clearErr := b.clearCredential(ctx, providerID); clearErr != nil {
			return clearErr
		}
		return fmt.Errorf("%w: %v", ErrReauthRequired, err)
	}

	logger.Warn("transient refresh failure, keeping credential",
		"provider", providerID,
		"error", err,
	)
	return fmt.Errorf("%w: %v", ErrRefreshTransient, err)
}

// permanentRejection reports whether the provider's response means the
// refresh token is dead. invalid_grant is the RFC 6749 signal; a 4xx
// without a parsed error code is treated the same, while 5xx responses are
// left transient.
func permanentRejection(rerr *oauth2.RetrieveError) bool {
	if rerr.ErrorCode == "invalid_grant" {
		return true
	}
	if rerr.ErrorCode != "" && rerr.ErrorCode != "temporarily_unavailable" && rerr.ErrorCode != "server_error" {
		return true
	}
	if rerr.Response != nil {
		code := rerr.Response.StatusCode
		return code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden
	}
	return false
}

// clearCredential removes a provider's credential, tolerating an already
// absent one.
func (b *Broker) clearCredential(ctx context.Context, providerID string) error {
	err := b.store.DeleteCredential(ctx, providerID)
	if err != nil && !errors.Is(err, store.ErrCredentialNotFound) {
		return err
	}
	return nil
}

// Refresh forces a refresh exchange for the provider regardless of expiry,
// backing the explicit refresh endpoint. It follows the same classification
// rules as EnsureValid.
func (b *Broker) Refresh(ctx context.Context, providerID string) (*core.Credential, error) {
	desc, err := b.registry.Get(providerID)
	if err != nil {
		return nil, err
	}

	lock := b.providerLock(providerID)
	lock.Lock()
	defer lock.Unlock()

	cred, err := b.store.GetCredential(ctx, providerID)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	if cred.RefreshToken != "" && desc.SupportsRefresh {
		return b.refresh(ctx, desc, cred)
	}

	// No refresh capability: a still-valid credential is returned as-is, an
	// expired one is cleared.
	if !cred.Expired(b.now(), b.skew) {
		return cred, nil
	}
	if err := b.clearCredential(ctx, providerID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: credential expired and provider %s cannot refresh", ErrReauthRequired, providerID)
}
