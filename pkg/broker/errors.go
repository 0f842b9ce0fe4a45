package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when a callback presents a state token that
	// was never issued, has expired, or was already consumed.
	ErrInvalidState = errors.New("invalid or already consumed state")
	// ErrNotAuthenticated is returned when no credential has ever been
	// obtained for a provider.
	ErrNotAuthenticated = errors.New("provider is not authenticated")
	// ErrReauthRequired is returned when the stored credential is expired and
	// cannot be refreshed; the credential has been cleared.
	ErrReauthRequired = errors.New("re-authentication required")
	// ErrRefreshTransient is returned when a refresh failed for a reason that
	// may resolve itself (network error, upstream 5xx); the stored credential
	// is kept so a later call can retry.
	ErrRefreshTransient = errors.New("transient refresh failure")
)

// TokenExchangeError reports an upstream rejection of an authorization code
// or refresh token, carrying the provider's status and response body.
type TokenExchangeError struct {
	ProviderID string
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenExchangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token exchange with %s failed with status %d: %s", e.ProviderID, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("token exchange with %s failed: %v", e.ProviderID, e.Err)
}

func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}
