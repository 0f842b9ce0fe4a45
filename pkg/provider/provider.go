// Package provider holds the static per-provider OAuth configuration and the
// registry the broker reads it from. Descriptors are immutable after process
// start; anything that varies per provider (refresh support, API-key bypass,
// endpoints) lives here as data rather than as branching code in the broker.
package provider

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/oauth2"
)

var (
	// ErrUnknownProvider is returned when a provider id is not registered.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrNotConfigured is returned when a provider is registered but lacks the
	// client credentials needed to run an OAuth flow.
	ErrNotConfigured = errors.New("provider is not configured for oauth")
)

// Descriptor is the immutable configuration for one provider.
type Descriptor struct {
	ID           string
	Name         string
	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	// SupportsRefresh marks providers that issue refresh tokens.
	SupportsRefresh bool
	// APIKey, when set, lets the provider authenticate with a static key
	// instead of (or alongside) the OAuth flow.
	APIKey string
}

// OAuthConfigured reports whether the descriptor has the fields required to
// drive an authorization code flow.
func (d *Descriptor) OAuthConfigured() bool {
	return d.ClientID != "" && d.ClientSecret != "" && d.AuthURL != "" && d.TokenURL != ""
}

// HasAPIKey reports whether the static API-key bypass is available.
func (d *Descriptor) HasAPIKey() bool {
	return d.APIKey != ""
}

// OAuth2Config builds the x/oauth2 configuration for this provider.
func (d *Descriptor) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     d.ClientID,
		ClientSecret: d.ClientSecret,
		RedirectURL:  d.RedirectURI,
		Scopes:       d.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  d.AuthURL,
			TokenURL: d.TokenURL,
		},
	}
}

// Registry is a read-only lookup of provider descriptors keyed by id.
type Registry struct {
	providers map[string]*Descriptor
}

// NewRegistry builds a registry from the given descriptors.
func NewRegistry(descriptors ...*Descriptor) *Registry {
	m := make(map[string]*Descriptor, len(descriptors))
	for _, d := range descriptors {
		m[d.ID] = d
	}
	return &Registry{providers: m}
}

// Get returns the descriptor for the given provider id.
// It returns ErrUnknownProvider if the id is not registered.
func (r *Registry) Get(id string) (*Descriptor, error) {
	d, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return d, nil
}

// IDs returns the registered provider ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks every descriptor at startup. A provider must either be
// fully configured for OAuth or carry an API key; anything else is a fatal
// configuration error rather than a provider that silently fails on first use.
func (r *Registry) Validate() error {
	var errs []error
	for _, id := range r.IDs() {
		d := r.providers[id]
		if d.OAuthConfigured() || d.HasAPIKey() {
			continue
		}
		switch {
		case d.ClientID == "" && d.ClientSecret == "":
			errs = append(errs, fmt.Errorf("provider %s: missing client id and client secret", id))
		case d.ClientID == "":
			errs = append(errs, fmt.Errorf("provider %s: missing client id", id))
		case d.ClientSecret == "":
			errs = append(errs, fmt.Errorf("provider %s: missing client secret", id))
		default:
			errs = append(errs, fmt.Errorf("provider %s: missing oauth endpoints", id))
		}
	}
	return errors.Join(errs...)
}
