package provider

import (
	"errors"
	"strings"
	"testing"
)

func oauthDescriptor(id string) *Descriptor {
	return &Descriptor{
		ID:           id,
		Name:         id,
		AuthURL:      "https://example.com/oauth/authorize",
		TokenURL:     "https://example.com/oauth/token",
		ClientID:     "client-" + id,
		ClientSecret: "secret-" + id,
		RedirectURI:  "http://localhost:5000/" + id + "/auth/callback",
		Scopes:       []string{"read"},
	}
}

func TestRegistry_Get(t *testing.T) {
	registry := NewRegistry(oauthDescriptor("google"), oauthDescriptor("slack"))

	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{
			name: "registered provider",
			id:   "google",
		},
		{
			name:    "unknown provider",
			id:      "gitlab",
			wantErr: ErrUnknownProvider,
		},
		{
			name:    "empty id",
			id:      "",
			wantErr: ErrUnknownProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := registry.Get(tt.id)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Get() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got.ID != tt.id {
				t.Errorf("Get() id = %v, want %v", got.ID, tt.id)
			}
		})
	}
}

func TestRegistry_IDs_Sorted(t *testing.T) {
	registry := NewRegistry(
		oauthDescriptor("slack"),
		oauthDescriptor("figma"),
		oauthDescriptor("google"),
	)

	ids := registry.IDs()
	want := []string{"figma", "google", "slack"}
	if len(ids) != len(want) {
		t.Fatalf("IDs() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("IDs()[%d] = %v, want %v", i, ids[i], want[i])
		}
	}
}

func TestRegistry_Validate(t *testing.T) {
	tests := []struct {
		name        string
		descriptors []*Descriptor
		wantErr     bool
		contains    string
	}{
		{
			name:        "fully configured oauth provider",
			descriptors: []*Descriptor{oauthDescriptor("google")},
		},
		{
			name: "api key only provider",
			descriptors: []*Descriptor{
				{ID: "notion", Name: "Notion", APIKey: "secret_abc"},
			},
		},
		{
			name:        "empty registry",
			descriptors: nil,
		},
		{
			name: "missing client secret",
			descriptors: []*Descriptor{
				{
					ID:       "figma",
					AuthURL:  "https://www.figma.com/oauth",
					TokenURL: "https://api.figma.com/v1/oauth/token",
					ClientID: "client-figma",
				},
			},
			wantErr:  true,
			contains: "missing client secret",
		},
		{
			name: "missing client id",
			descriptors: []*Descriptor{
				{
					ID:           "figma",
					AuthURL:      "https://www.figma.com/oauth",
					TokenURL:     "https://api.figma.com/v1/oauth/token",
					ClientSecret: "secret-figma",
				},
			},
			wantErr:  true,
			contains: "missing client id",
		},
		{
			name: "missing endpoints",
			descriptors: []*Descriptor{
				{
					ID:           "custom",
					ClientID:     "client-custom",
					ClientSecret: "secret-custom",
				},
			},
			wantErr:  true,
			contains: "missing oauth endpoints",
		},
		{
			name: "one bad provider among good ones",
			descriptors: []*Descriptor{
				oauthDescriptor("google"),
				{ID: "slack", AuthURL: slackAuthURL, TokenURL: slackTokenURL, ClientID: "client-slack"},
			},
			wantErr:  true,
			contains: "provider slack",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry(tt.descriptors...).Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.contains != "" && !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.contains)
			}
		})
	}
}

func TestDescriptor_OAuthConfigured(t *testing.T) {
	tests := []struct {
		name string
		d    *Descriptor
		want bool
	}{
		{
			name: "fully configured",
			d:    oauthDescriptor("google"),
			want: true,
		},
		{
			name: "missing secret",
			d: &Descriptor{
				ID:       "google",
				AuthURL:  googleAuthURL,
				TokenURL: googleTokenURL,
				ClientID: "client",
			},
			want: false,
		},
		{
			name: "api key only",
			d:    &Descriptor{ID: "notion", APIKey: "secret_abc"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.OAuthConfigured(); got != tt.want {
				t.Errorf("OAuthConfigured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDescriptor_OAuth2Config(t *testing.T) {
	d := oauthDescriptor("figma")
	conf := d.OAuth2Config()

	if conf.ClientID != d.ClientID {
		t.Errorf("ClientID = %v, want %v", conf.ClientID, d.ClientID)
	}
	if conf.ClientSecret != d.ClientSecret {
		t.Errorf("ClientSecret = %v, want %v", conf.ClientSecret, d.ClientSecret)
	}
	if conf.RedirectURL != d.RedirectURI {
		t.Errorf("RedirectURL = %v, want %v", conf.RedirectURL, d.RedirectURI)
	}
	if conf.Endpoint.AuthURL != d.AuthURL {
		t.Errorf("AuthURL = %v, want %v", conf.Endpoint.AuthURL, d.AuthURL)
	}
	if conf.Endpoint.TokenURL != d.TokenURL {
		t.Errorf("TokenURL = %v, want %v", conf.Endpoint.TokenURL, d.TokenURL)
	}
}

// clearProviderEnv blanks every catalog variable so ambient configuration does
// not leak into the test.
func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET",
		"MICROSOFT_CLIENT_ID", "MICROSOFT_CLIENT_SECRET",
		"SLACK_CLIENT_ID", "SLACK_CLIENT_SECRET",
		"FIGMA_CLIENT_ID", "FIGMA_CLIENT_SECRET",
		"NOTION_CLIENT_ID", "NOTION_CLIENT_SECRET", "NOTION_API_KEY",
		"GITHUB_CLIENT_ID", "GITHUB_CLIENT_SECRET", "GITHUB_PERSONAL_ACCESS_TOKEN",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnv_OmitsUnconfigured(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GOOGLE_CLIENT_ID", "client-google")
	t.Setenv("GOOGLE_CLIENT_SECRET", "secret-google")

	registry, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	ids := registry.IDs()
	if len(ids) != 1 || ids[0] != "google" {
		t.Fatalf("IDs() = %v, want [google]", ids)
	}

	d, err := registry.Get("google")
	if err != nil {
		t.Fatalf("Get(google) error = %v", err)
	}
	if !d.OAuthConfigured() {
		t.Error("google descriptor should be oauth configured")
	}
	if !d.SupportsRefresh {
		t.Error("google descriptor should support refresh")
	}
	if d.RedirectURI != "http://localhost:5000/google/auth/callback" {
		t.Errorf("redirect uri = %v, want default", d.RedirectURI)
	}
}

func TestFromEnv_APIKeyOnly(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("NOTION_API_KEY", "secret_abc")

	registry, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	d, err := registry.Get("notion")
	if err != nil {
		t.Fatalf("Get(notion) error = %v", err)
	}
	if !d.HasAPIKey() {
		t.Error("notion descriptor should carry an api key")
	}
	if d.OAuthConfigured() {
		t.Error("notion descriptor should not be oauth configured")
	}
	if err := registry.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestFromEnv_PartialConfigFailsValidation(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("FIGMA_CLIENT_ID", "client-figma")

	registry, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if _, err := registry.Get("figma"); err != nil {
		t.Fatalf("partially configured provider should stay registered: %v", err)
	}
	if err := registry.Validate(); err == nil {
		t.Error("Validate() should reject a provider missing its client secret")
	}
}

func TestFromEnv_RedirectOverride(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("SLACK_CLIENT_ID", "client-slack")
	t.Setenv("SLACK_CLIENT_SECRET", "secret-slack")
	t.Setenv("SLACK_REDIRECT_URI", "https://dashboard.example.com/slack/auth/callback")

	registry, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	d, err := registry.Get("slack")
	if err != nil {
		t.Fatalf("Get(slack) error = %v", err)
	}
	if d.RedirectURI != "https://dashboard.example.com/slack/auth/callback" {
		t.Errorf("redirect uri = %v, want override", d.RedirectURI)
	}
}
