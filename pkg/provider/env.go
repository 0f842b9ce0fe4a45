package provider

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Defaults for the built-in provider catalog. Endpoints are fixed per
// provider; client credentials and redirect URIs come from the environment.
const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"

	microsoftAuthURL  = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	microsoftTokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"

	slackAuthURL  = "https://slack.com/oauth/v2/authorize"
	slackTokenURL = "https://slack.com/api/oauth.v2.access"

	figmaAuthURL  = "https://www.figma.com/oauth"
	figmaTokenURL = "https://api.figma.com/v1/oauth/token"

	notionAuthURL  = "https://api.notion.com/v1/oauth/authorize"
	notionTokenURL = "https://api.notion.com/v1/oauth/token"

	githubAuthURL  = "https://github.com/login/oauth/authorize"
	githubTokenURL = "https://github.com/login/oauth/access_token"
)

// providerEnv holds the raw environment values for every built-in provider.
type providerEnv struct {
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI  string `env:"GOOGLE_REDIRECT_URI" envDefault:"http://localhost:5000/google/auth/callback"`

	MicrosoftClientID     string `env:"MICROSOFT_CLIENT_ID"`
	MicrosoftClientSecret string `env:"MICROSOFT_CLIENT_SECRET"`
	MicrosoftRedirectURI  string `env:"MICROSOFT_REDIRECT_URI" envDefault:"http://localhost:5000/microsoft/auth/callback"`

	SlackClientID     string `env:"SLACK_CLIENT_ID"`
	SlackClientSecret string `env:"SLACK_CLIENT_SECRET"`
	SlackRedirectURI  string `env:"SLACK_REDIRECT_URI" envDefault:"http://localhost:5000/slack/auth/callback"`

	FigmaClientID     string `env:"FIGMA_CLIENT_ID"`
	FigmaClientSecret string `env:"FIGMA_CLIENT_SECRET"`
	FigmaRedirectURI  string `env:"FIGMA_REDIRECT_URI" envDefault:"http://localhost:5000/figma/auth/callback"`

	NotionClientID     string `env:"NOTION_CLIENT_ID"`
	NotionClientSecret string `env:"NOTION_CLIENT_SECRET"`
	NotionRedirectURI  string `env:"NOTION_REDIRECT_URI" envDefault:"http://localhost:5000/notion/auth/callback"`
	NotionAPIKey       string `env:"NOTION_API_KEY"`

	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	GitHubRedirectURI  string `env:"GITHUB_REDIRECT_URI" envDefault:"http://localhost:5000/github/auth/callback"`
	GitHubToken        string `env:"GITHUB_PERSONAL_ACCESS_TOKEN"`
}

// FromEnv builds the registry for the built-in provider catalog from
// environment variables. Providers with no configuration at all are left out
// of the registry; partially configured providers are kept so that
// Registry.Validate can reject them at startup.
func FromEnv() (*Registry, error) {
	var raw providerEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse provider environment: %w", err)
	}

	catalog := []*Descriptor{
		{
			ID:           "google",
			Name:         "Google Workspace",
			AuthURL:      googleAuthURL,
			TokenURL:     googleTokenURL,
			ClientID:     raw.GoogleClientID,
			ClientSecret: raw.GoogleClientSecret,
			RedirectURI:  raw.GoogleRedirectURI,
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.readonly",
				"https://www.googleapis.com/auth/gmail.modify",
				"https://www.googleapis.com/auth/gmail.send",
				"https://www.googleapis.com/auth/drive",
				"https://www.googleapis.com/auth/spreadsheets",
			},
			SupportsRefresh: true,
		},
		{
			ID:           "microsoft",
			Name:         "Microsoft 365",
			AuthURL:      microsoftAuthURL,
			TokenURL:     microsoftTokenURL,
			ClientID:     raw.MicrosoftClientID,
			ClientSecret: raw.MicrosoftClientSecret,
			RedirectURI:  raw.MicrosoftRedirectURI,
			Scopes: []string{
				"User.Read",
				"Mail.Read",
				"Mail.Send",
				"Calendars.Read",
				"Calendars.ReadWrite",
				"offline_access",
			},
			SupportsRefresh: true,
		},
		{
			ID:           "slack",
			Name:         "Slack",
			AuthURL:      slackAuthURL,
			TokenURL:     slackTokenURL,
			ClientID:     raw.SlackClientID,
			ClientSecret: raw.SlackClientSecret,
			RedirectURI:  raw.SlackRedirectURI,
			Scopes: []string{
				"channels:read",
				"channels:history",
				"chat:write",
				"team:read",
				"users:read",
			},
		},
		{
			ID:              "figma",
			Name:            "Figma",
			AuthURL:         figmaAuthURL,
			TokenURL:        figmaTokenURL,
			ClientID:        raw.FigmaClientID,
			ClientSecret:    raw.FigmaClientSecret,
			RedirectURI:     raw.FigmaRedirectURI,
			Scopes:          []string{"file_read"},
			SupportsRefresh: true,
		},
		{
			ID:           "notion",
			Name:         "Notion",
			AuthURL:      notionAuthURL,
			TokenURL:     notionTokenURL,
			ClientID:     raw.NotionClientID,
			ClientSecret: raw.NotionClientSecret,
			RedirectURI:  raw.NotionRedirectURI,
			APIKey:       raw.NotionAPIKey,
		},
		{
			ID:           "github",
			Name:         "GitHub",
			AuthURL:      githubAuthURL,
			TokenURL:     githubTokenURL,
			ClientID:     raw.GitHubClientID,
			ClientSecret: raw.GitHubClientSecret,
			RedirectURI:  raw.GitHubRedirectURI,
			Scopes:       []string{"repo", "read:user"},
			APIKey:       raw.GitHubToken,
		},
	}

	var configured []*Descriptor
	for _, d := range catalog {
		if d.ClientID == "" && d.ClientSecret == "" && !d.HasAPIKey() {
			continue
		}
		configured = append(configured, d)
	}
	return NewRegistry(configured...), nil
}
