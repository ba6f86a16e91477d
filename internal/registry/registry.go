package registry

import (
	"net/url"

	"github.com/credlink/credlink/pkg/domain"
)

// providerRule is the static part of a provider's configuration. Client ids
// and secrets come from broker config at construction time.
type providerRule struct {
	AuthURL        string
	TokenURL       string
	Scopes         []string
	IsPublicClient bool

	// PKCEExempt marks public clients whose token endpoint rejects PKCE
	// parameters. All other public clients use PKCE.
	PKCEExempt bool
}

var providerRules = map[string]providerRule{
	"google-drive": {
		AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL: "https://oauth2.googleapis.com/token",
		Scopes:   []string{"https://www.googleapis.com/auth/drive.file"},
	},
	"google-calendar": {
		AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL: "https://oauth2.googleapis.com/token",
		Scopes:   []string{"https://www.googleapis.com/auth/calendar.events"},
	},
	"google-sheets": {
		AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL: "https://oauth2.googleapis.com/token",
		Scopes:   []string{"https://www.googleapis.com/auth/spreadsheets"},
	},
	"gmail": {
		AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL: "https://oauth2.googleapis.com/token",
		Scopes:   []string{"https://www.googleapis.com/auth/gmail.readonly"},
	},
	"github": {
		AuthURL:  "https://github.com/login/oauth/authorize",
		TokenURL: "https://github.com/login/oauth/access_token",
		Scopes:   []string{"repo", "read:user"},
	},
	"slack": {
		AuthURL:  "https://slack.com/oauth/v2/authorize",
		TokenURL: "https://slack.com/api/oauth.v2.access",
		Scopes:   []string{"chat:write", "channels:read"},
	},
	"notion": {
		AuthURL:  "https://api.notion.com/v1/oauth/authorize",
		TokenURL: "https://api.notion.com/v1/oauth/token",
		Scopes:   []string{},
	},
	"dropbox": {
		AuthURL:        "https://www.dropbox.com/oauth2/authorize",
		TokenURL:       "https://api.dropboxapi.com/oauth2/token",
		Scopes:         []string{"files.content.read", "files.content.write"},
		IsPublicClient: true,
	},
	"linear": {
		AuthURL:        "https://linear.app/oauth/authorize",
		TokenURL:       "https://api.linear.app/oauth/token",
		Scopes:         []string{"read", "write"},
		IsPublicClient: true,
		PKCEExempt:     true,
	},
	"salesforce": {
		AuthURL:  "https://login.salesforce.com/services/oauth2/authorize",
		TokenURL: "https://login.salesforce.com/services/oauth2/token",
		Scopes:   []string{"api", "refresh_token"},
	},
}

// ProviderRegistry resolves static provider rules into ProviderConfig values
// and owns the per-attempt PKCE correlation store.
type ProviderRegistry struct {
	providers map[string]domain.ProviderConfig
	exempt    map[string]bool
	attempts  *AttemptStore
}

type ProviderRegistryDependencies struct {
	Config domain.BrokerConfig
}

func NewProviderRegistry(deps ProviderRegistryDependencies) (*ProviderRegistry, error) {
	redirect, err := url.Parse(deps.Config.RedirectURI)
	if err != nil {
		return nil, err
	}

	providers := make(map[string]domain.ProviderConfig, len(providerRules))
	exempt := make(map[string]bool)

	for id, rule := range providerRules {
		client := deps.Config.ClientFor(id)

		providers[id] = domain.ProviderConfig{
			ID:             id,
			ClientID:       client.ClientID,
			ClientSecret:   client.ClientSecret,
			AuthURL:        rule.AuthURL,
			TokenURL:       rule.TokenURL,
			Scopes:         rule.Scopes,
			RedirectURI:    deps.Config.RedirectURI,
			CallbackScheme: redirect.Scheme,
			CallbackHost:   redirect.Host,
			IsPublicClient: rule.IsPublicClient,
		}

		if rule.PKCEExempt {
			exempt[id] = true
		}
	}

	return &ProviderRegistry{
		providers: providers,
		exempt:    exempt,
		attempts:  NewAttemptStore(),
	}, nil
}

// ConfigFor returns the provider config, or false for unknown providers.
// Callers must treat an unknown provider as a hard failure.
func (r *ProviderRegistry) ConfigFor(providerID string) (domain.ProviderConfig, bool) {
	config, ok := r.providers[providerID]
	return config, ok
}

// ScopesFor returns the scope list requested for a provider. Sibling
// products of one identity provider (drive, calendar, sheets, gmail)
// request distinct scope sets.
func (r *ProviderRegistry) ScopesFor(providerID string) []string {
	config, ok := r.providers[providerID]
	if !ok {
		return nil
	}
	return config.Scopes
}

// Attempts exposes the correlation store for the orchestrator.
func (r *ProviderRegistry) Attempts() *AttemptStore {
	return r.attempts
}

// Stop shuts down the attempt store's cleanup goroutine.
func (r *ProviderRegistry) Stop() {
	r.attempts.Stop()
}

func (r *ProviderRegistry) usesPKCE(config domain.ProviderConfig) bool {
	return config.IsPublicClient && !r.exempt[config.ID]
}
