package domain

// ProviderConfig describes one OAuth provider. Instances are built once at
// startup from the registry's static rules plus client credentials supplied
// through configuration, and are never mutated afterwards.
type ProviderConfig struct {
	ID           string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	RedirectURI  string

	// Callback matching rule: a redirect is only accepted when its scheme
	// and host match these values.
	CallbackScheme string
	CallbackHost   string

	// IsPublicClient marks providers whose client cannot hold a secret in
	// confidence (PKCE applies unless the provider is explicitly exempt).
	IsPublicClient bool
}

// HasClientCredentials reports whether the config carries the client id
// (and, for confidential clients, the secret) needed to start a flow.
func (c ProviderConfig) HasClientCredentials() bool {
	if c.ClientID == "" {
		return false
	}
	if !c.IsPublicClient && c.ClientSecret == "" {
		return false
	}
	return true
}
