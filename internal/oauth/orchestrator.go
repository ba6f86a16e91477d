package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/credlink/credlink/internal/registry"
	"github.com/credlink/credlink/pkg/domain"

	"github.com/rs/zerolog/log"
)

// expiryMargin pads validity checks against clock skew between the broker
// and the provider.
const expiryMargin = 30 * time.Second

// placeholderSecrets are client-secret values that mean "not configured".
// They are never sent to a token endpoint.
var placeholderSecrets = map[string]bool{
	"":                   true,
	"YOUR_CLIENT_SECRET": true,
	"changeme":           true,
}

// CallbackMatch restricts which redirects a user agent may hand back.
type CallbackMatch struct {
	Scheme string
	Host   string
}

// UserAgent is the external interactive collaborator. Authorize opens the
// authorization URL for the user, accepts only redirects matching the given
// scheme/host, and returns the callback URL. A cancellation is reported as
// domain.ErrUserCancelled.
type UserAgent interface {
	Authorize(ctx context.Context, authURL string, match CallbackMatch) (string, error)
}

// CredentialStore is the slice of the store the orchestrator needs for
// refresh persistence and validity checks.
type CredentialStore interface {
	Save(providerName string, authType domain.AuthType, payload []byte) error
	Get(providerName string) ([]byte, domain.ServiceMetadata, error)
	Remove(providerName string) error
}

// ProviderRegistry is the slice of the registry the orchestrator consults
// before every attempt and exchange.
type ProviderRegistry interface {
	ConfigFor(providerID string) (domain.ProviderConfig, bool)
	BuildAuthorizationURL(config domain.ProviderConfig) (authURL, state string, err error)
	Attempts() *registry.AttemptStore
}

// Orchestrator drives the OAuth 2.0 authorization-code flow end to end:
// authorization URL, user-agent hand-off, callback correlation, code
// exchange, and refresh.
type Orchestrator struct {
	registry   ProviderRegistry
	store      CredentialStore
	userAgent  UserAgent
	httpClient *http.Client
}

type OrchestratorDependencies struct {
	Registry   ProviderRegistry
	Store      CredentialStore
	UserAgent  UserAgent
	HTTPClient *http.Client
}

func NewOrchestrator(deps OrchestratorDependencies) *Orchestrator {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Orchestrator{
		registry:   deps.Registry,
		store:      deps.Store,
		userAgent:  deps.UserAgent,
		httpClient: httpClient,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// Connect runs one interactive authorization attempt for a provider and
// returns the exchanged credentials. It does not persist them; the caller
// decides what to store.
func (o *Orchestrator) Connect(ctx context.Context, providerName string) (domain.OAuthCredentials, error) {
	config, ok := o.registry.ConfigFor(providerName)
	if !ok || !config.HasClientCredentials() {
		return domain.OAuthCredentials{}, fmt.Errorf("%w: %s", domain.ErrConfigurationMissing, providerName)
	}

	authURL, state, err := o.registry.BuildAuthorizationURL(config)
	if err != nil {
		return domain.OAuthCredentials{}, err
	}

	log.Debug().Str("provider", providerName).Msg("Awaiting user authorization")

	callbackURL, err := o.userAgent.Authorize(ctx, authURL, CallbackMatch{
		Scheme: config.CallbackScheme,
		Host:   config.CallbackHost,
	})
	if err != nil {
		o.registry.Attempts().Cancel(state)
		return domain.OAuthCredentials{}, err
	}

	if err := callbackError(callbackURL); err != nil {
		o.registry.Attempts().Cancel(state)
		return domain.OAuthCredentials{}, err
	}

	code, ok := registry.ExtractAuthCode(callbackURL)
	if !ok {
		o.registry.Attempts().Cancel(state)
		return domain.OAuthCredentials{}, fmt.Errorf("%w: %s", domain.ErrInvalidCallback, providerName)
	}

	log.Debug().Str("provider", providerName).Msg("Exchanging authorization code")

	verifier, _ := o.registry.Attempts().ConsumeVerifier(state)

	credentials, err := o.exchangeCode(ctx, config, code, verifier)
	if err != nil {
		return domain.OAuthCredentials{}, err
	}

	log.Info().Str("provider", providerName).Msg("Authorization completed")

	return credentials, nil
}

// callbackError maps a provider `error` query parameter onto the broker's
// failure taxonomy. The mapping is provider-agnostic.
func callbackError(callbackURL string) error {
	parsed, err := url.Parse(callbackURL)
	if err != nil {
		return fmt.Errorf("%w: unparseable callback", domain.ErrInvalidCallback)
	}

	errCode := parsed.Query().Get("error")
	if errCode == "" {
		return nil
	}

	switch errCode {
	case "access_denied":
		return fmt.Errorf("%w: %s", domain.ErrUserCancelled, errCode)
	case "invalid_request":
		return fmt.Errorf("%w: %s", domain.ErrConfigurationMissing, errCode)
	default:
		return fmt.Errorf("%w: %s", domain.ErrCallbackError, errCode)
	}
}

func (o *Orchestrator) exchangeCode(ctx context.Context, config domain.ProviderConfig, code, verifier string) (domain.OAuthCredentials, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", config.RedirectURI)
	form.Set("client_id", config.ClientID)

	if !config.IsPublicClient && !placeholderSecrets[config.ClientSecret] {
		form.Set("client_secret", config.ClientSecret)
	}

	if verifier != "" {
		form.Set("code_verifier", verifier)
	}

	status, body, err := o.postForm(ctx, config.TokenURL, form)
	if err != nil {
		return domain.OAuthCredentials{}, fmt.Errorf("%w: %v", domain.ErrTokenExchangeFailed, err)
	}

	if status != http.StatusOK {
		log.Debug().Str("provider", config.ID).Int("status", status).Msg("Token exchange rejected")
		return domain.OAuthCredentials{}, fmt.Errorf("%w: status %d", domain.ErrTokenExchangeFailed, status)
	}

	return decodeTokenBody(body)
}

// RefreshTokens exchanges the stored refresh token for new credentials and
// persists them. On failure the stored credentials are left untouched.
func (o *Orchestrator) RefreshTokens(ctx context.Context, providerName string) (domain.OAuthCredentials, error) {
	config, ok := o.registry.ConfigFor(providerName)
	if !ok {
		return domain.OAuthCredentials{}, fmt.Errorf("%w: %s", domain.ErrConfigurationMissing, providerName)
	}

	current, err := o.loadOAuthCredentials(providerName)
	if err != nil {
		return domain.OAuthCredentials{}, err
	}

	if current.RefreshToken == "" {
		return domain.OAuthCredentials{}, fmt.Errorf("%w: %s", domain.ErrNoRefreshToken, providerName)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", current.RefreshToken)
	form.Set("client_id", config.ClientID)

	if !config.IsPublicClient && !placeholderSecrets[config.ClientSecret] {
		form.Set("client_secret", config.ClientSecret)
	}

	status, body, err := o.postForm(ctx, config.TokenURL, form)
	if err != nil {
		return domain.OAuthCredentials{}, fmt.Errorf("%w: %v", domain.ErrRefreshFailed, err)
	}

	if status != http.StatusOK {
		log.Debug().Str("provider", providerName).Int("status", status).Msg("Token refresh rejected")
		return domain.OAuthCredentials{}, fmt.Errorf("%w: status %d", domain.ErrRefreshFailed, status)
	}

	refreshed, err := decodeTokenBody(body)
	if err != nil {
		return domain.OAuthCredentials{}, err
	}

	// Providers may omit the refresh token on rotation; carry the prior
	// one forward.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = current.RefreshToken
	}

	payload, err := json.Marshal(refreshed)
	if err != nil {
		return domain.OAuthCredentials{}, fmt.Errorf("failed to encode refreshed credentials: %w", err)
	}

	if err := o.store.Save(providerName, domain.AuthTypeOAuth, payload); err != nil {
		return domain.OAuthCredentials{}, fmt.Errorf("failed to persist refreshed credentials: %w", err)
	}

	log.Info().Str("provider", providerName).Msg("Refreshed access token")

	return refreshed, nil
}

// IsStillValid reports whether the stored credential for a provider can
// still be used. An expired OAuth credential gets exactly one refresh
// attempt; when that fails the stale credential is deleted.
func (o *Orchestrator) IsStillValid(ctx context.Context, providerName string) (bool, error) {
	payload, metadata, err := o.store.Get(providerName)
	if err != nil {
		return false, err
	}

	if metadata.AuthenticationType == domain.AuthTypeAPIKey {
		var creds domain.APIKeyCredentials
		if err := json.Unmarshal(payload, &creds); err != nil {
			return false, fmt.Errorf("%w: %v", domain.ErrInvalidResponse, err)
		}
		return true, nil
	}

	var creds domain.OAuthCredentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrInvalidResponse, err)
	}

	if !creds.IsExpired(expiryMargin) {
		return true, nil
	}

	if _, err := o.RefreshTokens(ctx, providerName); err != nil {
		log.Warn().Err(err).Str("provider", providerName).Msg("Refresh failed, dropping stale credential")

		if removeErr := o.store.Remove(providerName); removeErr != nil {
			return false, removeErr
		}
		return false, nil
	}

	return true, nil
}

func (o *Orchestrator) loadOAuthCredentials(providerName string) (domain.OAuthCredentials, error) {
	payload, metadata, err := o.store.Get(providerName)
	if err != nil {
		return domain.OAuthCredentials{}, err
	}

	if metadata.AuthenticationType != domain.AuthTypeOAuth {
		return domain.OAuthCredentials{}, fmt.Errorf("%w: %s is not an oauth connection", domain.ErrNoRefreshToken, providerName)
	}

	var creds domain.OAuthCredentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return domain.OAuthCredentials{}, fmt.Errorf("failed to decode stored credentials: %w", err)
	}

	return creds, nil
}

func (o *Orchestrator) postForm(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}

	return resp.StatusCode, body, nil
}

func decodeTokenBody(body []byte) (domain.OAuthCredentials, error) {
	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return domain.OAuthCredentials{}, fmt.Errorf("%w: %v", domain.ErrInvalidResponse, err)
	}

	if token.AccessToken == "" {
		return domain.OAuthCredentials{}, fmt.Errorf("%w: response carries no access token", domain.ErrInvalidResponse)
	}

	credentials := domain.OAuthCredentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Scope:        token.Scope,
	}

	if token.ExpiresIn > 0 {
		expiresAt := time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
		credentials.ExpiresAt = &expiresAt
	}

	return credentials, nil
}
