package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/credlink/credlink/internal/controllers"
	"github.com/credlink/credlink/internal/managers"
	"github.com/credlink/credlink/internal/server"
	"github.com/credlink/credlink/internal/store"
	"github.com/credlink/credlink/internal/vault"
	"github.com/credlink/credlink/pkg/domain"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrchestrator struct {
	credentials domain.OAuthCredentials
	connectErr  error
	valid       bool
}

func (s *stubOrchestrator) Connect(ctx context.Context, providerName string) (domain.OAuthCredentials, error) {
	if s.connectErr != nil {
		return domain.OAuthCredentials{}, s.connectErr
	}
	return s.credentials, nil
}

func (s *stubOrchestrator) RefreshTokens(ctx context.Context, providerName string) (domain.OAuthCredentials, error) {
	return s.credentials, nil
}

func (s *stubOrchestrator) IsStillValid(ctx context.Context, providerName string) (bool, error) {
	return s.valid, nil
}

type stubValidator struct {
	credentials domain.APIKeyCredentials
	err         error
}

func (s *stubValidator) Validate(ctx context.Context, providerName, raw string) (domain.APIKeyCredentials, error) {
	if s.err != nil {
		return domain.APIKeyCredentials{}, s.err
	}
	return s.credentials, nil
}

func newTestServer(t *testing.T, orchestrator managers.Orchestrator, validator managers.Validator) (*fiber.App, *store.CredentialStore) {
	t.Helper()

	secrets, err := vault.NewFileSecretStore(t.TempDir())
	require.NoError(t, err)

	cipherVault, err := vault.NewCipherVault(vault.CipherVaultDependencies{SecretStore: secrets})
	require.NoError(t, err)

	credentialStore, err := store.NewCredentialStore(store.CredentialStoreDependencies{
		Cipher:  cipherVault,
		DataDir: t.TempDir(),
	})
	require.NoError(t, err)

	manager := managers.NewConnectionManager(managers.ConnectionManagerDependencies{
		Orchestrator: orchestrator,
		Validator:    validator,
		Store:        credentialStore,
	})

	app := server.NewHTTPServer(context.Background(), server.HTTPServerDependencies{
		ConnectionController: controllers.NewConnectionController(controllers.ConnectionControllerDependencies{
			ConnectionManager: manager,
		}),
		VaultController: controllers.NewVaultController(controllers.VaultControllerDependencies{
			Vault: cipherVault,
			Store: credentialStore,
		}),
	})

	return app, credentialStore
}

func TestConnectAPIKeyAndMaskedRead(t *testing.T) {
	validator := &stubValidator{
		credentials: domain.APIKeyCredentials{
			APIKey: "SG.aaaaaaaaaaaaaaaaaaaaaaaa9876",
			Facts:  map[string]string{"email": "ops@example.com"},
		},
	}
	srv, _ := newTestServer(t, &stubOrchestrator{}, validator)

	body, err := json.Marshal(map[string]string{"apiKey": "SG.aaaaaaaaaaaaaaaaaaaaaaaa9876"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/connections/sendgrid/api-key", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "sendgrid", created["serviceName"])
	assert.Equal(t, "api_key", created["authenticationType"])
	assert.Equal(t, "connected", created["connectionStatus"])

	req = httptest.NewRequest(http.MethodGet, "/connections/sendgrid", nil)
	resp, err = srv.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var masked struct {
		Credential map[string]any `json:"credential"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&masked))

	key, ok := masked.Credential["apiKey"].(string)
	require.True(t, ok)
	assert.True(t, len(key) > 4)
	assert.Equal(t, "9876", key[len(key)-4:])
	assert.NotContains(t, key, "SG.")
}

func TestDecryptedCredentialEndpoint(t *testing.T) {
	validator := &stubValidator{
		credentials: domain.APIKeyCredentials{APIKey: "sk_live_secret_tail"},
	}
	srv, _ := newTestServer(t, &stubOrchestrator{}, validator)

	body := []byte(`{"apiKey":"sk_live_secret_tail"}`)
	req := httptest.NewRequest(http.MethodPost, "/connections/stripe/api-key", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/connections/stripe/credential", nil)
	resp, err = srv.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Credential domain.APIKeyCredentials `json:"credential"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "sk_live_secret_tail", payload.Credential.APIKey)
}

func TestConnectOAuthPersistsCredential(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).UTC()
	orchestrator := &stubOrchestrator{
		credentials: domain.OAuthCredentials{
			AccessToken:  "access-token-last",
			RefreshToken: "refresh-token",
			ExpiresAt:    &expiresAt,
		},
		valid: true,
	}
	srv, credentialStore := newTestServer(t, orchestrator, &stubValidator{})

	req := httptest.NewRequest(http.MethodPost, "/connections/github/oauth", nil)
	resp, err := srv.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.True(t, credentialStore.IsConnected("github"))

	req = httptest.NewRequest(http.MethodGet, "/connections/github/validity", nil)
	resp, err = srv.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var validity map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&validity))
	assert.True(t, validity["valid"])
}

func TestConnectOAuthErrorsMapToStatuses(t *testing.T) {
	cases := []struct {
		name       string
		connectErr error
		status     int
	}{
		{name: "missing configuration", connectErr: domain.ErrConfigurationMissing, status: http.StatusBadRequest},
		{name: "user cancelled", connectErr: domain.ErrUserCancelled, status: http.StatusConflict},
		{name: "callback error", connectErr: domain.ErrCallbackError, status: http.StatusBadGateway},
		{name: "exchange failure", connectErr: domain.ErrTokenExchangeFailed, status: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &stubOrchestrator{connectErr: tc.connectErr}, &stubValidator{})

			req := httptest.NewRequest(http.MethodPost, "/connections/github/oauth", nil)
			resp, err := srv.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestAPIKeyValidationErrorsMapToStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "bad format", err: domain.ErrInvalidFormat, status: http.StatusBadRequest},
		{name: "rejected", err: domain.ErrInvalidCredentials, status: http.StatusUnauthorized},
		{name: "unreachable", err: domain.ErrNetworkError, status: http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &stubOrchestrator{}, &stubValidator{err: tc.err})

			req := httptest.NewRequest(http.MethodPost, "/connections/sendgrid/api-key", bytes.NewReader([]byte(`{"apiKey":"bad"}`)))
			req.Header.Set("Content-Type", "application/json")

			resp, err := srv.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestGetUnknownConnectionReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &stubOrchestrator{}, &stubValidator{})

	req := httptest.NewRequest(http.MethodGet, "/connections/missing", nil)
	resp, err := srv.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDisconnectRemovesConnection(t *testing.T) {
	validator := &stubValidator{credentials: domain.APIKeyCredentials{APIKey: "pat-token"}}
	srv, credentialStore := newTestServer(t, &stubOrchestrator{}, validator)

	req := httptest.NewRequest(http.MethodPost, "/connections/airtable/api-key", bytes.NewReader([]byte(`{"apiKey":"pat-token"}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req = httptest.NewRequest(http.MethodDelete, "/connections/airtable", nil)
	resp, err = srv.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.False(t, credentialStore.IsConnected("airtable"))
}

func TestVaultRegenerateWipesConnections(t *testing.T) {
	validator := &stubValidator{credentials: domain.APIKeyCredentials{APIKey: "sk-openai"}}
	srv, credentialStore := newTestServer(t, &stubOrchestrator{}, validator)

	req := httptest.NewRequest(http.MethodPost, "/connections/openai/api-key", bytes.NewReader([]byte(`{"apiKey":"sk-openai"}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/vault/regenerate", nil)
	resp, err = srv.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Regenerated        bool `json:"regenerated"`
		RemovedConnections int  `json:"removedConnections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Regenerated)
	assert.Equal(t, 1, result.RemovedConnections)

	assert.False(t, credentialStore.IsConnected("openai"))
}
