package managers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/credlink/credlink/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrchestrator struct {
	creds domain.OAuthCredentials
	err   error
	valid bool
}

func (o *stubOrchestrator) Connect(ctx context.Context, providerName string) (domain.OAuthCredentials, error) {
	return o.creds, o.err
}

func (o *stubOrchestrator) RefreshTokens(ctx context.Context, providerName string) (domain.OAuthCredentials, error) {
	return o.creds, o.err
}

func (o *stubOrchestrator) IsStillValid(ctx context.Context, providerName string) (bool, error) {
	return o.valid, o.err
}

type stubValidator struct {
	creds domain.APIKeyCredentials
	err   error
}

func (v *stubValidator) Validate(ctx context.Context, providerName, raw string) (domain.APIKeyCredentials, error) {
	return v.creds, v.err
}

type recordingStore struct {
	payloads map[string][]byte
	metadata map[string]domain.ServiceMetadata
	statuses []domain.ConnectionStatus
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		payloads: make(map[string][]byte),
		metadata: make(map[string]domain.ServiceMetadata),
	}
}

func (s *recordingStore) Save(providerName string, authType domain.AuthType, payload []byte) error {
	s.payloads[providerName] = payload
	s.metadata[providerName] = domain.ServiceMetadata{
		ServiceName:        providerName,
		AuthenticationType: authType,
		ConnectionStatus:   domain.ConnectionStatusConnected,
	}
	return nil
}

func (s *recordingStore) Get(providerName string) ([]byte, domain.ServiceMetadata, error) {
	payload, ok := s.payloads[providerName]
	if !ok {
		return nil, domain.ServiceMetadata{}, domain.ErrNotFound
	}
	return payload, s.metadata[providerName], nil
}

func (s *recordingStore) Remove(providerName string) error {
	delete(s.payloads, providerName)
	delete(s.metadata, providerName)
	return nil
}

func (s *recordingStore) ListAll() ([]domain.ServiceMetadata, error) {
	entries := make([]domain.ServiceMetadata, 0, len(s.metadata))
	for _, entry := range s.metadata {
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *recordingStore) IsConnected(providerName string) bool {
	_, ok := s.payloads[providerName]
	return ok
}

func (s *recordingStore) UpdateStatus(providerName string, status domain.ConnectionStatus) error {
	s.statuses = append(s.statuses, status)
	return nil
}

func TestConnectOAuth_PersistsCredentials(t *testing.T) {
	store := newRecordingStore()
	manager := NewConnectionManager(ConnectionManagerDependencies{
		Orchestrator: &stubOrchestrator{creds: domain.OAuthCredentials{AccessToken: "tok", RefreshToken: "ref"}},
		Store:        store,
	})

	metadata, err := manager.ConnectOAuth(context.Background(), "github")
	require.NoError(t, err)

	assert.Equal(t, domain.AuthTypeOAuth, metadata.AuthenticationType)
	assert.Equal(t, domain.ConnectionStatusConnected, metadata.ConnectionStatus)

	var stored domain.OAuthCredentials
	require.NoError(t, json.Unmarshal(store.payloads["github"], &stored))
	assert.Equal(t, "tok", stored.AccessToken)
}

func TestConnectOAuth_CancellationLeavesNoErrorStatus(t *testing.T) {
	store := newRecordingStore()
	manager := NewConnectionManager(ConnectionManagerDependencies{
		Orchestrator: &stubOrchestrator{err: domain.ErrUserCancelled},
		Store:        store,
	})

	_, err := manager.ConnectOAuth(context.Background(), "github")
	assert.ErrorIs(t, err, domain.ErrUserCancelled)

	assert.NotContains(t, store.statuses, domain.ConnectionStatusError)
	assert.Empty(t, store.payloads)
}

func TestConnectOAuth_FailureMarksErrorStatus(t *testing.T) {
	store := newRecordingStore()
	manager := NewConnectionManager(ConnectionManagerDependencies{
		Orchestrator: &stubOrchestrator{err: domain.ErrTokenExchangeFailed},
		Store:        store,
	})

	_, err := manager.ConnectOAuth(context.Background(), "github")
	assert.ErrorIs(t, err, domain.ErrTokenExchangeFailed)
	assert.Contains(t, store.statuses, domain.ConnectionStatusError)
}

func TestConnectAPIKey_PersistsValidatedCredential(t *testing.T) {
	store := newRecordingStore()
	manager := NewConnectionManager(ConnectionManagerDependencies{
		Validator: &stubValidator{creds: domain.APIKeyCredentials{
			APIKey: "SG.test",
			Facts:  map[string]string{"email": "owner@example.com"},
		}},
		Store: store,
	})

	metadata, err := manager.ConnectAPIKey(context.Background(), "SendGrid", "SG.test")
	require.NoError(t, err)
	assert.Equal(t, domain.AuthTypeAPIKey, metadata.AuthenticationType)

	credential, _, err := manager.GetCredential(context.Background(), "SendGrid")
	require.NoError(t, err)

	apiKey, ok := credential.(domain.APIKeyCredentials)
	require.True(t, ok)
	assert.Equal(t, "SG.test", apiKey.APIKey)
	assert.Equal(t, "owner@example.com", apiKey.Facts["email"])
}

func TestConnectAPIKey_ValidationFailureStoresNothing(t *testing.T) {
	store := newRecordingStore()
	manager := NewConnectionManager(ConnectionManagerDependencies{
		Validator: &stubValidator{err: domain.ErrInvalidCredentials},
		Store:     store,
	})

	_, err := manager.ConnectAPIKey(context.Background(), "SendGrid", "SG.bad")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.Empty(t, store.payloads)
}

func TestDisconnect(t *testing.T) {
	store := newRecordingStore()
	manager := NewConnectionManager(ConnectionManagerDependencies{
		Validator: &stubValidator{creds: domain.APIKeyCredentials{APIKey: "key"}},
		Store:     store,
	})

	_, err := manager.ConnectAPIKey(context.Background(), "SendGrid", "key")
	require.NoError(t, err)
	assert.True(t, manager.IsConnected("SendGrid"))

	require.NoError(t, manager.Disconnect(context.Background(), "SendGrid"))
	assert.False(t, manager.IsConnected("SendGrid"))
}
