package managers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/credlink/credlink/pkg/domain"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

// Orchestrator drives interactive OAuth flows.
type Orchestrator interface {
	Connect(ctx context.Context, providerName string) (domain.OAuthCredentials, error)
	RefreshTokens(ctx context.Context, providerName string) (domain.OAuthCredentials, error)
	IsStillValid(ctx context.Context, providerName string) (bool, error)
}

// Validator checks candidate API keys against their provider.
type Validator interface {
	Validate(ctx context.Context, providerName, raw string) (domain.APIKeyCredentials, error)
}

// CredentialStore persists encrypted credentials and their metadata.
type CredentialStore interface {
	Save(providerName string, authType domain.AuthType, payload []byte) error
	Get(providerName string) ([]byte, domain.ServiceMetadata, error)
	Remove(providerName string) error
	ListAll() ([]domain.ServiceMetadata, error)
	IsConnected(providerName string) bool
	UpdateStatus(providerName string, status domain.ConnectionStatus) error
}

// ConnectionManager is the single integration point the HTTP surface calls:
// it runs an authentication attempt end to end and stores the result.
// Attempts for different providers are independent and may run concurrently.
type ConnectionManager struct {
	orchestrator Orchestrator
	validator    Validator
	store        CredentialStore
}

type ConnectionManagerDependencies struct {
	Orchestrator Orchestrator
	Validator    Validator
	Store        CredentialStore
}

func NewConnectionManager(deps ConnectionManagerDependencies) *ConnectionManager {
	return &ConnectionManager{
		orchestrator: deps.Orchestrator,
		validator:    deps.Validator,
		store:        deps.Store,
	}
}

// ConnectOAuth runs one interactive authorization attempt and persists the
// exchanged credentials. A user cancellation leaves stored state untouched.
func (m *ConnectionManager) ConnectOAuth(ctx context.Context, providerName string) (domain.ServiceMetadata, error) {
	attemptID := xid.New().String()
	logger := log.With().Str("attempt_id", attemptID).Str("provider", providerName).Logger()

	if err := m.store.UpdateStatus(providerName, domain.ConnectionStatusConnecting); err != nil {
		return domain.ServiceMetadata{}, err
	}

	credentials, err := m.orchestrator.Connect(ctx, providerName)
	if err != nil {
		if errors.Is(err, domain.ErrUserCancelled) {
			logger.Info().Msg("Authorization cancelled by user")
		} else {
			logger.Warn().Err(err).Msg("Authorization attempt failed")
			if statusErr := m.store.UpdateStatus(providerName, domain.ConnectionStatusError); statusErr != nil {
				logger.Warn().Err(statusErr).Msg("Failed to record error status")
			}
		}
		return domain.ServiceMetadata{}, err
	}

	payload, err := json.Marshal(credentials)
	if err != nil {
		return domain.ServiceMetadata{}, fmt.Errorf("failed to encode credentials: %w", err)
	}

	if err := m.store.Save(providerName, domain.AuthTypeOAuth, payload); err != nil {
		return domain.ServiceMetadata{}, err
	}

	_, metadata, err := m.store.Get(providerName)
	if err != nil {
		return domain.ServiceMetadata{}, err
	}

	logger.Info().Msg("Provider connected via OAuth")

	return metadata, nil
}

// ConnectAPIKey validates and persists a static credential.
func (m *ConnectionManager) ConnectAPIKey(ctx context.Context, providerName, rawKey string) (domain.ServiceMetadata, error) {
	credentials, err := m.validator.Validate(ctx, providerName, rawKey)
	if err != nil {
		return domain.ServiceMetadata{}, err
	}

	payload, err := json.Marshal(credentials)
	if err != nil {
		return domain.ServiceMetadata{}, fmt.Errorf("failed to encode credentials: %w", err)
	}

	if err := m.store.Save(providerName, domain.AuthTypeAPIKey, payload); err != nil {
		return domain.ServiceMetadata{}, err
	}

	_, metadata, err := m.store.Get(providerName)
	if err != nil {
		return domain.ServiceMetadata{}, err
	}

	log.Info().Str("provider", providerName).Msg("Provider connected via API key")

	return metadata, nil
}

// Disconnect performs a best-effort local deletion of the stored credential.
func (m *ConnectionManager) Disconnect(ctx context.Context, providerName string) error {
	if err := m.store.Remove(providerName); err != nil {
		return err
	}

	log.Info().Str("provider", providerName).Msg("Provider disconnected")

	return nil
}

// ListConnections returns all known connections, newest first.
func (m *ConnectionManager) ListConnections(ctx context.Context) ([]domain.ServiceMetadata, error) {
	return m.store.ListAll()
}

// IsConnected reports whether an encrypted record exists for the provider.
func (m *ConnectionManager) IsConnected(providerName string) bool {
	return m.store.IsConnected(providerName)
}

// GetCredential returns the decrypted, typed credential for a provider.
func (m *ConnectionManager) GetCredential(ctx context.Context, providerName string) (any, domain.ServiceMetadata, error) {
	payload, metadata, err := m.store.Get(providerName)
	if err != nil {
		return nil, domain.ServiceMetadata{}, err
	}

	credential, err := domain.DecodeCredential(metadata.AuthenticationType, payload)
	if err != nil {
		return nil, domain.ServiceMetadata{}, err
	}

	return credential, metadata, nil
}

// CheckValidity delegates to the orchestrator's validity rules.
func (m *ConnectionManager) CheckValidity(ctx context.Context, providerName string) (bool, error) {
	return m.orchestrator.IsStillValid(ctx, providerName)
}
