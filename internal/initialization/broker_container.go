package initialization

import (
	"context"
	"fmt"

	"github.com/credlink/credlink/internal/apikey"
	"github.com/credlink/credlink/internal/controllers"
	"github.com/credlink/credlink/internal/managers"
	"github.com/credlink/credlink/internal/oauth"
	"github.com/credlink/credlink/internal/registry"
	"github.com/credlink/credlink/internal/store"
	"github.com/credlink/credlink/internal/vault"
	"github.com/credlink/credlink/pkg/domain"
)

// BrokerContainer owns construction order for the broker: config first, then
// the vault and store, then the flow components that depend on them.
type BrokerContainer struct {
	configManager domain.ConfigManager
}

func NewBrokerContainer() (*BrokerContainer, error) {
	configManager, err := domain.NewConfigManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	return &BrokerContainer{
		configManager: configManager,
	}, nil
}

func (c *BrokerContainer) GetConfigManager() domain.ConfigManager {
	return c.configManager
}

type BrokerDependencies struct {
	Config               domain.BrokerConfig
	Vault                *vault.CipherVault
	Store                *store.CredentialStore
	Registry             *registry.ProviderRegistry
	ConnectionManager    *managers.ConnectionManager
	ConnectionController *controllers.ConnectionController
	VaultController      *controllers.VaultController
}

// BuildBrokerDependencies wires the full component graph from the persisted
// configuration.
func (c *BrokerContainer) BuildBrokerDependencies(ctx context.Context) (BrokerDependencies, error) {
	config, err := c.configManager.GetConfig(ctx)
	if err != nil {
		return BrokerDependencies{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	secrets, err := vault.NewFileSecretStore(config.DataDir)
	if err != nil {
		return BrokerDependencies{}, fmt.Errorf("failed to open secret store: %w", err)
	}

	cipherVault, err := vault.NewCipherVault(vault.CipherVaultDependencies{
		SecretStore: secrets,
	})
	if err != nil {
		return BrokerDependencies{}, fmt.Errorf("failed to open vault: %w", err)
	}

	credentialStore, err := store.NewCredentialStore(store.CredentialStoreDependencies{
		Cipher:  cipherVault,
		DataDir: config.DataDir,
	})
	if err != nil {
		return BrokerDependencies{}, fmt.Errorf("failed to open credential store: %w", err)
	}

	providerRegistry, err := registry.NewProviderRegistry(registry.ProviderRegistryDependencies{
		Config: config,
	})
	if err != nil {
		return BrokerDependencies{}, fmt.Errorf("failed to build provider registry: %w", err)
	}

	orchestrator := oauth.NewOrchestrator(oauth.OrchestratorDependencies{
		Registry:  providerRegistry,
		Store:     credentialStore,
		UserAgent: oauth.NewBrowserUserAgent(),
	})

	validator := apikey.NewValidator(apikey.ValidatorDependencies{})

	connectionManager := managers.NewConnectionManager(managers.ConnectionManagerDependencies{
		Orchestrator: orchestrator,
		Validator:    validator,
		Store:        credentialStore,
	})

	connectionController := controllers.NewConnectionController(controllers.ConnectionControllerDependencies{
		ConnectionManager: connectionManager,
	})

	vaultController := controllers.NewVaultController(controllers.VaultControllerDependencies{
		Vault: cipherVault,
		Store: credentialStore,
	})

	return BrokerDependencies{
		Config:               config,
		Vault:                cipherVault,
		Store:                credentialStore,
		Registry:             providerRegistry,
		ConnectionManager:    connectionManager,
		ConnectionController: connectionController,
		VaultController:      vaultController,
	}, nil
}
