package domain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type BrokerConfig struct {
	Address     string `mapstructure:"address"`
	DataDir     string `mapstructure:"data_dir"`
	RedirectURI string `mapstructure:"redirect_uri"`

	// Per-provider OAuth client credentials, keyed by provider id.
	ProviderClients map[string]ProviderClient `mapstructure:"provider_clients"`
}

type ProviderClient struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

func (c BrokerConfig) ClientFor(providerID string) ProviderClient {
	return c.ProviderClients[providerID]
}

type ConfigManager interface {
	GetConfig(ctx context.Context) (BrokerConfig, error)
	SaveConfig(ctx context.Context, config BrokerConfig) error
	ResetConfig(ctx context.Context) error
}

type configManager struct {
	viper *viper.Viper
}

func NewConfigManager() (ConfigManager, error) {
	v := viper.New()

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("CREDLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envMappings := map[string]string{
		"address":      "CREDLINK_ADDRESS",
		"data_dir":     "CREDLINK_DATA_DIR",
		"redirect_uri": "CREDLINK_REDIRECT_URI",
	}

	for configKey, envVar := range envMappings {
		if err := v.BindEnv(configKey, envVar); err != nil {
			log.Warn().Err(err).Msgf("Failed to bind environment variable %s for %s", envVar, configKey)
		}
	}

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.credlink")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("Config file not found, using environment variables and defaults")
	} else {
		log.Debug().Msgf("Using config file: %s", v.ConfigFileUsed())
	}

	return &configManager{
		viper: v,
	}, nil
}

func (m *configManager) GetConfig(ctx context.Context) (BrokerConfig, error) {
	var config BrokerConfig
	if err := m.viper.Unmarshal(&config); err != nil {
		return BrokerConfig{}, fmt.Errorf("unable to decode config: %w", err)
	}

	if config.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return BrokerConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		config.DataDir = filepath.Join(homeDir, ".credlink")
	}

	return config, nil
}

func (m *configManager) SaveConfig(ctx context.Context, config BrokerConfig) error {
	m.viper.Set("address", config.Address)
	m.viper.Set("data_dir", config.DataDir)
	m.viper.Set("redirect_uri", config.RedirectURI)
	m.viper.Set("provider_clients", config.ProviderClients)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".credlink")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.json")
	if err := m.viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (m *configManager) ResetConfig(ctx context.Context) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".credlink", "config.json")
	if err := os.Remove(configPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove config file: %w", err)
	}

	for key := range m.viper.AllSettings() {
		m.viper.Set(key, nil)
	}

	setDefaults(m.viper)

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("address", "127.0.0.1:8422")
	v.SetDefault("redirect_uri", "http://127.0.0.1:8423/callback")
}
