package controllers

import (
	"github.com/credlink/credlink/pkg/domain"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

type KeyRegenerator interface {
	RegenerateKey() error
}

type connectionRemover interface {
	ListAll() ([]domain.ServiceMetadata, error)
	Remove(serviceName string) error
}

// VaultController handles master key administration.
type VaultController struct {
	vault KeyRegenerator
	store connectionRemover
}

type VaultControllerDependencies struct {
	Vault KeyRegenerator
	Store connectionRemover
}

func NewVaultController(deps VaultControllerDependencies) *VaultController {
	return &VaultController{
		vault: deps.Vault,
		store: deps.Store,
	}
}

// RegenerateKey replaces the master key. Ciphertexts sealed under the old
// key can no longer be opened, so every stored credential is removed and
// each provider must be reconnected.
func (c *VaultController) RegenerateKey(ctx fiber.Ctx) error {
	connections, err := c.store.ListAll()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list connections before key regeneration")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to regenerate key")
	}

	if err := c.vault.RegenerateKey(); err != nil {
		log.Error().Err(err).Msg("Failed to regenerate master key")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to regenerate key")
	}

	for _, connection := range connections {
		if err := c.store.Remove(connection.ServiceName); err != nil {
			log.Warn().Err(err).Str("provider", connection.ServiceName).Msg("Failed to remove credential after key regeneration")
		}
	}

	return ctx.JSON(fiber.Map{
		"regenerated":        true,
		"removedConnections": len(connections),
	})
}
