package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/credlink/credlink/internal/initialization"
	"github.com/credlink/credlink/internal/server"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewStartCommand(brokerContainer *initialization.BrokerContainer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the credential broker",
		Long:  `Start the broker service. The HTTP API listens on the configured local address; a fresh master key and data directory are created on first run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(brokerContainer)
		},
	}

	return cmd
}

func runStart(brokerContainer *initialization.BrokerContainer) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().Msg("Starting credential broker")

	deps, err := brokerContainer.BuildBrokerDependencies(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build broker dependencies")
	}
	defer deps.Registry.Stop()

	log.Info().
		Str("address", deps.Config.Address).
		Str("data_dir", deps.Config.DataDir).
		Msg("Broker configuration loaded")

	app := server.NewHTTPServer(ctx, server.HTTPServerDependencies{
		ConnectionController: deps.ConnectionController,
		VaultController:      deps.VaultController,
	})

	if err := app.Listen(deps.Config.Address, fiber.ListenConfig{
		GracefulContext:       ctx,
		DisableStartupMessage: true,
	}); err != nil {
		log.Error().Err(err).Msg("HTTP server failed")
	}

	log.Info().Msg("Credential broker stopped")
	return nil
}
