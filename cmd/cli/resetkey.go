package cli

import (
	"context"
	"fmt"

	"github.com/credlink/credlink/internal/initialization"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewResetKeyCommand(brokerContainer *initialization.BrokerContainer) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "reset-key",
		Short: "Regenerate the master encryption key",
		Long: `Regenerate the master encryption key. Every stored credential becomes
unreadable and is removed, so each service must be connected again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResetKey(brokerContainer, confirmed)
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm removing all stored credentials")

	return cmd
}

func runResetKey(brokerContainer *initialization.BrokerContainer, confirmed bool) error {
	if !confirmed {
		fmt.Println("This removes every stored credential. Re-run with --yes to confirm.")
		return nil
	}

	ctx := context.Background()

	deps, err := brokerContainer.BuildBrokerDependencies(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build broker dependencies")
		return err
	}
	defer deps.Registry.Stop()

	connections, err := deps.Store.ListAll()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list connections")
		return err
	}

	if err := deps.Vault.RegenerateKey(); err != nil {
		log.Fatal().Err(err).Msg("Failed to regenerate master key")
		return err
	}

	for _, connection := range connections {
		if err := deps.Store.Remove(connection.ServiceName); err != nil {
			log.Warn().Err(err).Str("provider", connection.ServiceName).Msg("Failed to remove credential")
		}
	}

	fmt.Printf("Master key regenerated, removed %d stored credentials\n", len(connections))
	return nil
}
