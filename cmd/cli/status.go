package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/credlink/credlink/internal/initialization"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewStatusCommand(brokerContainer *initialization.BrokerContainer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connected services",
		Long:  `Display every stored connection with its authentication type and current status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(brokerContainer)
		},
	}

	return cmd
}

func runStatus(brokerContainer *initialization.BrokerContainer) error {
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

	if len(connections) == 0 {
		fmt.Println("No services connected")
		fmt.Printf("Run '%s start' and connect services through the API\n", os.Args[0])
		return nil
	}

	fmt.Printf("Connected services (%d):\n", len(connections))
	for _, connection := range connections {
		fmt.Printf("   %-20s %-8s %-12s last updated %s\n",
			connection.ServiceName,
			connection.AuthenticationType,
			connection.ConnectionStatus,
			connection.LastUpdated.Format("2006-01-02 15:04:05"))
	}

	return nil
}
