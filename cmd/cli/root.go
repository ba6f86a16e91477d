package cli

import (
	"fmt"
	"os"

	"github.com/credlink/credlink/internal/initialization"
	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "credlink",
		Short: "Credlink credential broker CLI",
		Long: `Credlink is a local credential broker that connects third-party services
via OAuth or API keys and stores their credentials encrypted at rest.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	brokerContainer, err := initialization.NewBrokerContainer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize broker container: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(NewStartCommand(brokerContainer))
	rootCmd.AddCommand(NewStatusCommand(brokerContainer))
	rootCmd.AddCommand(NewResetKeyCommand(brokerContainer))

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
