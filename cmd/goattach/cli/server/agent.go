package server

import (
	"context"
	"fmt"

	"github.com/mwantia/goattach/internal/agent"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	config "github.com/mwantia/goattach/internal/config/server"
)

func NewAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Start the GoAttach agent",
		Long: `Start the GoAttach agent.

The agent serves attachments over HTTP, stores content in the configured
storage backend and drains the scan and deletion event queue.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return fmt.Errorf("failed to load server configuration: %w", err)
			}

			return agent.NewAgent(cfg).Serve(context.Background())
		},
	}

	cmd.Flags().String("address", "", "address the http server listens on")
	cmd.Flags().String("storage", "", "storage backend kind (db, s3, azure, gcp)")

	viper.BindPFlag("http.address", cmd.Flags().Lookup("address"))
	viper.BindPFlag("storage.kind", cmd.Flags().Lookup("storage"))

	return cmd
}
