package server

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/mwantia/goattach/internal/agent"
	"github.com/mwantia/goattach/pkg/db/migrations"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	config "github.com/mwantia/goattach/internal/config/server"
)

func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage metadata store migrations",
	}

	cmd.AddCommand(newMigrateCommand("up", "Apply all pending migrations", func(ctx context.Context, cmd *cobra.Command, m *migrations.Migrator) error {
		if err := m.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Metadata store is up to date")
		return nil
	}))
	cmd.AddCommand(newMigrateCommand("rollback", "Revert the last applied migration", func(ctx context.Context, cmd *cobra.Command, m *migrations.Migrator) error {
		if err := m.Rollback(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Reverted the last migration")
		return nil
	}))
	cmd.AddCommand(newMigrateCommand("status", "List migrations and whether they are applied", func(ctx context.Context, cmd *cobra.Command, m *migrations.Migrator) error {
		statuses, err := m.Status(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tAPPLIED\tDESCRIPTION")
		for _, status := range statuses {
			fmt.Fprintf(w, "%d\t%t\t%s\n", status.Version, status.Applied, status.Description)
		}
		return w.Flush()
	}))

	return cmd
}

func newMigrateCommand(use, short string, run func(context.Context, *cobra.Command, *migrations.Migrator) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return fmt.Errorf("failed to load server configuration: %w", err)
			}

			ctx := cmd.Context()
			s, err := agent.OpenStore(ctx, cfg.Metadata)
			if err != nil {
				return err
			}
			defer s.Close()

			db, ok := s.(interface{ DB() *gorm.DB })
			if !ok {
				return fmt.Errorf("metadata store '%s' does not support migrations", cfg.Metadata.Type)
			}
			return run(ctx, cmd, migrations.NewMigrator(db.DB()))
		},
	}
}
