package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/conference-crawler/internal/store"
	"github.com/JakeFAU/conference-crawler/internal/store/postgres"
)

// newSchemaCmd creates the 'schema' subcommand, which creates the publication
// tables and their unique indexes if they do not exist.
func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Creates the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if rt.cfg.DB.DSN == "" {
				return errors.New("db.dsn is required (set CONFCRAWL_DB_DSN)")
			}
			mode, err := store.ParseMode(rt.cfg.DB.Mode)
			if err != nil {
				return err
			}
			pg, err := postgres.Open(cmd.Context(), pgConfig(rt.cfg.DB, mode))
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := pg.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			rt.logger.Info("schema ready")
			return nil
		},
	}
}
