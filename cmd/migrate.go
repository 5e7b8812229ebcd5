package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicsense/analysis-cli/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		zap.L().Info("migration complete", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired response cache rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.DeleteExpiredResponses(cmd.Context())
		if err != nil {
			return err
		}

		zap.L().Info("cache pruned", zap.Int("deleted", n))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, pruneCmd)
}
