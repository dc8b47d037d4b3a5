package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply store migrations and exit",
	Long: `Opens the configured store, applies any pending schema migrations, and
exits. The serve and run commands migrate on startup as well, so this is
mainly for provisioning a database ahead of a deploy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initOpsStore(cmd.Context(), "migrate")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		zap.L().Info("migrations applied", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
