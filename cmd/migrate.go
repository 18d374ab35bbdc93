package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"relay/internal/app/db"
	"relay/internal/configs"
	"relay/internal/pkg/logx"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending Postgres migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.StoreDriver != configs.DriverPostgres {
			return fmt.Errorf("migrate needs STORE_DRIVER=%s, got %q", configs.DriverPostgres, cfg.StoreDriver)
		}

		pool, err := db.NewPool(cmd.Context(), cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := db.Migrate(cmd.Context(), pool); err != nil {
			return err
		}
		logx.Info("Migrations complete.")
		return nil
	},
}
