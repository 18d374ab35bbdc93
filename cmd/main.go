/*
Package main is the entry point for the relay.

It is responsible for loading configuration, initializing the global logging system and
dispatching to the serve (default) or migrate command.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"relay/internal/configs"
	"relay/internal/pkg/logx"
)

var cfg *configs.AppConfig

// rootCmd serves when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:           "relay",
	Short:         "Real-time presence and messaging relay",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		// Load configuration from environment variables
		cfg, err = configs.LoadConfig()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.LogLevel)
		logx.Logger().Info().
			Str("environment", cfg.Environment).
			Int("port", cfg.Port).
			Str("store_driver", cfg.StoreDriver).
			Strs("allowed_origins", cfg.AllowedOrigins).
			Int("pow_difficulty", cfg.PowDifficulty).
			Msg("Configuration loaded successfully")
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}
