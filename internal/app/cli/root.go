package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"subscription-billing/config"
	"subscription-billing/internal/logger"
)

var (
	rootCmd *cobra.Command
	log     *zap.Logger
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "billing",
		Short: "Subscription order and payment service",
		Long: `Runs the order ledger, payment gateways and provider callbacks.

Without a subcommand the HTTP API is started, same as "billing serve".`,
		PersistentPreRunE: setup,
		RunE:              runServe,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
}

func setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	l, err := logger.New(config.APP_ENV)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log = l
	if !config.EnvFileLoaded {
		log.Info("no .env file found, using process environment")
	}
	return nil
}

// Execute runs the root command.
func Execute(version string) error {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(migrateCmd)

	rootCmd.Version = version
	err := rootCmd.Execute()
	if log != nil {
		_ = log.Sync()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
