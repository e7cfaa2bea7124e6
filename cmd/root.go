// Package cmd defines and implements the CLI commands for the register
// sync executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stortinget-register/internal/config"
	"stortinget-register/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stortinget-register",
		Short: "Mirrors the Stortinget economic-interests register",
		Long: `stortinget-register keeps a local or cloud mirror of the biweekly
register of representatives' economic interests published by the
Norwegian parliament. Runs are resumable: an interrupted sync picks up
where it stopped.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().Bool("dev", false, "human-readable development logging")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	return cmd
}

// loadConfig resolves the effective configuration for a command: file and
// environment values from Viper, command-line flags on top, and the
// storage path argument last.
func loadConfig(cmd *cobra.Command, storagePath string) (*config.Config, error) {
	v := config.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	bindings := map[string]string{
		"log_level":           "log-level",
		"development":         "dev",
		"max_concurrent":      "max-concurrent",
		"max_runtime_minutes": "max-runtime",
		"scan_start_year":     "start-year",
		"scan_end_year":       "end-year",
		"metrics_addr":        "metrics-addr",
	}
	for key, flag := range bindings {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	v.Set("storage_path", storagePath)
	return config.Load(v)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Development, cfg.LogLevel)
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context so
// an in-flight sync checkpoints and exits instead of dying mid-batch.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
