/*
main.go - Application entry point

PURPOSE:
  The renewals binary. Serves the HTTP API, ingests carrier reports from
  the command line, and queries stored renewals.

COMMANDS:
  renewals serve                      HTTP API with graceful shutdown
  renewals import [files...]          Reconcile CSV/XLSX reports
  renewals query                      Filter, sort and page stored renewals

CONFIGURATION:
  Settings come from config.toml, then .env, then RENEWALS_* variables,
  then the flags below (see config/config.go).

  --config   config file (default: ./config.toml if present)
  --db       SQLite database path; ":memory:" for an in-memory database

EXAMPLES:
  renewals serve --port 3000
  renewals import --agency acme --start 2025-03-01 --end 2025-03-31 march.csv
  renewals query --agency acme --priority-only --sort premium_change_percent:desc

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration sources
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/renewal-engine/config"
	"github.com/warp/renewal-engine/store/sqlite"
)

// app carries what PersistentPreRunE prepares for every sub-command.
type app struct {
	configPath string
	dbPath     string

	cfg    *config.AppConfig
	logger *zap.Logger
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "renewals",
		Short: "Renewal record reconciliation and query engine",
		Long: `renewals tracks insurance policy renewals across carrier report uploads.
Each upload is reconciled against the previous one for the same window:
new policies are inserted, present ones confirmed, missing ones marked dropped.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ./config.toml)")
	rootCmd.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (overrides config)")

	rootCmd.AddCommand(ServeCmd(a))
	rootCmd.AddCommand(ImportCmd(a))
	rootCmd.AddCommand(QueryCmd(a))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("db") {
		cfg.Database.Path = a.dbPath
	}
	a.cfg = cfg

	a.logger, err = newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}

func (a *app) openStore() (*sqlite.Store, error) {
	store, err := sqlite.New(a.cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store, nil
}
