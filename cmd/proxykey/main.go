// Package main - proxykey operator CLI
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alwitt/proxykey"
	"github.com/alwitt/proxykey/config"
	"github.com/alwitt/proxykey/db"
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/json"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "proxykey",
		Short:         "proxykey - credential proxy engine operator tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(
		&configPath, "config", "c", "", "path to proxykey TOML config file",
	)

	root.AddCommand(
		newMigrateCmd(&configPath),
		newAuditCmd(&configPath),
		newKeysCmd(&configPath),
		newRateLimitCmd(&configPath),
		newAttestationCmd(),
	)
	return root
}

// setupLogging install the configured log handler and level
func setupLogging(cfg config.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level '%s' [%w]", cfg.Level, err)
	}
	log.SetLevel(level)
	if cfg.Format == "cli" {
		log.SetHandler(cli.New(os.Stderr))
	} else {
		log.SetHandler(json.New(os.Stderr))
	}
	return nil
}

// loadConfig read the config and set up logging
func loadConfig(configPath string) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := setupLogging(cfg.Log); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openService build a service for a one-shot command; no background sweeper
func openService(configPath string) (*proxykey.Service, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg.RateLimit.SweepInterval = 0
	svc, err := proxykey.NewService(context.Background(), proxykey.ServiceParams{Config: cfg})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := svc.Close(); err != nil {
			log.WithError(err).Warn("Service shutdown failed")
		}
	}
	return svc, cleanup, nil
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			persistence, err := proxykey.OpenDatabase(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer func() { _ = persistence.Close() }()

			if err := persistence.RunSQLInTransaction(ctx, db.DefineTables); err != nil {
				return fmt.Errorf("failed to define tables [%w]", err)
			}
			fmt.Printf("Tables ready (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}
