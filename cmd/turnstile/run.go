package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/turnstile/pkg/cli"
	"mercator-hq/turnstile/pkg/config"
	"mercator-hq/turnstile/pkg/server"
	"mercator-hq/turnstile/pkg/telemetry"
)

// telemetryFlushTimeout bounds the final trace export on exit.
const telemetryFlushTimeout = 5 * time.Second

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Turnstile server",
	Long: `Start the admission API, the admin API and the telemetry endpoints.

When --config is given the file is watched: the operation table and the
whitelist seeds are applied without a restart. SIGINT and SIGTERM trigger a
graceful shutdown.

Examples:
  # Start with built-in defaults
  turnstile run

  # Start with a config file
  turnstile run --config /etc/turnstile/config.yaml

  # Override listen address
  turnstile run --listen 0.0.0.0:8080

  # Validate config without starting the server
  turnstile run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.WrapConfigError("invalid flag override", err)
	}
	if _, err := engineConfig(cfg); err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	tel, err := telemetry.New(&cfg.Telemetry, buildInfo(), telemetry.WithLogWriter(cmd.OutOrStdout()))
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			tel.Logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	engine, closeAlerts, err := newEngine(cfg, tel)
	if err != nil {
		return err
	}
	defer closeAlerts()
	defer engine.Close()

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	if err := engine.Start(ctx); err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to start sweeps: %w", err))
	}
	registerHealthChecks(tel, engine, cfg.Limits.Distributed)

	if cfgFile != "" {
		go watchConfig(ctx, cfgFile, engine, tel.Logger)
	}

	stats := engine.Statistics()
	tel.Logger.Info("turnstile starting",
		"version", Version,
		"config", configSource(),
		"mode", stats.Mode,
		"operations", stats.Operations,
		"listen_address", cfg.Server.ListenAddress,
	)

	srv := server.New(cfg, engine, tel)
	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	tel.Logger.Info("turnstile stopped")
	return nil
}
