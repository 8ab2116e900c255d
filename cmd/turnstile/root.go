package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"mercator-hq/turnstile/pkg/cli"
	"mercator-hq/turnstile/pkg/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "turnstile",
	Short: "Turnstile - multi-dimensional admission control",
	Long: `Turnstile decides whether a caller may perform an operation.

Every admission check walks the whitelist, the block registry and flood
detection, then the user, address, endpoint, tenant and global buckets.
Buckets are kept in process or shared through Redis in distributed mode.

Configuration is read from --config when given, otherwise built-in defaults
are used. TURNSTILE_* environment variables override both.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return cli.ExitCode(err)
	}
	return cli.ExitOK
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (built-in defaults when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig reads cfgFile with environment overrides, or the defaults
// with environment overrides when no file is given.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile == "" {
		cfg, err = config.LoadDefaultsWithEnvOverrides()
	} else {
		cfg, err = config.LoadConfigWithEnvOverrides(cfgFile)
	}
	if err != nil {
		return nil, cli.WrapConfigError("failed to load configuration", err)
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// configSource names where the configuration came from.
func configSource() string {
	if cfgFile == "" {
		return "defaults"
	}
	return cfgFile
}
