package main

import (
	"github.com/spf13/cobra"
	"mercator-hq/turnstile/pkg/cli"
	"mercator-hq/turnstile/pkg/config"
)

const redacted = "<redacted>"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults and environment overrides, as
YAML. Secrets are redacted.

Examples:
  # Effective defaults
  turnstile config show

  # With a file and overrides
  TURNSTILE_LIMITS_DISTRIBUTED=true turnstile config show -c config.yaml`,
	RunE: showConfig,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func showConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return cli.NewFormatter(cli.FormatYAML).FormatTo(cmd.OutOrStdout(), redact(cfg))
}

// redact returns a copy of cfg with secrets replaced.
func redact(cfg *config.Config) config.Config {
	out := *cfg
	if out.Limits.Redis.Password != "" {
		out.Limits.Redis.Password = redacted
	}
	if out.Server.AdminToken != "" {
		out.Server.AdminToken = redacted
	}
	return out
}
