package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"mercator-hq/turnstile/pkg/cli"
	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/tiers"
)

var checkFlags struct {
	operation string
	user      string
	address   string
	tenant    string
	tier      string
	count     int
	local     bool
	progress  bool
	format    string
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run admission checks against the configured engine",
	Long: `Build the admission engine from the configuration and run --count
admission checks for one caller, then print how many were admitted and which
dimension denied the rest.

Useful to see what a configuration does to a given caller before deploying
it. With --local the shared store is ignored even if distributed mode is
configured.

Examples:
  # Ten logins for one user
  turnstile check --operation auth.login --user u-1 --count 10

  # Premium caller behind a tenant, JSON summary
  turnstile check --operation api.search --user u-2 --tenant acme --tier premium --count 500 --format json`,
	RunE: runChecks,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkFlags.operation, "operation", limits.FallbackOperation, "operation name")
	checkCmd.Flags().StringVar(&checkFlags.user, "user", "", "user ID")
	checkCmd.Flags().StringVar(&checkFlags.address, "address", "", "client address")
	checkCmd.Flags().StringVar(&checkFlags.tenant, "tenant", "", "tenant ID")
	checkCmd.Flags().StringVar(&checkFlags.tier, "tier", string(tiers.Basic), "subscription tier")
	checkCmd.Flags().IntVarP(&checkFlags.count, "count", "n", 1, "number of checks")
	checkCmd.Flags().BoolVar(&checkFlags.local, "local", false, "ignore the shared store")
	checkCmd.Flags().BoolVar(&checkFlags.progress, "progress", false, "show a progress bar on stderr")
	checkCmd.Flags().StringVar(&checkFlags.format, "format", "text", "output format: text, json, yaml")
}

// checkSummary aggregates a run of admission checks.
type checkSummary struct {
	Operation string         `json:"operation" yaml:"operation"`
	Tier      string         `json:"tier" yaml:"tier"`
	Requests  int            `json:"requests" yaml:"requests"`
	Allowed   int            `json:"allowed" yaml:"allowed"`
	Denied    int            `json:"denied" yaml:"denied"`
	Errors    int            `json:"errors" yaml:"errors"`
	DeniedBy  map[string]int `json:"denied_by,omitempty" yaml:"denied_by,omitempty"`
	Last      string         `json:"last_message,omitempty" yaml:"last_message,omitempty"`
}

func (s *checkSummary) record(r limits.AdmissionResult) {
	s.Requests++
	if r.Err != nil {
		s.Errors++
	}
	if r.Message != "" {
		s.Last = r.Message
	}
	if r.Allowed {
		s.Allowed++
		return
	}
	s.Denied++
	dim := string(r.Dimension)
	if dim == "" {
		dim = "invalid"
	}
	if s.DeniedBy == nil {
		s.DeniedBy = make(map[string]int)
	}
	s.DeniedBy[dim]++
}

func (s *checkSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s): %d requests, %d allowed, %d denied", s.Operation, s.Tier, s.Requests, s.Allowed, s.Denied)
	if s.Errors > 0 {
		fmt.Fprintf(&b, ", %d errors", s.Errors)
	}
	dims := make([]string, 0, len(s.DeniedBy))
	for d := range s.DeniedBy {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	for _, d := range dims {
		fmt.Fprintf(&b, "\n  denied by %s: %d", d, s.DeniedBy[d])
	}
	if s.Last != "" {
		fmt.Fprintf(&b, "\n  last message: %s", s.Last)
	}
	return b.String()
}

func runChecks(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(checkFlags.format)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}
	if checkFlags.count < 1 {
		return cli.NewConfigError("count", "must be at least 1")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if checkFlags.local {
		cfg.Limits.Distributed = false
	}
	lcfg, err := engineConfig(cfg)
	if err != nil {
		return err
	}
	engine, err := newQuietEngine(lcfg)
	if err != nil {
		return cli.WrapConfigError("invalid limits configuration", err)
	}
	defer engine.Close()

	id := limits.Identity{
		UserID:  checkFlags.user,
		Address: checkFlags.address,
		Tenant:  checkFlags.tenant,
	}
	tier := tiers.Tier(checkFlags.tier)

	var progress cli.ProgressReporter
	if checkFlags.progress {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr(), "checks")
		progress.Start(int64(checkFlags.count))
	}

	summary := &checkSummary{Operation: checkFlags.operation, Tier: checkFlags.tier}
	ctx := cmd.Context()
	for i := 1; i <= checkFlags.count; i++ {
		if err := ctx.Err(); err != nil {
			return cli.NewCommandError("check", err)
		}
		summary.record(engine.CheckAdmission(ctx, id, checkFlags.operation, tier))
		if progress != nil {
			progress.Update(int64(i))
		}
	}
	if progress != nil {
		progress.Finish()
	}

	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), summary)
}
