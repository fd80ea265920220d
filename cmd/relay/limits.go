package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/limits"
	"mercator-hq/relay/pkg/usage"
)

var limitsFlags struct {
	user       string
	tier       string
	multiplier float64
	duration   time.Duration
	reason     string
	rpm        int64
	rph        int64
	rpd        int64
	concurrent int64
	budget     float64
}

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Inspect and change per-user limits",
	Long: `Inspect and change per-user limits in the configured usage store.

With the sqlite or redis backend these commands act on the same records a
running relay uses.

Examples:
  relay limits show --user alice
  relay limits upgrade --user alice --tier premium
  relay limits boost --user alice --multiplier 2 --duration 1h --reason launch
  relay limits set --user alice --rpm 120 --concurrent 10
  relay limits reset --user alice`,
}

var limitsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective limits and current usage",
	RunE: withLimits(func(ctx context.Context, svc *limits.Service) (any, error) {
		summary, err := svc.GetUserLimitSummary(ctx, limitsFlags.user)
		if err != nil {
			return nil, err
		}
		return summaryView{summary}, nil
	}),
}

var limitsUpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Move a user to another tier",
	RunE: withLimits(func(ctx context.Context, svc *limits.Service) (any, error) {
		if limitsFlags.tier == "" {
			return nil, cli.Usagef("--tier is required")
		}
		if _, err := svc.UpgradeUserTier(ctx, limitsFlags.user, limitsFlags.tier); err != nil {
			return nil, err
		}
		return showSummary(ctx, svc)
	}),
}

var limitsBoostCmd = &cobra.Command{
	Use:   "boost",
	Short: "Temporarily multiply a user's request limits",
	RunE: withLimits(func(ctx context.Context, svc *limits.Service) (any, error) {
		if _, err := svc.AddTemporaryBoost(ctx, limitsFlags.user, limitsFlags.multiplier, limitsFlags.duration, limitsFlags.reason); err != nil {
			return nil, err
		}
		return showSummary(ctx, svc)
	}),
}

var limitsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Override individual limits for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch limits.LimitPatch
		flags := cmd.Flags()
		if flags.Changed("rpm") {
			patch.RequestsPerMinute = &limitsFlags.rpm
		}
		if flags.Changed("rph") {
			patch.RequestsPerHour = &limitsFlags.rph
		}
		if flags.Changed("rpd") {
			patch.RequestsPerDay = &limitsFlags.rpd
		}
		if flags.Changed("concurrent") {
			patch.ConcurrentRequests = &limitsFlags.concurrent
		}
		if flags.Changed("budget") {
			patch.MonthlyBudget = &limitsFlags.budget
		}
		return withLimits(func(ctx context.Context, svc *limits.Service) (any, error) {
			if _, err := svc.SetUserLimits(ctx, limitsFlags.user, patch); err != nil {
				return nil, err
			}
			return showSummary(ctx, svc)
		})(cmd, args)
	},
}

var limitsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear a user's usage counters",
	RunE: withLimits(func(ctx context.Context, svc *limits.Service) (any, error) {
		if err := svc.ResetUserUsage(ctx, limitsFlags.user); err != nil {
			return nil, err
		}
		return showSummary(ctx, svc)
	}),
}

func init() {
	rootCmd.AddCommand(limitsCmd)
	limitsCmd.AddCommand(limitsShowCmd, limitsUpgradeCmd, limitsBoostCmd, limitsSetCmd, limitsResetCmd)

	limitsCmd.PersistentFlags().StringVarP(&limitsFlags.user, "user", "u", "", "user id")
	_ = limitsCmd.MarkPersistentFlagRequired("user")

	limitsUpgradeCmd.Flags().StringVar(&limitsFlags.tier, "tier", "", "target tier (free, basic, premium, enterprise)")

	limitsBoostCmd.Flags().Float64Var(&limitsFlags.multiplier, "multiplier", 2, "cap multiplier, greater than 1")
	limitsBoostCmd.Flags().DurationVar(&limitsFlags.duration, "duration", time.Hour, "how long the boost lasts")
	limitsBoostCmd.Flags().StringVar(&limitsFlags.reason, "reason", "manual", "reason recorded with the boost")

	limitsSetCmd.Flags().Int64Var(&limitsFlags.rpm, "rpm", 0, "requests per minute")
	limitsSetCmd.Flags().Int64Var(&limitsFlags.rph, "rph", 0, "requests per hour")
	limitsSetCmd.Flags().Int64Var(&limitsFlags.rpd, "rpd", 0, "requests per day")
	limitsSetCmd.Flags().Int64Var(&limitsFlags.concurrent, "concurrent", 0, "concurrent requests")
	limitsSetCmd.Flags().Float64Var(&limitsFlags.budget, "budget", 0, "monthly budget")
}

type limitsAction func(ctx context.Context, svc *limits.Service) (any, error)

// withLimits opens the usage store and a limits service for one command.
func withLimits(action limitsAction) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		printer, err := newPrinter(cmd)
		if err != nil {
			return err
		}

		store, err := usage.Open(cfg.UsageStore, usage.WithLogger(logger))
		if err != nil {
			return cli.NewCommandError(cmd.CommandPath(), err)
		}
		defer store.Close()

		opts := limits.OptionsFromConfig(cfg.Limits)
		opts.Store = store
		opts.Logger = logger
		svc, err := limits.NewService(opts)
		if err != nil {
			return cli.NewConfigError(cfgFile, err)
		}

		out, err := action(cmd.Context(), svc)
		if err != nil {
			return cli.NewCommandError(cmd.CommandPath(), err)
		}
		return printer.Print(out)
	}
}

func showSummary(ctx context.Context, svc *limits.Service) (any, error) {
	summary, err := svc.GetUserLimitSummary(ctx, limitsFlags.user)
	if err != nil {
		return nil, err
	}
	return summaryView{summary}, nil
}

// summaryView renders a limit summary as limit/used rows.
type summaryView struct {
	*limits.Summary
}

func (v summaryView) Header() []string {
	return []string{"LIMIT", "ALLOWED", "USED", "UTILIZATION", "RESETS"}
}

func (v summaryView) Rows() [][]string {
	l, u := v.Limits, v.Usage
	rows := [][]string{
		{"tier", l.Tier, "", "", ""},
		row("requests/minute", l.RequestsPerMinute, u.RequestsThisMinute, u.Utilization.Minute, v.Resets.Minute),
		row("requests/hour", l.RequestsPerHour, u.RequestsThisHour, u.Utilization.Hour, v.Resets.Hour),
		row("requests/day", l.RequestsPerDay, u.RequestsToday, u.Utilization.Day, v.Resets.Day),
		row("tokens/day", l.TokensPerDay, u.TokensToday, u.Utilization.Tokens, v.Resets.Day),
		row("concurrent", l.ConcurrentRequests, u.ConcurrentRequests, u.Utilization.Concurrent, time.Time{}),
		{
			"budget/month",
			strconv.FormatFloat(l.MonthlyBudget, 'f', 2, 64),
			strconv.FormatFloat(u.CostThisMonth, 'f', 4, 64),
			percent(u.Utilization.Budget),
			formatReset(v.Resets.Month),
		},
	}
	for _, b := range v.ActiveBoosts {
		rows = append(rows, []string{
			"boost",
			fmt.Sprintf("x%g", b.Multiplier),
			b.Reason,
			"",
			formatReset(b.ValidUntil),
		})
	}
	return rows
}

func row(name string, limit, used int64, utilization float64, reset time.Time) []string {
	return []string{
		name,
		strconv.FormatInt(limit, 10),
		strconv.FormatInt(used, 10),
		percent(utilization),
		formatReset(reset),
	}
}

// percent formats a utilization that is already on a 0-100 scale.
func percent(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64) + "%"
}

func formatReset(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
