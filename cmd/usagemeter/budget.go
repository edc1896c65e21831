package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show and change the spend ceilings",
	Long: `Show and change the budget stored in the settings table.
Values not stored there fall back to the budget section of the config file.

Examples:
  usagemeter budget show
  usagemeter budget set --daily 10 --warning-pct 80
  usagemeter budget set --user-daily-limit 25`,
}

var budgetShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective budget and today's spend",
	RunE:  runBudgetShow,
}

var budgetSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update budget fields; unset flags keep their value",
	RunE:  runBudgetSet,
}

var (
	budgetDaily          float64
	budgetWeekly         float64
	budgetMonthly        float64
	budgetUserDailyLimit int64
	budgetShutoffPct     float64
	budgetWarningPct     float64
	budgetCriticalPct    float64
	budgetJSON           bool
)

func init() {
	rootCmd.AddCommand(budgetCmd)

	budgetCmd.AddCommand(budgetShowCmd)
	budgetCmd.AddCommand(budgetSetCmd)

	budgetShowCmd.Flags().BoolVar(&budgetJSON, "json", false, "print raw JSON")

	f := budgetSetCmd.Flags()
	f.Float64Var(&budgetDaily, "daily", 0, "daily budget in USD")
	f.Float64Var(&budgetWeekly, "weekly", 0, "weekly budget in USD")
	f.Float64Var(&budgetMonthly, "monthly", 0, "monthly budget in USD")
	f.Int64Var(&budgetUserDailyLimit, "user-daily-limit", 0, "default requests per user per day")
	f.Float64Var(&budgetShutoffPct, "emergency-shutoff-pct", 0, "percent of the daily budget that stops all traffic")
	f.Float64Var(&budgetWarningPct, "warning-pct", 0, "warning alert threshold in percent")
	f.Float64Var(&budgetCriticalPct, "critical-pct", 0, "critical alert threshold in percent")
}

var budgetFlagNames = []string{
	"daily", "weekly", "monthly", "user-daily-limit",
	"emergency-shutoff-pct", "warning-pct", "critical-pct",
}

func runBudgetShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx := cmd.Context()
	cfg := a.Budget.Current(ctx)
	if budgetJSON {
		return printJSON(cmd.OutOrStdout(), cfg)
	}

	today, err := a.Aggregator.GetSystemUsage(ctx, a.Clock().Now())
	if err != nil {
		return fmt.Errorf("failed to get system usage: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tVALUE")
	fmt.Fprintln(w, "-----\t-----")
	fmt.Fprintf(w, "daily_budget\t$%.2f\n", cfg.DailyBudget)
	fmt.Fprintf(w, "weekly_budget\t$%.2f\n", cfg.WeeklyBudget)
	fmt.Fprintf(w, "monthly_budget\t$%.2f\n", cfg.MonthlyBudget)
	fmt.Fprintf(w, "user_daily_limit\t%d\n", cfg.UserDailyLimit)
	fmt.Fprintf(w, "emergency_shutoff_pct\t%.0f%%\n", cfg.EmergencyShutoffPct)
	fmt.Fprintf(w, "warning_pct\t%.0f%%\n", cfg.WarningPct)
	fmt.Fprintf(w, "critical_pct\t%.0f%%\n", cfg.CriticalPct)
	fmt.Fprintf(w, "spent_today\t$%.4f\n", today.TotalCost)
	return w.Flush()
}

func runBudgetSet(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	changed := false
	for _, name := range budgetFlagNames {
		changed = changed || flags.Changed(name)
	}
	if !changed {
		return fmt.Errorf("nothing to set, see --help")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx := cmd.Context()
	cfg := a.Budget.Current(ctx)
	if flags.Changed("daily") {
		cfg.DailyBudget = budgetDaily
	}
	if flags.Changed("weekly") {
		cfg.WeeklyBudget = budgetWeekly
	}
	if flags.Changed("monthly") {
		cfg.MonthlyBudget = budgetMonthly
	}
	if flags.Changed("user-daily-limit") {
		cfg.UserDailyLimit = budgetUserDailyLimit
	}
	if flags.Changed("emergency-shutoff-pct") {
		cfg.EmergencyShutoffPct = budgetShutoffPct
	}
	if flags.Changed("warning-pct") {
		cfg.WarningPct = budgetWarningPct
	}
	if flags.Changed("critical-pct") {
		cfg.CriticalPct = budgetCriticalPct
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := a.Budget.Update(ctx, cfg); err != nil {
		return fmt.Errorf("failed to update budget: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Budget updated\n", checkMark)
	return nil
}
