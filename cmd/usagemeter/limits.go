package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Inspect and override per-user request limits",
	Long: `Inspect and override per-user request limits.

Examples:
  usagemeter limits check u1
  usagemeter limits set u1 50
  usagemeter limits set u1 0   # back to the configured default`,
}

var limitsCheckCmd = &cobra.Command{
	Use:   "check <user-id>",
	Short: "Run the admission check for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runLimitsCheck,
}

var limitsSetCmd = &cobra.Command{
	Use:   "set <user-id> <daily-limit>",
	Short: "Override the daily request limit of a user",
	Args:  cobra.ExactArgs(2),
	RunE:  runLimitsSet,
}

var limitsJSON bool

func init() {
	rootCmd.AddCommand(limitsCmd)

	limitsCmd.AddCommand(limitsCheckCmd)
	limitsCmd.AddCommand(limitsSetCmd)

	limitsCheckCmd.Flags().BoolVar(&limitsJSON, "json", false, "print the raw decision")
}

func runLimitsCheck(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	d := a.Limits.Check(cmd.Context(), args[0])
	if limitsJSON {
		return printJSON(cmd.OutOrStdout(), d)
	}

	out := cmd.OutOrStdout()
	mark := checkMark
	if !d.CanProceed {
		mark = crossMark
	}
	fmt.Fprintf(out, "%s %s can proceed: %t\n", mark, args[0], d.CanProceed)
	if d.Reason != "" {
		fmt.Fprintf(out, "  Reason:    %s\n", d.Reason)
	}
	fmt.Fprintf(out, "  Remaining: %d of %d\n", d.RemainingRequests, d.DailyLimit)
	fmt.Fprintf(out, "  Used:      %.1f%% (%s)\n", d.PercentUsed, d.WarningLevel)
	fmt.Fprintf(out, "  Resets:    %s\n", d.ResetTime.Format("2006-01-02 15:04:05 MST"))
	return nil
}

func runLimitsSet(cmd *cobra.Command, args []string) error {
	limit, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || limit < 0 {
		return fmt.Errorf("daily limit must be a non-negative integer, got %q", args[1])
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	if _, err := a.Aggregator.SetUserLimit(cmd.Context(), args[0], limit); err != nil {
		return fmt.Errorf("failed to set limit: %w", err)
	}

	if limit == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s uses the default daily limit\n", checkMark, args[0])
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s daily limit set to %d\n", checkMark, args[0], limit)
	return nil
}
