package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/artpar/usagemeter/domain/usage"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "View usage aggregates",
	Long: `View per-user and system usage aggregates.

Examples:
  usagemeter usage user u1
  usagemeter usage user u1 --json
  usagemeter usage system 2024-03-12
  usagemeter usage system today`,
}

var usageUserCmd = &cobra.Command{
	Use:   "user <user-id>",
	Short: "Show the daily, weekly and monthly windows of a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsageUser,
}

var usageSystemCmd = &cobra.Command{
	Use:   "system [date]",
	Short: "Show system stats for one day (default today)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runUsageSystem,
}

var usageJSON bool

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.AddCommand(usageUserCmd)
	usageCmd.AddCommand(usageSystemCmd)

	usageCmd.PersistentFlags().BoolVar(&usageJSON, "json", false, "print raw JSON")
}

func runUsageUser(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	s, err := a.Aggregator.GetUserUsage(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get usage: %w", err)
	}
	if usageJSON {
		return printJSON(cmd.OutOrStdout(), s)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Usage for %s\n\n", s.UserID)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WINDOW\tKEY\tREQUESTS\tTOKENS\tCOST\tSUCCESS\tAVG LATENCY")
	fmt.Fprintln(w, "------\t---\t--------\t------\t----\t-------\t-----------")
	for _, row := range []struct {
		name string
		w    usage.Window
	}{{"daily", s.Daily}, {"weekly", s.Weekly}, {"monthly", s.Monthly}} {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t$%.4f\t%d\t%.0f ms\n",
			row.name, row.w.Key, row.w.Requests, row.w.TotalTokens, row.w.Cost, row.w.SuccessCount, row.w.AvgResponseTime)
	}
	w.Flush()

	fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d requests, $%.4f\n", s.TotalRequests, s.TotalCost)
	if s.DailyLimit > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Daily limit override: %d\n", s.DailyLimit)
	}
	return nil
}

func runUsageSystem(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	loc := a.Aggregator.Location()
	t := a.Clock().Now().In(loc)
	if len(args) == 1 && args[0] != "today" {
		t, err = usage.ParseDay(args[0], loc)
		if err != nil {
			return err
		}
	}

	st, err := a.Aggregator.GetSystemUsage(cmd.Context(), t)
	if err != nil {
		return fmt.Errorf("failed to get system usage: %w", err)
	}
	if usageJSON {
		return printJSON(cmd.OutOrStdout(), st)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "System usage for %s\n\n", st.Date)
	fmt.Fprintf(out, "Users:         %d\n", st.TotalUsers)
	fmt.Fprintf(out, "Requests:      %d\n", st.TotalRequests)
	fmt.Fprintf(out, "Tokens:        %d\n", st.TotalTokens)
	fmt.Fprintf(out, "Cost:          $%.4f\n", st.TotalCost)
	fmt.Fprintf(out, "Success rate:  %.1f%%\n", st.SuccessRate)
	fmt.Fprintf(out, "Avg latency:   %.0f ms\n", st.AvgResponseTime)

	if len(st.TopEndpoints) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ENDPOINT\tREQUESTS")
		fmt.Fprintln(w, "--------\t--------")
		for _, ec := range st.TopEndpoints {
			fmt.Fprintf(w, "%s\t%d\n", ec.Endpoint, ec.Requests)
		}
		w.Flush()
	}
	return nil
}
