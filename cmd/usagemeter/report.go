package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a usage report over a date range",
	Long: `Generate a report from the raw event log. Dates are inclusive and
interpreted in the configured timezone.

Examples:
  usagemeter report --start 2024-03-01 --end 2024-03-31
  usagemeter report --start 2024-03-12 --end 2024-03-12 --user u1 --json`,
	RunE: runReport,
}

var (
	reportStart  string
	reportEnd    string
	reportUserID string
	reportJSON   bool
)

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportStart, "start", "", "first day (YYYY-MM-DD)")
	reportCmd.Flags().StringVar(&reportEnd, "end", "", "last day (YYYY-MM-DD)")
	reportCmd.Flags().StringVar(&reportUserID, "user", "", "restrict to one user")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "print the full report including records")
	reportCmd.MarkFlagRequired("start")
	reportCmd.MarkFlagRequired("end")
}

func runReport(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	rep, err := a.Reports.GenerateDays(cmd.Context(), reportStart, reportEnd, reportUserID)
	if err != nil {
		return err
	}
	if reportJSON {
		return printJSON(cmd.OutOrStdout(), rep)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Report %s to %s", rep.StartDate, rep.EndDate)
	if rep.UserID != "" {
		fmt.Fprintf(out, " for %s", rep.UserID)
	}
	fmt.Fprint(out, "\n\n")
	fmt.Fprintf(out, "Requests:      %d\n", rep.TotalRequests)
	fmt.Fprintf(out, "Tokens:        %d\n", rep.TotalTokens)
	fmt.Fprintf(out, "Cost:          $%.4f\n", rep.TotalCost)
	fmt.Fprintf(out, "Success rate:  %.1f%%\n", rep.SuccessRate)
	fmt.Fprintf(out, "Avg latency:   %.0f ms\n", rep.AvgResponseTime)

	if len(rep.EndpointBreakdown) == 0 {
		return nil
	}

	endpoints := make([]string, 0, len(rep.EndpointBreakdown))
	for ep := range rep.EndpointBreakdown {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENDPOINT\tREQUESTS\tFAILURES\tCOST\tAVG LATENCY")
	fmt.Fprintln(w, "--------\t--------\t--------\t----\t-----------")
	for _, ep := range endpoints {
		s := rep.EndpointBreakdown[ep]
		fmt.Fprintf(w, "%s\t%d\t%d\t$%.4f\t%.0f ms\n", ep, s.Requests, s.Failures, s.TotalCost, s.AvgResponseTime)
	}
	return w.Flush()
}
