package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/artpar/usagemeter/domain/alert"
	"github.com/spf13/cobra"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and resolve budget alerts",
	Long: `List and resolve budget and limit alerts.

Examples:
  usagemeter alerts list
  usagemeter alerts list --unresolved --type budget_critical
  usagemeter alerts list --user u1 --since 24h
  usagemeter alerts resolve 01900000-0000-7000-8000-000000000000`,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, newest first",
	RunE:  runAlertsList,
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Mark an alert resolved",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsResolve,
}

var (
	alertsUserID     string
	alertsType       string
	alertsUnresolved bool
	alertsSince      time.Duration
	alertsLimit      int
	alertsJSON       bool
)

func init() {
	rootCmd.AddCommand(alertsCmd)

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsResolveCmd)

	alertsListCmd.Flags().StringVar(&alertsUserID, "user", "", "only alerts of this user")
	alertsListCmd.Flags().StringVar(&alertsType, "type", "", "budget_warning, budget_critical, system_limit or user_limit")
	alertsListCmd.Flags().BoolVar(&alertsUnresolved, "unresolved", false, "hide resolved alerts")
	alertsListCmd.Flags().DurationVar(&alertsSince, "since", 0, "only alerts newer than this (e.g. 24h)")
	alertsListCmd.Flags().IntVar(&alertsLimit, "limit", 50, "maximum number of alerts")
	alertsListCmd.Flags().BoolVar(&alertsJSON, "json", false, "print raw JSON")
}

func runAlertsList(cmd *cobra.Command, args []string) error {
	f := alert.Filter{
		UserID:     alertsUserID,
		Type:       alert.Type(alertsType),
		Unresolved: alertsUnresolved,
		Limit:      alertsLimit,
	}
	if f.Type != "" && !f.Type.Valid() {
		return fmt.Errorf("unknown alert type %q", alertsType)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	if alertsSince > 0 {
		f.Since = a.Clock().Now().Add(-alertsSince)
	}

	alerts, err := a.Alerts.List(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("failed to list alerts: %w", err)
	}
	if alertsJSON {
		return printJSON(cmd.OutOrStdout(), alerts)
	}

	if len(alerts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No alerts found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tTYPE\tSCOPE\tVALUE\tTHRESHOLD\tRESOLVED")
	fmt.Fprintln(w, "--\t----\t----\t-----\t-----\t---------\t--------")
	for _, al := range alerts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.4f\t%.4f\t%t\n",
			al.ID,
			al.Timestamp.Format("2006-01-02 15:04:05"),
			al.Type,
			al.Scope(),
			al.CurrentValue,
			al.Threshold,
			al.Resolved,
		)
	}
	return w.Flush()
}

func runAlertsResolve(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	if err := a.Alerts.Resolve(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Resolved %s\n", checkMark, args[0])
	return nil
}
