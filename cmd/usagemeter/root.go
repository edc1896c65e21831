package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/artpar/usagemeter/bootstrap"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usagemeter",
		Short: "Usage metering and budget enforcement for paid API calls",
		Long: `usagemeter records every billable API call, keeps per-user and system
aggregates current, enforces daily request limits and spend ceilings,
and raises budget alerts.

Quick start:
  usagemeter serve            # Start the HTTP API
  usagemeter limits check u1  # Ask whether a user may call now

Inspection:
  usagemeter usage user u1
  usagemeter report --start 2024-03-01 --end 2024-03-31
  usagemeter alerts list --unresolved`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "usagemeter.yaml", "config file path")
	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openApp builds the application without serving HTTP. Logs go to stderr so
// command output stays machine readable.
func openApp() (*bootstrap.App, error) {
	a, err := bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		Version:    version,
		LogOutput:  os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing: %w", err)
	}
	return a, nil
}

func closeApp(a *bootstrap.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Shutdown(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
