package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/usagemeter/bootstrap"
	"github.com/spf13/cobra"
)

var hotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the usagemeter HTTP API.

The server will:
  - Load configuration from usagemeter.yaml (or --config)
  - Or load configuration from USAGEMETER_* environment variables
  - Open the event database and the aggregate backend
  - Serve /api/v1, health probes and /metrics

Environment variables (for container deployments):
  USAGEMETER_DATABASE_DSN       - Database path (default: usagemeter.db)
  USAGEMETER_SERVER_PORT        - Server port (default: 8080)
  USAGEMETER_AGGREGATES_BACKEND - memory, sqlite or redis
  USAGEMETER_REDIS_ADDR         - Redis address for the redis backend
  USAGEMETER_BUDGET_DAILY       - Daily budget in USD
  USAGEMETER_LOG_LEVEL          - Log level: debug, info, warn, error

Examples:
  usagemeter serve
  usagemeter serve --config /etc/usagemeter/config.yaml
  usagemeter serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "reload pricing and budget when the config file changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Running with environment variables (no config file)")
	}

	a, err := bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		Watch:      hotReload,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run blocks until a signal arrives
	return a.Run(ctx)
}
