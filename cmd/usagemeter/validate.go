package main

import (
	"fmt"
	"os"

	"github.com/artpar/usagemeter/adapters/sqlite"
	"github.com/artpar/usagemeter/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the usagemeter configuration file.

Checks:
  - YAML syntax is valid
  - Values pass validation
  - Database is writable (optional)

Examples:
  usagemeter validate
  usagemeter validate --config /etc/usagemeter/config.yaml --check-database`,
	RunE: runValidate,
}

var validateCheckDatabase bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if database is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	fmt.Fprintf(out, "  %s Listen: %s:%d\n", checkMark, cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "  %s Database: %s (%s)\n", checkMark, cfg.Database.DSN, cfg.Database.Driver)
	fmt.Fprintf(out, "  %s Aggregates: %s\n", checkMark, cfg.Aggregates.Backend)
	fmt.Fprintf(out, "  %s Pricing: $%g in / $%g out per 1M tokens\n", checkMark,
		cfg.Pricing.InputPerMillion, cfg.Pricing.OutputPerMillion)
	fmt.Fprintf(out, "  %s Daily budget: $%.2f, %d requests per user\n", checkMark,
		cfg.Budget.DailyBudget, cfg.Budget.UserDailyLimit)
	if cfg.Admin.TokenHash == "" {
		fmt.Fprintf(out, "  %s Admin token not set, write endpoints disabled\n", crossMark)
	}

	if validateCheckDatabase && cfg.Database.Driver == "sqlite" {
		if err := checkDatabaseWritable(cmd, cfg.Database.DSN); err != nil {
			fmt.Fprintf(out, "  %s Database writable\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "  %s Database writable\n", checkMark)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func checkDatabaseWritable(cmd *cobra.Command, dsn string) error {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Migrate(cmd.Context())
}
