package main

import (
	"fmt"

	"github.com/artpar/usagemeter/domain/usage"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record <user-id>",
	Short: "Record one API call",
	Long: `Record one billable call and update its aggregates before exiting.

Examples:
  usagemeter record u1 --endpoint chat --input 1200 --output 300
  usagemeter record u1 --endpoint chat --failed --error-code timeout`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

var (
	recordEndpoint  string
	recordInput     int64
	recordOutput    int64
	recordDuration  int64
	recordFailed    bool
	recordErrorCode string
	recordCacheHit  bool
)

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().StringVar(&recordEndpoint, "endpoint", "", "endpoint called")
	recordCmd.Flags().Int64Var(&recordInput, "input", 0, "input tokens")
	recordCmd.Flags().Int64Var(&recordOutput, "output", 0, "output tokens")
	recordCmd.Flags().Int64Var(&recordDuration, "duration-ms", 0, "call duration in milliseconds")
	recordCmd.Flags().BoolVar(&recordFailed, "failed", false, "mark the call as failed")
	recordCmd.Flags().StringVar(&recordErrorCode, "error-code", "", "error code of a failed call")
	recordCmd.Flags().BoolVar(&recordCacheHit, "cache-hit", false, "mark the call as served from cache")
}

func runRecord(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	// Shutdown drains the aggregate and alert steps.
	defer closeApp(a)

	e, ok := a.Recorder.RecordEvent(cmd.Context(), usage.Input{
		UserID:       args[0],
		Endpoint:     recordEndpoint,
		InputTokens:  recordInput,
		OutputTokens: recordOutput,
		DurationMs:   recordDuration,
		Success:      !recordFailed,
		ErrorCode:    recordErrorCode,
		CacheHit:     recordCacheHit,
	})
	if !ok {
		return fmt.Errorf("event for %s was not persisted", args[0])
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Recorded %s (cost $%.6f)\n", checkMark, e.ID, e.Cost)
	return nil
}
