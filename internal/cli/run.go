package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"membercycle/internal/jobs"
	"membercycle/internal/lifecycle"
)

const pipelineArg = "pipeline"

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run JOB",
	Short: "Run one job now",
	Long: `Run one job as a scheduled run and print its summary.
JOB is one of balance-expiry, suspension, vip-promotion, score-calculation,
client-renewal, or pipeline for the ordered expiry, suspension, promotion and
scoring sequence.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	svc, err := a.jobs()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if args[0] == pipelineArg {
		results, err := svc.RunPipeline(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(results)
	}

	kind, err := jobs.ParseKind(args[0])
	if err != nil {
		return err
	}
	result, err := svc.Run(ctx, kind, lifecycle.Scheduled)
	if err != nil {
		return err
	}
	return enc.Encode(result)
}
