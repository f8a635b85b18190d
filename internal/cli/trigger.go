package cli

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"membercycle/internal/auth"
	"membercycle/internal/clients"
	"membercycle/internal/jobs"
)

var (
	triggerURL    string
	triggerToken  string
	triggerAPIKey string
)

func init() {
	rootCmd.AddCommand(triggerCmd)
	triggerCmd.Flags().StringVar(&triggerURL, "url", "http://localhost:8080", "base URL of a running membercycle server")
	triggerCmd.Flags().StringVar(&triggerToken, "token", os.Getenv("MEMBERCYCLE_TOKEN"), "bearer token of an admin")
	triggerCmd.Flags().StringVar(&triggerAPIKey, "api-key", os.Getenv("MEMBERCYCLE_API_KEY"), "API key of an admin")
	triggerCmd.MarkFlagsMutuallyExclusive("token", "api-key")
}

var triggerCmd = &cobra.Command{
	Use:   "trigger JOB",
	Short: "Trigger a manual job on a running server",
	Long: `Trigger a manual job through the HTTP API of a running server and print
its summary. JOB is one of balance-expiry, suspension or vip-promotion.`,
	Args: cobra.ExactArgs(1),
	RunE: runTrigger,
}

func runTrigger(cmd *cobra.Command, args []string) error {
	kind, err := jobs.ParseKind(args[0])
	if err != nil {
		return err
	}
	if !kind.Manual() {
		return errors.Join(jobs.ErrUnknownJob, errors.New(string(kind)+" has no manual trigger"))
	}

	scheme, credential := auth.SchemeBearer, triggerToken
	if triggerAPIKey != "" {
		scheme, credential = auth.SchemeAPIKey, triggerAPIKey
	}

	summary, err := clients.NewJobsClient(triggerURL, scheme, credential).Trigger(cmd.Context(), kind)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
