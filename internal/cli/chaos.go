package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"membercycle/internal/config"
	"membercycle/internal/gameday"
	"membercycle/internal/logging"
)

func init() {
	rootCmd.AddCommand(chaosCmd)
}

var chaosCmd = &cobra.Command{
	Use:   "chaos",
	Short: "Run the chaos game day against an in-memory store",
	Long: `Run the fault-injection experiments of the weekly game day. Each
experiment seeds its own in-memory store, so no configured database is
touched. Exits non-zero when a hypothesis is violated.`,
	Args: cobra.NoArgs,
	RunE: runChaos,
}

func runChaos(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.Log.Level)

	results, err := gameday.Execute(cmd.Context(), gameday.Weekly(), logger)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}

	violated := 0
	for _, r := range results {
		if !r.HypothesisHeld {
			violated++
		}
	}
	if violated > 0 {
		return fmt.Errorf("%d of %d experiments violated their hypothesis", violated, len(results))
	}
	return nil
}
