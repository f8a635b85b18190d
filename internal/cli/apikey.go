package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"membercycle/internal/auth"
)

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd)
}

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys for the manual triggers",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create MEMBER_ID",
	Short: "Create an API key for a member",
	Long: `Create an API key for a member. The key is printed once and only its
hash is stored. Manual triggers still require the member to be an admin.`,
	Args: cobra.ExactArgs(1),
	RunE: runAPIKeyCreate,
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	key, err := auth.IssueAPIKey(ctx, a.store, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), key)
	return nil
}
