package cli

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"membercycle/internal/catalog"
	"membercycle/internal/membership"
)

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.AddCommand(inspectMemberCmd, inspectGameCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show stored lifecycle state",
}

var inspectMemberCmd = &cobra.Command{
	Use:   "member ID",
	Short: "Show a member with its promotion log, notifications and games",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspectMember,
}

var inspectGameCmd = &cobra.Command{
	Use:   "game ID",
	Short: "Show a game and its suspension flags",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspectGame,
}

type memberReport struct {
	ID            string                     `json:"id"`
	Member        *membership.Member         `json:"member"`
	Promotions    []*membership.PromotionLog `json:"promotions"`
	Notifications []*membership.Notification `json:"notifications"`
	Games         []string                   `json:"contributed_games"`
}

func runInspectMember(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	members := membership.NewService(a.store)
	games := catalog.NewService(a.store)

	m, err := members.GetMember(ctx, args[0])
	if err != nil {
		return err
	}
	report := memberReport{ID: m.ID, Member: m, Games: []string{}}
	if report.Promotions, err = members.ListPromotions(ctx, m.ID); err != nil {
		return err
	}
	if report.Notifications, err = members.ListNotifications(ctx, m.ID); err != nil {
		return err
	}

	ids, err := games.GamesByContributor(ctx, m.ID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		g, err := games.GetGame(ctx, id)
		if errors.Is(err, catalog.ErrGameNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if g.HasContributor(m.ID) {
			report.Games = append(report.Games, g.ID)
		}
	}
	return writeJSON(cmd, report)
}

func runInspectGame(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	g, err := catalog.NewService(a.store).GetGame(ctx, args[0])
	if err != nil {
		return err
	}
	return writeJSON(cmd, struct {
		ID string `json:"id"`
		*catalog.Game
	}{g.ID, g})
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
