package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mtr002/wishlist-jobs/internal/app"
	"github.com/mtr002/wishlist-jobs/internal/interfaces"
)

func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per status",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			stats, err := a.Manager.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Queue Status:")
			for _, st := range interfaces.AllStatuses {
				fmt.Fprintf(out, "  %-10s %d\n", st, stats[st])
			}
			return nil
		}),
	}
}
