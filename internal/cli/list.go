package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mtr002/wishlist-jobs/internal/app"
)

func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent jobs",
	}
	limit := cmd.Flags().Int("limit", 20, "number of jobs to show")

	cmd.RunE = withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
		list, err := a.Manager.ListRecent(cmd.Context(), *limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tATTEMPTS\tRUN AT\tLAST ERROR")
		for _, j := range list {
			lastErr := ""
			if j.LastError != nil {
				lastErr = *j.LastError
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
				j.ID, j.Type, j.Status, j.Attempts, humanize.Time(j.RunAt), lastErr)
		}
		return w.Flush()
	})
	return cmd
}
