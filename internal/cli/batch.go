package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mtr002/wishlist-jobs/internal/app"
)

func NewBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run a single bounded batch and print its report",
	}
	maxJobs := cmd.Flags().Int("max-jobs", 0, "jobs to process (default WORKER_MAX_JOBS)")
	maxSeconds := cmd.Flags().Int("max-seconds", 0, "wall clock budget (default WORKER_MAX_SECONDS)")

	cmd.RunE = withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
		jobs := a.Config.Worker.MaxJobs
		if *maxJobs > 0 {
			jobs = *maxJobs
		}
		budget := a.Config.Worker.MaxDuration()
		if *maxSeconds > 0 {
			budget = time.Duration(*maxSeconds) * time.Second
		}

		report, err := a.Runner.RunBatch(cmd.Context(), jobs, budget)
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, report.Message())
		fmt.Fprintf(out, "Batch %s finished in %s (started %s)\n",
			report.BatchID, report.Duration.Round(time.Millisecond), humanize.Time(report.StartedAt))
		if report.NoMoreJobs {
			fmt.Fprintln(out, "No more jobs due.")
		}
		return err
	})
	return cmd
}
