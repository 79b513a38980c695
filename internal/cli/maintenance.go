package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtr002/wishlist-jobs/internal/app"
	"github.com/mtr002/wishlist-jobs/internal/db"
)

func NewReclaimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Requeue jobs stuck in processing",
	}
	minutes := cmd.Flags().Int("minutes", 0, "staleness threshold (default WORKER_ZOMBIE_MINUTES)")

	cmd.RunE = withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
		after := a.Config.Worker.ZombieAfter()
		if *minutes > 0 {
			after = time.Duration(*minutes) * time.Minute
		}
		n, err := a.Manager.ReclaimZombies(cmd.Context(), after)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d zombie job(s)\n", n)
		return nil
	})
	return cmd
}

func NewCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete image jobs whose wish no longer exists",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			n, err := a.Manager.CleanupOrphanedJobs(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleaned %d orphaned job(s)\n", n)
			return nil
		}),
	}
}

func NewPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete completed jobs older than the retention window",
	}
	days := cmd.Flags().Int("days", -1, "age in days (default COMPLETED_RETENTION)")

	cmd.RunE = withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
		olderThan := a.Config.Uploads.CompletedRetention
		if *days >= 0 {
			olderThan = time.Duration(*days) * 24 * time.Hour
		}
		n, err := a.Manager.PurgeCompleted(cmd.Context(), olderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d completed job(s)\n", n)
		return nil
	})
	return cmd
}

func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			// app.New already ran them; report the resulting version.
			version, err := db.Version(cmd.Context(), a.DB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database at version %d\n", version)
			return nil
		}, app.WithMigrations()),
	}
}
