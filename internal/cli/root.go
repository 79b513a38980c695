package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mtr002/wishlist-jobs/internal/app"
	"github.com/mtr002/wishlist-jobs/internal/config"
	"github.com/mtr002/wishlist-jobs/internal/logger"
)

type appRunE func(cmd *cobra.Command, args []string, a *app.App) error

// withApp loads configuration, wires the App for the duration of one command and
// closes it afterwards.
func withApp(fn appRunE, opts ...app.Option) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a, err := app.New(cmd.Context(), cfg, opts...)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wishjobs",
		Short:         "Wishlist background job worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init("wishjobs-worker")
		},
	}

	cmd.AddCommand(
		NewRunCmd(),
		NewBatchCmd(),
		NewStatsCmd(),
		NewListCmd(),
		NewEnqueueCmd(),
		NewReclaimCmd(),
		NewCleanupCmd(),
		NewPurgeCmd(),
		NewMigrateCmd(),
		NewHealthcheckCmd(),
	)
	return cmd
}

// Execute runs the root command and returns its error.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
