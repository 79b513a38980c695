package cli

import (
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtr002/wishlist-jobs/internal/app"
	"github.com/mtr002/wishlist-jobs/internal/grpc"
	"github.com/mtr002/wishlist-jobs/internal/logger"
	"github.com/mtr002/wishlist-jobs/internal/nats"
)

func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run scheduled batches until interrupted",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool := a.NewPool()
			if err := pool.Start(); err != nil {
				return fmt.Errorf("start pool: %w", err)
			}
			defer pool.Stop()

			lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.Config.Server.GRPCPort))
			if err != nil {
				return fmt.Errorf("listen grpc: %w", err)
			}
			health := grpc.NewHealthServer(a.Store, 10*time.Second)
			defer health.Stop()
			go func() {
				if err := health.Serve(lis); err != nil {
					logger.Logger.Error().Err(err).Msg("gRPC health server stopped")
				}
			}()

			if a.Config.NATS.URL != "" {
				consumer, err := nats.NewServer(a.Config.NATS.URL, a.Manager)
				if err != nil {
					return err
				}
				defer consumer.Close()
				if err := consumer.Subscribe(); err != nil {
					return err
				}
			}

			// First batch runs immediately instead of waiting a full tick.
			if err := pool.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Logger.Error().Err(err).Msg("Initial batch failed")
			}

			<-ctx.Done()
			logger.Logger.Info().Msg("Shutting down gracefully...")
			return nil
		}, app.WithMigrations()),
	}
}
