package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtr002/wishlist-jobs/internal/grpc"
)

func NewHealthcheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check a running worker's gRPC health endpoint",
	}
	addr := cmd.Flags().String("addr", "localhost:8081", "worker gRPC address")
	timeout := cmd.Flags().Duration("timeout", 3*time.Second, "health check timeout")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		client, err := grpc.NewClient(*addr)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), *timeout)
		defer cancel()
		if err := client.Check(ctx, grpc.WorkerService); err != nil {
			return fmt.Errorf("worker at %s is not serving: %w", *addr, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "worker at %s is serving\n", *addr)
		return nil
	}
	return cmd
}
