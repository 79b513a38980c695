package cli

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mtr002/wishlist-jobs/internal/app"
	"github.com/mtr002/wishlist-jobs/internal/nats"
)

func NewEnqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue <wish-id>",
		Short: "Queue an image fetch for a wish",
		Args:  cobra.ExactArgs(1),
	}
	viaNATS := cmd.Flags().Bool("nats", false, "publish the request to NATS instead of inserting directly")

	cmd.RunE = withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
		wishID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || wishID <= 0 {
			return fmt.Errorf("invalid wish id: %s", args[0])
		}

		if *viaNATS {
			if a.Publisher == nil {
				return fmt.Errorf("--nats requires a reachable NATS_URL")
			}
			msg := &nats.ImageRequestMessage{WishID: wishID, CorrelationID: uuid.NewString()}
			if err := a.Publisher.PublishImageRequest(msg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Image request published for wish %d (correlation %s)\n", wishID, msg.CorrelationID)
			return nil
		}

		id, created, err := a.Manager.EnqueueImageFetch(cmd.Context(), wishID, "cli")
		if err != nil {
			return err
		}
		if !created {
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d already queued for wish %d\n", id, wishID)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Job enqueued: %d\n", id)
		return nil
	})
	return cmd
}
