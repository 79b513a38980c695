package main

import (
	"context"
	"os"

	"github.com/mtr002/wishlist-jobs/internal/cli"
	"github.com/mtr002/wishlist-jobs/internal/logger"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		logger.Logger.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
