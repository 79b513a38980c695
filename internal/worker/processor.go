package worker

import (
	"context"
	"fmt"

	"github.com/mtr002/wishlist-jobs/internal/ingest"
	"github.com/mtr002/wishlist-jobs/internal/interfaces"
	"github.com/mtr002/wishlist-jobs/internal/jobs"
)

// JobProcessor defines the interface for processing different job types
type JobProcessor interface {
	Process(ctx context.Context, job *interfaces.Job, payload jobs.Payload) error
}

// WishIngestor is satisfied by *ingest.Ingestor.
type WishIngestor interface {
	ProcessWish(ctx context.Context, wishID int64) (*ingest.Result, error)
}

// ImageFetchProcessor runs image.fetch jobs through the ingest pipeline.
type ImageFetchProcessor struct {
	Ingestor WishIngestor
}

// Process implements JobProcessor interface
func (p *ImageFetchProcessor) Process(ctx context.Context, job *interfaces.Job, payload jobs.Payload) error {
	switch pl := payload.(type) {
	case jobs.ImageFetchPayload:
		_, err := p.Ingestor.ProcessWish(ctx, pl.WishID)
		return err
	default:
		return fmt.Errorf("%w: %s", jobs.ErrUnknownJobType, job.Type)
	}
}
