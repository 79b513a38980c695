package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/wishlist-jobs/internal/ingest"
	"github.com/mtr002/wishlist-jobs/internal/interfaces"
	"github.com/mtr002/wishlist-jobs/internal/jobs"
	"github.com/mtr002/wishlist-jobs/internal/worker"
)

type stubIngestor struct {
	got []int64
	err error
}

func (s *stubIngestor) ProcessWish(_ context.Context, wishID int64) (*ingest.Result, error) {
	s.got = append(s.got, wishID)
	return &ingest.Result{}, s.err
}

type otherPayload struct{ jobs.ImageFetchPayload }

func TestImageFetchProcessor(t *testing.T) {
	stub := &stubIngestor{}
	p := &worker.ImageFetchProcessor{Ingestor: stub}
	job := &interfaces.Job{ID: 1, Type: jobs.TypeImageFetch}

	require.NoError(t, p.Process(context.Background(), job, jobs.ImageFetchPayload{WishID: 42}))
	assert.Equal(t, []int64{42}, stub.got)

	stub.err = errors.New("boom")
	assert.EqualError(t, p.Process(context.Background(), job, jobs.ImageFetchPayload{WishID: 43}), "boom")

	err := p.Process(context.Background(), &interfaces.Job{ID: 2, Type: "other"}, otherPayload{})
	assert.ErrorIs(t, err, jobs.ErrUnknownJobType)
}
