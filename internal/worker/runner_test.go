package worker_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/wishlist-jobs/internal/db/memory"
	"github.com/mtr002/wishlist-jobs/internal/fetch"
	"github.com/mtr002/wishlist-jobs/internal/ingest"
	"github.com/mtr002/wishlist-jobs/internal/interfaces"
	"github.com/mtr002/wishlist-jobs/internal/jobs"
	"github.com/mtr002/wishlist-jobs/internal/settings"
	"github.com/mtr002/wishlist-jobs/internal/worker"
)

func pngServer(t *testing.T) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func pending() *interfaces.ImageStatus {
	s := interfaces.ImageStatusPending
	return &s
}

type recorder struct {
	mu       sync.Mutex
	reports  []*interfaces.BatchReport
	statuses map[int64]string
}

func (r *recorder) BatchFinished(_ context.Context, report *interfaces.BatchReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *recorder) SetJobStatus(_ context.Context, id int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statuses == nil {
		r.statuses = map[int64]string{}
	}
	r.statuses[id] = status
	return nil
}

func newRunner(t *testing.T, store *memory.Store, opts worker.Options, ropts ...worker.RunnerOption) *worker.Runner {
	t.Helper()
	u := settings.DefaultUploads()
	u.Dir = t.TempDir()
	ing := ingest.New(store, fetch.New(), settings.Static(u), "uploads")
	return worker.NewRunner(jobs.NewManager(store), store, &worker.ImageFetchProcessor{Ingestor: ing}, opts, ropts...)
}

func TestRunBatch_EndToEndSingleWish(t *testing.T) {
	srv := pngServer(t)
	store := memory.New()
	store.PutWish(interfaces.Wish{ID: 7, ImageMode: interfaces.ImageModeLocal, ImageURL: srv.URL + "/gift.png", ImageStatus: pending()})

	rec := &recorder{}
	r := newRunner(t, store, worker.DefaultOptions(), worker.WithReportSink(rec), worker.WithJobStatusSink(rec))

	report, err := r.RunBatch(context.Background(), 1, 8*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, report.JobsSeeded)
	assert.Equal(t, 1, report.JobsProcessed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Empty(t, report.Errors)
	assert.NotEmpty(t, report.BatchID)

	w, ok := store.Wish(7)
	require.True(t, ok)
	require.NotNil(t, w.ImageStatus)
	assert.Equal(t, interfaces.ImageStatusOK, *w.ImageStatus)
	assert.NotNil(t, w.ImagePath)
	assert.NotNil(t, w.ImageHash)

	for _, j := range store.Jobs() {
		assert.NotEqual(t, interfaces.StatusQueued, j.Status)
		assert.NotEqual(t, interfaces.StatusProcessing, j.Status)
	}

	require.Len(t, rec.reports, 1)
	assert.Same(t, report, rec.reports[0])
	assert.Contains(t, rec.statuses, store.Jobs()[0].ID)
	assert.Equal(t, worker.OutcomeCompleted, rec.statuses[store.Jobs()[0].ID])
}

func TestRunBatch_StopsWhenNoMoreJobs(t *testing.T) {
	store := memory.New()
	r := newRunner(t, store, worker.DefaultOptions())

	report, err := r.RunBatch(context.Background(), 5, 8*time.Second)
	require.NoError(t, err)
	assert.True(t, report.NoMoreJobs)
	assert.Equal(t, 0, report.JobsProcessed)
	assert.Equal(t, "Reclaimed 0 zombie job(s), cleaned 0 orphaned job(s), seeded 0 job(s), processed 0 job(s).", report.Message())
}

func TestRunBatch_RespectsMaxJobs(t *testing.T) {
	srv := pngServer(t)
	store := memory.New()
	for id := int64(1); id <= 4; id++ {
		store.PutWish(interfaces.Wish{ID: id, ImageMode: interfaces.ImageModeLocal, ImageURL: srv.URL})
	}
	r := newRunner(t, store, worker.DefaultOptions())

	report, err := r.RunBatch(context.Background(), 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 4, report.JobsSeeded)
	assert.Equal(t, 3, report.JobsProcessed)
	assert.False(t, report.NoMoreJobs)

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats[interfaces.StatusQueued])
	assert.Equal(t, 3, stats[interfaces.StatusCompleted])
}

func TestRunBatch_RespectsTimeBudget(t *testing.T) {
	srv := pngServer(t)
	store := memory.New()
	store.PutWish(interfaces.Wish{ID: 1, ImageMode: interfaces.ImageModeLocal, ImageURL: srv.URL})
	r := newRunner(t, store, worker.DefaultOptions())

	report, err := r.RunBatch(context.Background(), 5, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.JobsSeeded)
	assert.Equal(t, 0, report.JobsProcessed)
}

func TestRunBatch_FailureIsIsolatedAndRescheduled(t *testing.T) {
	srv := pngServer(t)
	store := memory.New()
	store.PutWish(interfaces.Wish{ID: 1, ImageMode: interfaces.ImageModeLocal, ImageURL: srv.URL + "/missing.png"})
	store.PutWish(interfaces.Wish{ID: 2, ImageMode: interfaces.ImageModeLocal, ImageURL: srv.URL + "/ok.png"})

	rec := &recorder{}
	r := newRunner(t, store, worker.DefaultOptions(), worker.WithJobStatusSink(rec))

	report, err := r.RunBatch(context.Background(), 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, report.JobsProcessed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Dropped)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "HTTP 404")
	assert.Contains(t, report.Message(), "Errors: ")
	assert.True(t, report.NoMoreJobs)

	var failed interfaces.Job
	for _, j := range store.Jobs() {
		if j.Status == interfaces.StatusQueued {
			failed = j
		}
	}
	require.NotZero(t, failed.ID)
	assert.Equal(t, 1, failed.Attempts)
	require.NotNil(t, failed.LastError)
	assert.Contains(t, *failed.LastError, "HTTP 404")
	assert.True(t, failed.RunAt.After(time.Now().Add(200*time.Second)), "backoff is 120s * 2^1")
	assert.Equal(t, worker.OutcomeRescheduled, rec.statuses[failed.ID])

	w, _ := store.Wish(1)
	assert.Nil(t, w.ImageStatus)
}

func TestRunBatch_DropMarksWishFailed(t *testing.T) {
	srv := pngServer(t)
	store := memory.New()
	store.PutWish(interfaces.Wish{ID: 1, ImageMode: interfaces.ImageModeLocal, ImageURL: srv.URL + "/missing.png"})

	opts := worker.DefaultOptions()
	opts.MaxAttempts = 1
	r := newRunner(t, store, opts)

	report, err := r.RunBatch(context.Background(), 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dropped)
	assert.Empty(t, store.Jobs())

	w, _ := store.Wish(1)
	require.NotNil(t, w.ImageStatus)
	assert.Equal(t, interfaces.ImageStatusFailed, *w.ImageStatus)
	require.NotNil(t, w.ImageLastError)
	assert.Contains(t, *w.ImageLastError, "HTTP 404")

	report, err = r.RunBatch(context.Background(), 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, report.JobsSeeded, "failed wishes are not reseeded")
}

func TestRunBatch_MalformedPayloadIsCleanedAsOrphan(t *testing.T) {
	store := memory.New()
	id, err := store.Enqueue(context.Background(), interfaces.NewJob{Type: jobs.TypeImageFetch, Payload: []byte(`{"wishId":"x"}`)})
	require.NoError(t, err)
	r := newRunner(t, store, worker.DefaultOptions())

	report, err := r.RunBatch(context.Background(), 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrphansCleaned)
	assert.Equal(t, 0, report.JobsProcessed)

	_, err = store.GetJob(context.Background(), id)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRunBatch_ReclaimsZombiesFirst(t *testing.T) {
	srv := pngServer(t)
	store := memory.New()
	store.PutWish(interfaces.Wish{ID: 1, ImageMode: interfaces.ImageModeLocal, ImageURL: srv.URL})
	ctx := context.Background()

	n, err := store.SeedImageFetchBatch(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	job, err := store.ClaimNext(ctx, jobs.TypeImageFetch)
	require.NoError(t, err)
	require.NoError(t, store.UpdateJob(job.ID, func(j *interfaces.Job) {
		stale := time.Now().Add(-10 * time.Minute)
		j.StartedAt = &stale
	}))

	r := newRunner(t, store, worker.DefaultOptions())
	report, err := r.RunBatch(ctx, 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ZombiesReclaimed)
	assert.Equal(t, 0, report.JobsSeeded)
	assert.Equal(t, 1, report.Succeeded)
}

func TestRunBatch_ConcurrentRunnersNeverShareJobs(t *testing.T) {
	srv := pngServer(t)
	store := memory.New()
	for id := int64(1); id <= 20; id++ {
		store.PutWish(interfaces.Wish{ID: id, ImageMode: interfaces.ImageModeLocal, ImageURL: srv.URL})
	}

	rec := &recorder{}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := newRunner(t, store, worker.DefaultOptions(), worker.WithReportSink(rec))
			_, err := r.RunBatch(context.Background(), 20, time.Minute)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	processed := 0
	for _, rep := range rec.reports {
		processed += rep.Succeeded
	}
	assert.Equal(t, 20, processed)

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, stats[interfaces.StatusCompleted])
}

// ctxStore rejects writes on a cancelled context the way database/sql does.
type ctxStore struct {
	*memory.Store
}

func (s ctxStore) Complete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.Complete(ctx, id)
}

func (s ctxStore) Fail(ctx context.Context, id int64, reason string, retryDelay time.Duration, maxAttempts int) (interfaces.FailResult, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.FailResult{}, err
	}
	return s.Store.Fail(ctx, id, reason, retryDelay, maxAttempts)
}

func (s ctxStore) MarkImageFailed(ctx context.Context, id int64, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.MarkImageFailed(ctx, id, reason)
}

// cancellingProcessor cancels the batch while the job is running.
type cancellingProcessor struct {
	cancel context.CancelFunc
}

func (p cancellingProcessor) Process(ctx context.Context, _ *interfaces.Job, _ jobs.Payload) error {
	p.cancel()
	return ctx.Err()
}

func TestRunBatch_CancelledMidJobRequeuesJob(t *testing.T) {
	store := memory.New()
	store.PutWish(interfaces.Wish{ID: 1, ImageMode: interfaces.ImageModeLocal, ImageURL: "http://127.0.0.1:1/a.png"})
	cs := ctxStore{Store: store}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := worker.NewRunner(jobs.NewManager(cs), cs, cancellingProcessor{cancel: cancel}, worker.DefaultOptions())

	report, err := r.RunBatch(ctx, 5, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.JobsProcessed)
	assert.Equal(t, 1, report.Failed)

	all := store.Jobs()
	require.Len(t, all, 1)
	assert.Equal(t, interfaces.StatusQueued, all[0].Status)
	assert.Equal(t, 1, all[0].Attempts)
	require.NotNil(t, all[0].LastError)
	assert.Contains(t, *all[0].LastError, "context canceled")
}

func TestRunBatch_CancelledMidJobStillDropsAndMarksWish(t *testing.T) {
	store := memory.New()
	store.PutWish(interfaces.Wish{ID: 1, ImageMode: interfaces.ImageModeLocal, ImageURL: "http://127.0.0.1:1/a.png"})
	cs := ctxStore{Store: store}

	opts := worker.DefaultOptions()
	opts.MaxAttempts = 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := worker.NewRunner(jobs.NewManager(cs), cs, cancellingProcessor{cancel: cancel}, opts)

	report, err := r.RunBatch(ctx, 5, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Dropped)
	assert.Empty(t, store.Jobs())

	w, _ := store.Wish(1)
	require.NotNil(t, w.ImageStatus)
	assert.Equal(t, interfaces.ImageStatusFailed, *w.ImageStatus)
}

// switchingProcessor moves the wish to link mode before failing, as a user edit would.
type switchingProcessor struct {
	store *memory.Store
}

func (p switchingProcessor) Process(_ context.Context, _ *interfaces.Job, payload jobs.Payload) error {
	id := payload.(jobs.ImageFetchPayload).WishID
	w, _ := p.store.Wish(id)
	w.ImageMode = interfaces.ImageModeLink
	p.store.PutWish(w)
	return errors.New("HTTP 404")
}

func TestRunBatch_DropLeavesWishSwitchedToLinkMode(t *testing.T) {
	store := memory.New()
	store.PutWish(interfaces.Wish{ID: 1, ImageMode: interfaces.ImageModeLocal, ImageURL: "http://127.0.0.1:1/a.png"})

	opts := worker.DefaultOptions()
	opts.MaxAttempts = 1
	r := worker.NewRunner(jobs.NewManager(store), store, switchingProcessor{store: store}, opts)

	report, err := r.RunBatch(context.Background(), 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dropped)

	w, _ := store.Wish(1)
	assert.Equal(t, interfaces.ImageModeLink, w.ImageMode)
	assert.Nil(t, w.ImageStatus)
	assert.Nil(t, w.ImageLastError)
}
