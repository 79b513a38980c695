package memory_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mtr002/wishlist-jobs/internal/db/memory"
	"github.com/mtr002/wishlist-jobs/internal/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func enqueue(t *testing.T, s *memory.Store, jobType string, priority int) int64 {
	t.Helper()
	id, err := s.Enqueue(context.Background(), interfaces.NewJob{
		Type:     jobType,
		Payload:  json.RawMessage(`{"wishId":1}`),
		Priority: priority,
	})
	require.NoError(t, err)
	return id
}

func localWish(id int64) interfaces.Wish {
	return interfaces.Wish{ID: id, ImageMode: interfaces.ImageModeLocal, ImageURL: "https://example.com/a.png"}
}

// --- Claim ---

func TestClaimNext_OrdersByPriorityThenID(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	low := enqueue(t, s, "image.fetch", 100)
	high := enqueue(t, s, "image.fetch", 10)
	enqueue(t, s, "other", 1)

	job, err := s.ClaimNext(ctx, "image.fetch")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, high, job.ID)
	assert.Equal(t, interfaces.StatusProcessing, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.NotNil(t, job.StartedAt)

	job, err = s.ClaimNext(ctx, "image.fetch")
	require.NoError(t, err)
	assert.Equal(t, low, job.ID)

	job, err = s.ClaimNext(ctx, "image.fetch")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestEnqueue_ZeroPriorityIsKeptAndClaimedFirst(t *testing.T) {
	s := memory.New()
	enqueue(t, s, "image.fetch", interfaces.DefaultPriority)
	urgent := enqueue(t, s, "image.fetch", 0)

	job, err := s.GetJob(context.Background(), urgent)
	require.NoError(t, err)
	assert.Equal(t, 0, job.Priority)

	job, err = s.ClaimNext(context.Background(), "image.fetch")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, urgent, job.ID)
}

func TestClaimNext_RespectsRunAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := memory.New()
	s.SetClock(fixedClock(now))
	later := now.Add(time.Minute)

	_, err := s.Enqueue(context.Background(), interfaces.NewJob{Type: "image.fetch", Payload: json.RawMessage(`{}`), RunAt: &later})
	require.NoError(t, err)

	job, err := s.ClaimNext(context.Background(), "image.fetch")
	require.NoError(t, err)
	assert.Nil(t, job)

	s.SetClock(fixedClock(later))
	job, err = s.ClaimNext(context.Background(), "image.fetch")
	require.NoError(t, err)
	assert.NotNil(t, job)
}

func TestClaimNext_ConcurrentCallersNeverShareAJob(t *testing.T) {
	s := memory.New()
	const total = 200
	for i := 0; i < total; i++ {
		enqueue(t, s, "image.fetch", 100)
	}

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := s.ClaimNext(context.Background(), "image.fetch")
				if err != nil || job == nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %d claimed %d times", id, n)
	}
}

// --- Complete / Fail ---

func TestComplete_IsIdempotent(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	id := enqueue(t, s, "image.fetch", 100)
	_, err := s.ClaimNext(ctx, "image.fetch")
	require.NoError(t, err)

	require.NoError(t, s.Complete(ctx, id))
	require.NoError(t, s.Complete(ctx, id))

	job, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusCompleted, job.Status)
	assert.NotNil(t, job.FinishedAt)
	assert.Nil(t, job.LastError)
}

func TestFail_ReschedulesWithExponentialBackoff(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for attempts, want := range map[int]time.Duration{
		1: 240 * time.Second,
		2: 480 * time.Second,
		3: 960 * time.Second,
		4: 1920 * time.Second,
	} {
		s := memory.New()
		s.SetClock(fixedClock(now))
		id := enqueue(t, s, "image.fetch", 100)
		require.NoError(t, s.UpdateJob(id, func(j *interfaces.Job) {
			j.Status = interfaces.StatusProcessing
			j.Attempts = attempts
			j.StartedAt = &now
		}))

		res, err := s.Fail(ctx, id, "network down", 120*time.Second, 5)
		require.NoError(t, err)
		assert.Equal(t, interfaces.OutcomeRescheduled, res.Outcome)
		assert.Equal(t, want, res.RetryIn)

		job, err := s.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, interfaces.StatusQueued, job.Status)
		assert.Equal(t, now.Add(want), job.RunAt)
		assert.Nil(t, job.StartedAt)
		require.NotNil(t, job.LastError)
		assert.Equal(t, "network down", *job.LastError)
	}
}

func TestFail_DropsAtCeiling(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	id := enqueue(t, s, "image.fetch", 100)
	require.NoError(t, s.UpdateJob(id, func(j *interfaces.Job) {
		j.Status = interfaces.StatusProcessing
		j.Attempts = 5
	}))

	res, err := s.Fail(ctx, id, "still broken", 120*time.Second, 5)
	require.NoError(t, err)
	assert.Equal(t, interfaces.OutcomeDropped, res.Outcome)

	_, err = s.GetJob(ctx, id)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestFail_ZeroRetryDeletes(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	id := enqueue(t, s, "image.fetch", 100)
	_, err := s.ClaimNext(ctx, "image.fetch")
	require.NoError(t, err)

	res, err := s.Fail(ctx, id, "nope", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, interfaces.OutcomeDropped, res.Outcome)
	assert.Empty(t, s.Jobs())
}

func TestFail_UnknownJob(t *testing.T) {
	_, err := memory.New().Fail(context.Background(), 42, "x", time.Second, 5)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

// --- Zombies ---

func TestReclaimZombies(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := memory.New()
	s.SetClock(fixedClock(now))
	ctx := context.Background()

	stale := enqueue(t, s, "image.fetch", 100)
	fresh := enqueue(t, s, "image.fetch", 100)
	staleStart := now.Add(-10 * time.Minute)
	freshStart := now.Add(-time.Minute)
	require.NoError(t, s.UpdateJob(stale, func(j *interfaces.Job) {
		j.Status = interfaces.StatusProcessing
		j.Attempts = 1
		j.StartedAt = &staleStart
	}))
	require.NoError(t, s.UpdateJob(fresh, func(j *interfaces.Job) {
		j.Status = interfaces.StatusProcessing
		j.Attempts = 1
		j.StartedAt = &freshStart
	}))

	n, err := s.ReclaimZombies(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := s.GetJob(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusQueued, job.Status)
	assert.False(t, job.RunAt.After(now))
	assert.Nil(t, job.StartedAt)
	assert.Equal(t, 1, job.Attempts)

	job, err = s.GetJob(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusProcessing, job.Status)
}

// --- Seeding / orphans ---

func TestSeedImageFetchBatch_IsIdempotent(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	pending := interfaces.ImageStatusPending
	ok := interfaces.ImageStatusOK

	s.PutWish(localWish(1))
	w2 := localWish(2)
	w2.ImageStatus = &pending
	s.PutWish(w2)
	w3 := localWish(3)
	w3.ImageStatus = &ok
	s.PutWish(w3)
	s.PutWish(interfaces.Wish{ID: 4, ImageMode: interfaces.ImageModeLink})

	n, err := s.SeedImageFetchBatch(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.SeedImageFetchBatch(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.JSONEq(t, `{"wishId":1}`, string(jobs[0].Payload))
	assert.JSONEq(t, `{"wishId":2}`, string(jobs[1].Payload))
}

func TestSeedImageFetchBatch_RespectsLimitInIDOrder(t *testing.T) {
	s := memory.New()
	for _, id := range []int64{5, 3, 9, 1} {
		s.PutWish(localWish(id))
	}

	n, err := s.SeedImageFetchBatch(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	jobs := s.Jobs()
	assert.JSONEq(t, `{"wishId":1}`, string(jobs[0].Payload))
	assert.JSONEq(t, `{"wishId":3}`, string(jobs[1].Payload))
}

func TestSeedImageFetchBatch_ReseedsAfterCompletion(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	s.PutWish(localWish(1))

	_, err := s.SeedImageFetchBatch(ctx, 10)
	require.NoError(t, err)
	job, err := s.ClaimNext(ctx, "image.fetch")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, job.ID))

	// Still pending: a completed job does not count as in flight.
	n, err := s.SeedImageFetchBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCleanupOrphanedJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	s.PutWish(localWish(1))
	s.PutWish(localWish(2))

	_, err := s.SeedImageFetchBatch(ctx, 10)
	require.NoError(t, err)
	s.DeleteWish(2)

	n, err := s.CleanupOrphanedJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.JSONEq(t, `{"wishId":1}`, string(jobs[0].Payload))
}

// --- Stats / admin ---

func TestGetStats_IncludesZeroBuckets(t *testing.T) {
	s := memory.New()
	enqueue(t, s, "image.fetch", 100)

	stats, err := s.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats[interfaces.StatusQueued])
	assert.Equal(t, 0, stats[interfaces.StatusProcessing])
	assert.Equal(t, 0, stats[interfaces.StatusCompleted])
}

func TestPurgeCompleted(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	s := memory.New()
	ctx := context.Background()

	old := enqueue(t, s, "image.fetch", 100)
	recent := enqueue(t, s, "image.fetch", 100)
	oldFinish := now.Add(-8 * 24 * time.Hour)
	recentFinish := now.Add(-time.Hour)
	require.NoError(t, s.UpdateJob(old, func(j *interfaces.Job) {
		j.Status = interfaces.StatusCompleted
		j.FinishedAt = &oldFinish
	}))
	require.NoError(t, s.UpdateJob(recent, func(j *interfaces.Job) {
		j.Status = interfaces.StatusCompleted
		j.FinishedAt = &recentFinish
	}))
	s.SetClock(fixedClock(now))

	n, err := s.PurgeCompleted(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.GetJob(ctx, recent)
	assert.NoError(t, err)
}

func TestEnqueueForWish_SkipsInFlightAndMissingWishes(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	s.PutWish(localWish(1))

	_, _, err := s.EnqueueForWish(ctx, 2, interfaces.DefaultPriority)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	id, created, err := s.EnqueueForWish(ctx, 1, interfaces.DefaultPriority)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.EnqueueForWish(ctx, 1, interfaces.DefaultPriority)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)

	_, err = s.ClaimNext(ctx, "image.fetch")
	require.NoError(t, err)
	again, created, err = s.EnqueueForWish(ctx, 1, interfaces.DefaultPriority)
	require.NoError(t, err)
	assert.False(t, created, "a processing job is still in flight")
	assert.Equal(t, id, again)

	require.NoError(t, s.Complete(ctx, id))
	next, created, err := s.EnqueueForWish(ctx, 1, interfaces.DefaultPriority)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, id, next)
}

func TestMarkImageFailed_LeavesLinkModeAndStoredImages(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	ok := interfaces.ImageStatusOK
	stored := localWish(1)
	stored.ImageStatus = &ok
	s.PutWish(stored)
	s.PutWish(interfaces.Wish{ID: 2, ImageMode: interfaces.ImageModeLink, ImageURL: "https://example.com/a.png"})
	s.PutWish(localWish(3))

	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, s.MarkImageFailed(ctx, id, "HTTP 404"))
	}
	assert.ErrorIs(t, s.MarkImageFailed(ctx, 4, "HTTP 404"), interfaces.ErrNotFound)

	w, _ := s.Wish(1)
	assert.Equal(t, interfaces.ImageStatusOK, *w.ImageStatus)
	assert.Nil(t, w.ImageLastError)

	w, _ = s.Wish(2)
	assert.Nil(t, w.ImageStatus)

	w, _ = s.Wish(3)
	require.NotNil(t, w.ImageStatus)
	assert.Equal(t, interfaces.ImageStatusFailed, *w.ImageStatus)
}
