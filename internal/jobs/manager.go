package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/mtr002/wishlist-jobs/internal/interfaces"
	"github.com/mtr002/wishlist-jobs/internal/logger"
	"github.com/mtr002/wishlist-jobs/internal/metrics"
)

// Manager wraps a JobStore with typed payloads, metrics and logging.
type Manager struct {
	store interfaces.JobStore
}

// NewManager creates a new job manager backed by store
func NewManager(store interfaces.JobStore) *Manager {
	return &Manager{store: store}
}

// EnqueueOption adjusts a job before it is inserted.
type EnqueueOption func(*interfaces.NewJob)

// WithRunAt delays eligibility until t.
func WithRunAt(t time.Time) EnqueueOption {
	return func(j *interfaces.NewJob) {
		j.RunAt = &t
	}
}

// WithPriority sets the priority; lower runs first.
func WithPriority(priority int) EnqueueOption {
	return func(j *interfaces.NewJob) {
		j.Priority = priority
	}
}

// Enqueue inserts a queued job for p. There is no dedup; callers that need it use seeding.
func (m *Manager) Enqueue(ctx context.Context, p Payload, source string, opts ...EnqueueOption) (int64, error) {
	raw, err := EncodePayload(p)
	if err != nil {
		return 0, err
	}

	job := interfaces.NewJob{
		Type:     p.JobType(),
		Payload:  raw,
		Priority: interfaces.DefaultPriority,
	}
	for _, opt := range opts {
		opt(&job)
	}

	id, err := m.store.Enqueue(ctx, job)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", job.Type, err)
	}

	metrics.JobsEnqueuedTotal.WithLabelValues(job.Type, source).Inc()
	logger.WithJobID(id).Info().Str("type", job.Type).Str("source", source).Msg("Job enqueued")
	return id, nil
}

// EnqueueImageFetch queues an image.fetch job for wishID. When the wish already has a
// queued or processing job, that job's id is returned and created is false.
func (m *Manager) EnqueueImageFetch(ctx context.Context, wishID int64, source string) (id int64, created bool, err error) {
	p := ImageFetchPayload{WishID: wishID}
	if err := p.validate(); err != nil {
		return 0, false, err
	}

	id, created, err = m.store.EnqueueForWish(ctx, wishID, interfaces.DefaultPriority)
	if err != nil {
		return 0, false, fmt.Errorf("enqueue %s for wish %d: %w", TypeImageFetch, wishID, err)
	}

	log := logger.WithJobID(id).Info().Int64("wish_id", wishID).Str("source", source)
	if !created {
		log.Msg("Image fetch already in flight")
		return id, false, nil
	}
	metrics.JobsEnqueuedTotal.WithLabelValues(TypeImageFetch, source).Inc()
	log.Msg("Job enqueued")
	return id, true, nil
}

// Claim exclusively takes the next due job of jobType. It returns nil, nil when none is due.
func (m *Manager) Claim(ctx context.Context, jobType string) (*interfaces.Job, error) {
	job, err := m.store.ClaimNext(ctx, jobType)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", jobType, err)
	}
	if job != nil {
		logger.WithJobID(job.ID).Debug().Str("type", job.Type).Int("attempts", job.Attempts).Msg("Job claimed")
	}
	return job, nil
}

// Complete marks the job as completed.
func (m *Manager) Complete(ctx context.Context, job *interfaces.Job) error {
	if err := m.store.Complete(ctx, job.ID); err != nil {
		return fmt.Errorf("complete job %d: %w", job.ID, err)
	}
	metrics.JobsCompletedTotal.Inc()
	logger.WithJobID(job.ID).Info().Int("attempts", job.Attempts).Msg("Job completed")
	return nil
}

// Fail reschedules the job with exponential backoff or drops it once maxAttempts is reached.
func (m *Manager) Fail(ctx context.Context, job *interfaces.Job, cause error, retryDelay time.Duration, maxAttempts int) (interfaces.FailResult, error) {
	reason := interfaces.TruncateDiagnostic(cause.Error())
	res, err := m.store.Fail(ctx, job.ID, reason, retryDelay, maxAttempts)
	if err != nil {
		return res, fmt.Errorf("fail job %d: %w", job.ID, err)
	}

	log := logger.WithJobID(job.ID)
	switch res.Outcome {
	case interfaces.OutcomeDropped:
		metrics.JobsDroppedTotal.Inc()
		log.Warn().Int("attempts", res.Attempts).Str("reason", reason).Msg("Job dropped")
	default:
		metrics.JobsRescheduledTotal.Inc()
		log.Info().
			Int("attempts", res.Attempts).
			Dur("retry_in", res.RetryIn).
			Str("reason", reason).
			Msg("Job failed, will retry")
	}
	return res, nil
}

func (m *Manager) ReclaimZombies(ctx context.Context, staleAfter time.Duration) (int, error) {
	n, err := m.store.ReclaimZombies(ctx, staleAfter)
	if err != nil {
		return 0, fmt.Errorf("reclaim zombies: %w", err)
	}
	metrics.ZombiesReclaimedTotal.Add(float64(n))
	return n, nil
}

func (m *Manager) CleanupOrphanedJobs(ctx context.Context) (int, error) {
	n, err := m.store.CleanupOrphanedJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup orphaned jobs: %w", err)
	}
	metrics.OrphansCleanedTotal.Add(float64(n))
	return n, nil
}

func (m *Manager) SeedImageFetchBatch(ctx context.Context, limit int) (int, error) {
	n, err := m.store.SeedImageFetchBatch(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("seed image fetch jobs: %w", err)
	}
	metrics.JobsEnqueuedTotal.WithLabelValues(TypeImageFetch, "seed").Add(float64(n))
	return n, nil
}

// Stats returns counts per status and refreshes the queue depth gauge.
func (m *Manager) Stats(ctx context.Context) (interfaces.Stats, error) {
	stats, err := m.store.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	for status, n := range stats {
		metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(n))
	}
	return stats, nil
}

func (m *Manager) GetJob(ctx context.Context, id int64) (*interfaces.Job, error) {
	return m.store.GetJob(ctx, id)
}

func (m *Manager) ListRecent(ctx context.Context, limit int) ([]*interfaces.Job, error) {
	return m.store.ListRecent(ctx, limit)
}

func (m *Manager) Delete(ctx context.Context, id int64) error {
	return m.store.Delete(ctx, id)
}

// PurgeCompleted deletes completed jobs that finished more than olderThan ago.
func (m *Manager) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := m.store.PurgeCompleted(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge completed jobs: %w", err)
	}
	logger.Logger.Info().Int("deleted", n).Dur("older_than", olderThan).Msg("Purged completed jobs")
	return n, nil
}
