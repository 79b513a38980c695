package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mtr002/wishlist-jobs/internal/interfaces"
	"github.com/mtr002/wishlist-jobs/internal/jobs"
	"github.com/mtr002/wishlist-jobs/internal/logger"
	"github.com/mtr002/wishlist-jobs/internal/metrics"
)

// Per-job outcomes recorded through JobStatusSink.
const (
	OutcomeCompleted   = "completed"
	OutcomeRescheduled = "rescheduled"
	OutcomeDropped     = "dropped"
)

// ReportSink receives every finished batch report.
type ReportSink interface {
	BatchFinished(ctx context.Context, report *interfaces.BatchReport) error
}

// JobStatusSink receives the outcome of every processed job.
type JobStatusSink interface {
	SetJobStatus(ctx context.Context, jobID int64, status string) error
}

// Options are the housekeeping and retry knobs of a batch.
type Options struct {
	ZombieAfter time.Duration
	SeedBatch   int
	RetryDelay  time.Duration
	MaxAttempts int
}

// DefaultOptions mirrors the admin-triggered batch: 5 minute zombies, 50 seeds,
// 120s retry base, 5 attempts.
func DefaultOptions() Options {
	return Options{
		ZombieAfter: 5 * time.Minute,
		SeedBatch:   50,
		RetryDelay:  120 * time.Second,
		MaxAttempts: interfaces.DefaultMaxAttempts,
	}
}

// Runner drives one bounded batch at a time. It keeps no state between batches, so any
// number of Runners may share one store.
type Runner struct {
	manager   *jobs.Manager
	wishes    interfaces.WishStore
	processor JobProcessor
	opts      Options
	reports   []ReportSink
	jobStatus []JobStatusSink
	clock     func() time.Time
}

type RunnerOption func(*Runner)

func WithReportSink(s ReportSink) RunnerOption {
	return func(r *Runner) { r.reports = append(r.reports, s) }
}

func WithJobStatusSink(s JobStatusSink) RunnerOption {
	return func(r *Runner) { r.jobStatus = append(r.jobStatus, s) }
}

// WithClock replaces time.Now for budget accounting.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.clock = now }
}

func NewRunner(manager *jobs.Manager, wishes interfaces.WishStore, processor JobProcessor, opts Options, ropts ...RunnerOption) *Runner {
	r := &Runner{
		manager:   manager,
		wishes:    wishes,
		processor: processor,
		opts:      opts,
		clock:     time.Now,
	}
	for _, o := range ropts {
		o(r)
	}
	return r
}

// RunBatch reclaims zombies, cleans orphans, seeds new work and then processes image.fetch
// jobs until maxJobs have been handled, maxDuration has elapsed or nothing is due.
// The time budget is checked between jobs. The returned report is never nil; err is
// set only when a store operation outside a single job failed.
func (r *Runner) RunBatch(ctx context.Context, maxJobs int, maxDuration time.Duration) (*interfaces.BatchReport, error) {
	start := r.clock()
	report := &interfaces.BatchReport{BatchID: uuid.NewString(), StartedAt: start}
	log := logger.WithBatchID(report.BatchID)
	metrics.BatchesTotal.Inc()

	defer func() {
		report.Duration = r.clock().Sub(start)
		r.publish(ctx, report)
	}()

	var err error
	if report.ZombiesReclaimed, err = r.manager.ReclaimZombies(ctx, r.opts.ZombieAfter); err != nil {
		return report, err
	}
	if report.OrphansCleaned, err = r.manager.CleanupOrphanedJobs(ctx); err != nil {
		return report, err
	}
	if report.JobsSeeded, err = r.manager.SeedImageFetchBatch(ctx, r.opts.SeedBatch); err != nil {
		return report, err
	}

	for report.JobsProcessed < maxJobs && r.clock().Sub(start) < maxDuration {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		job, err := r.manager.Claim(ctx, jobs.TypeImageFetch)
		if err != nil {
			return report, err
		}
		if job == nil {
			report.NoMoreJobs = true
			break
		}

		r.runJob(ctx, job, report)
		report.JobsProcessed++
	}

	log.Info().
		Int("zombies_reclaimed", report.ZombiesReclaimed).
		Int("orphans_cleaned", report.OrphansCleaned).
		Int("jobs_seeded", report.JobsSeeded).
		Int("jobs_processed", report.JobsProcessed).
		Int("failed", report.Failed).
		Bool("no_more_jobs", report.NoMoreJobs).
		Msg("Batch finished")
	return report, nil
}

// runJob executes one claimed job. Its errors are recorded on the report and never
// escape, so one bad job cannot abort the batch.
func (r *Runner) runJob(ctx context.Context, job *interfaces.Job, report *interfaces.BatchReport) {
	startTime := time.Now()
	log := logger.WithJobID(job.ID)

	payload, err := jobs.DecodePayload(job.Type, job.Payload)
	if err == nil {
		log.Info().Str("type", job.Type).Int("attempt", job.Attempts).Msg("Processing job")
		err = r.processor.Process(ctx, job, payload)
	}
	metrics.JobProcessingDuration.Observe(time.Since(startTime).Seconds())

	// A claimed job must leave processing even when the batch was cancelled mid-job.
	ctx = context.WithoutCancel(ctx)

	if err == nil {
		if cerr := r.manager.Complete(ctx, job); cerr != nil {
			r.recordError(report, job, cerr)
			return
		}
		report.Succeeded++
		r.setJobStatus(ctx, job.ID, OutcomeCompleted)
		return
	}

	report.Failed++
	r.recordError(report, job, err)

	res, ferr := r.manager.Fail(ctx, job, err, r.opts.RetryDelay, r.opts.MaxAttempts)
	if ferr != nil {
		log.Error().Err(ferr).Msg("Failed to record job failure")
		return
	}
	if res.Outcome != interfaces.OutcomeDropped {
		r.setJobStatus(ctx, job.ID, OutcomeRescheduled)
		return
	}

	report.Dropped++
	r.setJobStatus(ctx, job.ID, OutcomeDropped)
	if p, ok := payload.(jobs.ImageFetchPayload); ok {
		if merr := r.wishes.MarkImageFailed(ctx, p.WishID, err.Error()); merr != nil && !errors.Is(merr, interfaces.ErrNotFound) {
			log.Error().Err(merr).Int64("wish_id", p.WishID).Msg("Failed to mark wish image as failed")
		}
	}
}

func (r *Runner) recordError(report *interfaces.BatchReport, job *interfaces.Job, err error) {
	report.Errors = append(report.Errors, interfaces.TruncateDiagnostic(fmt.Sprintf("Job %d: %v", job.ID, err)))
}

func (r *Runner) setJobStatus(ctx context.Context, id int64, status string) {
	for _, s := range r.jobStatus {
		if err := s.SetJobStatus(ctx, id, status); err != nil {
			logger.WithJobID(id).Warn().Err(err).Msg("Failed to record job status")
		}
	}
}

func (r *Runner) publish(ctx context.Context, report *interfaces.BatchReport) {
	for _, s := range r.reports {
		if err := s.BatchFinished(context.WithoutCancel(ctx), report); err != nil {
			logger.WithBatchID(report.BatchID).Warn().Err(err).Msg("Failed to publish batch report")
		}
	}
}
