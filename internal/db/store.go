package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mtr002/wishlist-jobs/internal/interfaces"
	"github.com/mtr002/wishlist-jobs/internal/jobs"
)

// seedLockKey names the transaction-scoped advisory lock that serializes seeding.
const seedLockKey int64 = 0x77697368

const jobColumns = `id, type, payload, status, priority, run_at, attempts, started_at, finished_at, last_error, created_at`

// Store handles database operations for jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new database store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Enqueue inserts a new queued job and returns its id. Priority is stored as given.
func (s *Store) Enqueue(ctx context.Context, job interfaces.NewJob) (int64, error) {
	payload := string(job.Payload)
	if payload == "" {
		payload = "{}"
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO jobs (type, payload, status, priority, run_at, attempts)
		VALUES ($1, $2::jsonb, 'queued', $3, COALESCE($4, NOW()), 0)
		RETURNING id
	`, job.Type, payload, job.Priority, job.RunAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create job: %w", err)
	}
	return id, nil
}

// EnqueueForWish inserts an image.fetch job for wishID unless one is in flight. It takes
// the seeding lock so it cannot race a concurrent seed into a duplicate.
func (s *Store) EnqueueForWish(ctx context.Context, wishID int64, priority int) (int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, seedLockKey); err != nil {
		return 0, false, fmt.Errorf("failed to acquire seed lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM wishes WHERE id = $1)`, wishID).Scan(&exists); err != nil {
		return 0, false, fmt.Errorf("failed to look up wish: %w", err)
	}
	if !exists {
		return 0, false, interfaces.ErrNotFound
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE type = $1 AND status IN ('queued', 'processing') AND payload->>'wishId' = $2::text
		ORDER BY id ASC
		LIMIT 1
	`, jobs.TypeImageFetch, wishID).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to look up in-flight job: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO jobs (type, payload, status, priority, run_at, attempts)
		VALUES ($1, jsonb_build_object('wishId', $2::bigint), 'queued', $3, NOW(), 0)
		RETURNING id
	`, jobs.TypeImageFetch, wishID, priority).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, true, nil
}

// ClaimNext selects the next due job of jobType using SELECT FOR UPDATE SKIP LOCKED,
// flips it to processing and commits before returning.
func (s *Store) ClaimNext(ctx context.Context, jobType string) (*interfaces.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT id
		FROM jobs
		WHERE type = $1 AND status = 'queued' AND run_at <= NOW()
		ORDER BY priority ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, jobType).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select due job: %w", err)
	}

	job, err := scanJob(tx.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'processing', attempts = attempts + 1, started_at = NOW()
		WHERE id = $1
		RETURNING `+jobColumns, id))
	if err != nil {
		return nil, fmt.Errorf("failed to mark job as processing: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return job, nil
}

// Complete marks a job as completed. Calling it twice is a no-op update.
func (s *Store) Complete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', finished_at = NOW(), last_error = NULL
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Fail reschedules the job with backoff = retryDelay * 2^attempts, or deletes it when
// attempts >= maxAttempts or retryDelay <= 0.
func (s *Store) Fail(ctx context.Context, id int64, reason string, retryDelay time.Duration, maxAttempts int) (interfaces.FailResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = interfaces.DefaultMaxAttempts
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return interfaces.FailResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	err = tx.QueryRowContext(ctx, `SELECT attempts FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.FailResult{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.FailResult{}, fmt.Errorf("failed to read attempts: %w", err)
	}

	var res interfaces.FailResult
	if attempts >= maxAttempts || retryDelay <= 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
			return interfaces.FailResult{}, fmt.Errorf("failed to drop job: %w", err)
		}
		res = interfaces.FailResult{Outcome: interfaces.OutcomeDropped, Attempts: attempts}
	} else {
		backoff := interfaces.Backoff(retryDelay, attempts)
		_, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'queued', last_error = $2, run_at = NOW() + make_interval(secs => $3), started_at = NULL
			WHERE id = $1
		`, id, interfaces.TruncateDiagnostic(reason), backoff.Seconds())
		if err != nil {
			return interfaces.FailResult{}, fmt.Errorf("failed to reschedule job: %w", err)
		}
		res = interfaces.FailResult{Outcome: interfaces.OutcomeRescheduled, Attempts: attempts, RetryIn: backoff}
	}

	if err := tx.Commit(); err != nil {
		return interfaces.FailResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return res, nil
}

// ReclaimZombies returns processing jobs started more than staleAfter ago to the queue.
func (s *Store) ReclaimZombies(ctx context.Context, staleAfter time.Duration) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'queued', run_at = NOW(), started_at = NULL
		WHERE status = 'processing' AND started_at < NOW() - make_interval(secs => $1)
	`, staleAfter.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim zombies: %w", err)
	}
	return rowsAffected(result)
}

// CleanupOrphanedJobs deletes image.fetch jobs whose wish no longer exists.
func (s *Store) CleanupOrphanedJobs(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs j
		WHERE j.type = $1
		  AND NOT EXISTS (SELECT 1 FROM wishes w WHERE w.id::text = j.payload->>'wishId')
	`, jobs.TypeImageFetch)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up orphaned jobs: %w", err)
	}
	return rowsAffected(result)
}

// SeedImageFetchBatch queues image.fetch jobs for local-mode wishes that still need an
// image and have no queued or processing job.
func (s *Store) SeedImageFetchBatch(ctx context.Context, limit int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, seedLockKey); err != nil {
		return 0, fmt.Errorf("failed to acquire seed lock: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (type, payload, status, priority, run_at, attempts)
		SELECT $1, jsonb_build_object('wishId', w.id), 'queued', $2, NOW(), 0
		FROM wishes w
		WHERE w.image_mode = 'local'
		  AND (w.image_status IS NULL OR w.image_status = 'pending')
		  AND NOT EXISTS (
			SELECT 1 FROM jobs j
			WHERE j.type = $1
			  AND j.status IN ('queued', 'processing')
			  AND j.payload->>'wishId' = w.id::text
		  )
		ORDER BY w.id ASC
		LIMIT $3
	`, jobs.TypeImageFetch, interfaces.DefaultPriority, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to seed image fetch jobs: %w", err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return n, nil
}

// GetStats counts jobs per status.
func (s *Store) GetStats(ctx context.Context) (interfaces.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := interfaces.NewStats()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats[interfaces.JobStatus(status)] = count
	}
	return stats, rows.Err()
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id int64) (*interfaces.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListRecent returns the most recently created jobs.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*interfaces.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var out []*interfaces.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, job)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// Delete removes a job from the database
func (s *Store) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// PurgeCompleted deletes completed jobs that finished before NOW() - olderThan.
func (s *Store) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status = 'completed' AND finished_at < NOW() - make_interval(secs => $1)
	`, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to purge completed jobs: %w", err)
	}
	return rowsAffected(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*interfaces.Job, error) {
	var (
		job        interfaces.Job
		status     string
		payload    []byte
		startedAt  sql.NullTime
		finishedAt sql.NullTime
		lastError  sql.NullString
	)
	err := row.Scan(&job.ID, &job.Type, &payload, &status, &job.Priority, &job.RunAt,
		&job.Attempts, &startedAt, &finishedAt, &lastError, &job.CreatedAt)
	if err != nil {
		return nil, err
	}

	job.Status = interfaces.JobStatus(status)
	job.Payload = append([]byte(nil), payload...)
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	if lastError.Valid {
		job.LastError = &lastError.String
	}
	return &job, nil
}

func rowsAffected(result sql.Result) (int, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

var _ interfaces.JobStore = (*Store)(nil)
