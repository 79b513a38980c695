package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a job or wish row does not exist.
var ErrNotFound = errors.New("resource not found")

// JobStatus represents the current state of a job
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
)

// AllStatuses lists every status a stored job can be in.
var AllStatuses = []JobStatus{StatusQueued, StatusProcessing, StatusCompleted}

// Job represents a job in the queue
type Job struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Status     JobStatus       `json:"status"`
	Priority   int             `json:"priority"`
	RunAt      time.Time       `json:"run_at"`
	Attempts   int             `json:"attempts"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	LastError  *string         `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// String returns a string representation of the job
func (j *Job) String() string {
	return fmt.Sprintf("Job{ID: %d, Type: %s, Status: %s, Attempts: %d}",
		j.ID, j.Type, j.Status, j.Attempts)
}

// IsDue reports whether a queued job is eligible to be claimed at now.
func (j *Job) IsDue(now time.Time) bool {
	return j.Status == StatusQueued && !j.RunAt.After(now)
}

// NewJob describes a job to be enqueued.
type NewJob struct {
	Type     string
	Payload  json.RawMessage
	RunAt    *time.Time
	Priority int
}

// DefaultPriority is what Manager.Enqueue and seeding use unless told otherwise.
// Lower runs first; 0 is a valid, more urgent priority.
const DefaultPriority = 100

// FailOutcome tells the caller what Fail did with the job row.
type FailOutcome string

const (
	OutcomeRescheduled FailOutcome = "rescheduled"
	OutcomeDropped     FailOutcome = "dropped"
)

// FailResult is returned by JobStore.Fail.
type FailResult struct {
	Outcome  FailOutcome
	Attempts int
	// RetryIn is zero when the job was dropped.
	RetryIn time.Duration
}

// Stats holds a count per status bucket. Statuses without rows are present with zero.
type Stats map[JobStatus]int

// NewStats returns Stats with every known status set to zero.
func NewStats() Stats {
	s := make(Stats, len(AllStatuses))
	for _, st := range AllStatuses {
		s[st] = 0
	}
	return s
}

// JobStore is the persistent queue. Implementations must guarantee that ClaimNext never
// hands the same job to two concurrent callers.
type JobStore interface {
	Enqueue(ctx context.Context, job NewJob) (int64, error)
	// EnqueueForWish queues an image.fetch job for wishID unless one is already queued or
	// processing, in which case that job's id is returned with created=false. It returns
	// ErrNotFound when the wish does not exist.
	EnqueueForWish(ctx context.Context, wishID int64, priority int) (id int64, created bool, err error)
	ClaimNext(ctx context.Context, jobType string) (*Job, error)
	Complete(ctx context.Context, id int64) error
	Fail(ctx context.Context, id int64, reason string, retryDelay time.Duration, maxAttempts int) (FailResult, error)
	ReclaimZombies(ctx context.Context, staleAfter time.Duration) (int, error)
	CleanupOrphanedJobs(ctx context.Context) (int, error)
	SeedImageFetchBatch(ctx context.Context, limit int) (int, error)
	GetStats(ctx context.Context) (Stats, error)

	GetJob(ctx context.Context, id int64) (*Job, error)
	ListRecent(ctx context.Context, limit int) ([]*Job, error)
	Delete(ctx context.Context, id int64) error
	PurgeCompleted(ctx context.Context, olderThan time.Duration) (int, error)
}
