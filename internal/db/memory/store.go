// Package memory is an in-process JobStore and WishStore. A single mutex plays the role
// of the row locks the Postgres store relies on, so claim exclusivity holds under
// concurrent callers.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mtr002/wishlist-jobs/internal/interfaces"
	"github.com/mtr002/wishlist-jobs/internal/jobs"
)

// Store keeps jobs and wishes in maps.
type Store struct {
	mu     sync.Mutex
	now    func() time.Time
	nextID int64
	jobs   map[int64]*interfaces.Job
	wishes map[int64]*interfaces.Wish
}

// New returns an empty store using the wall clock.
func New() *Store {
	return &Store{
		now:    time.Now,
		jobs:   make(map[int64]*interfaces.Job),
		wishes: make(map[int64]*interfaces.Wish),
	}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// PutWish inserts or replaces a wish.
func (s *Store) PutWish(w interfaces.Wish) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := w
	s.wishes[w.ID] = &cp
}

// DeleteWish removes a wish, leaving any jobs that reference it.
func (s *Store) DeleteWish(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.wishes, id)
}

// Wish returns a copy of the wish.
func (s *Store) Wish(id int64) (interfaces.Wish, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wishes[id]
	if !ok {
		return interfaces.Wish{}, false
	}
	return *w, true
}

// UpdateJob lets tests force a job into a given state.
func (s *Store) UpdateJob(id int64, fn func(j *interfaces.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	fn(j)
	return nil
}

// Jobs returns copies of all jobs ordered by id.
func (s *Store) Jobs() []interfaces.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]interfaces.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// --- JobStore ---

func (s *Store) Enqueue(_ context.Context, nj interfaces.NewJob) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(nj), nil
}

func (s *Store) insertLocked(nj interfaces.NewJob) int64 {
	now := s.now()
	runAt := now
	if nj.RunAt != nil {
		runAt = *nj.RunAt
	}
	s.nextID++
	s.jobs[s.nextID] = &interfaces.Job{
		ID:        s.nextID,
		Type:      nj.Type,
		Payload:   append(json.RawMessage(nil), nj.Payload...),
		Status:    interfaces.StatusQueued,
		Priority:  nj.Priority,
		RunAt:     runAt,
		CreatedAt: now,
	}
	return s.nextID
}

func (s *Store) EnqueueForWish(_ context.Context, wishID int64, priority int) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wishes[wishID]; !ok {
		return 0, false, interfaces.ErrNotFound
	}
	var existing int64
	for id, j := range s.jobs {
		if j.Type != jobs.TypeImageFetch || j.Status == interfaces.StatusCompleted {
			continue
		}
		if w, ok := payloadWishID(j.Payload); ok && w == wishID && (existing == 0 || id < existing) {
			existing = id
		}
	}
	if existing != 0 {
		return existing, false, nil
	}

	id := s.insertLocked(interfaces.NewJob{
		Type:     jobs.TypeImageFetch,
		Payload:  json.RawMessage(fmt.Sprintf(`{"wishId":%d}`, wishID)),
		Priority: priority,
	})
	return id, true, nil
}

func (s *Store) ClaimNext(_ context.Context, jobType string) (*interfaces.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var best *interfaces.Job
	for _, j := range s.jobs {
		if j.Type != jobType || !j.IsDue(now) {
			continue
		}
		if best == nil || j.Priority < best.Priority || (j.Priority == best.Priority && j.ID < best.ID) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = interfaces.StatusProcessing
	best.Attempts++
	started := now
	best.StartedAt = &started

	cp := *best
	return &cp, nil
}

func (s *Store) Complete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	finished := s.now()
	j.Status = interfaces.StatusCompleted
	j.FinishedAt = &finished
	j.LastError = nil
	return nil
}

func (s *Store) Fail(_ context.Context, id int64, reason string, retryDelay time.Duration, maxAttempts int) (interfaces.FailResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxAttempts <= 0 {
		maxAttempts = interfaces.DefaultMaxAttempts
	}
	j, ok := s.jobs[id]
	if !ok {
		return interfaces.FailResult{}, interfaces.ErrNotFound
	}

	if j.Attempts >= maxAttempts || retryDelay <= 0 {
		delete(s.jobs, id)
		return interfaces.FailResult{Outcome: interfaces.OutcomeDropped, Attempts: j.Attempts}, nil
	}

	backoff := interfaces.Backoff(retryDelay, j.Attempts)
	reason = interfaces.TruncateDiagnostic(reason)
	j.Status = interfaces.StatusQueued
	j.RunAt = s.now().Add(backoff)
	j.StartedAt = nil
	j.LastError = &reason
	return interfaces.FailResult{Outcome: interfaces.OutcomeRescheduled, Attempts: j.Attempts, RetryIn: backoff}, nil
}

func (s *Store) ReclaimZombies(_ context.Context, staleAfter time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-staleAfter)
	n := 0
	for _, j := range s.jobs {
		if j.Status != interfaces.StatusProcessing || j.StartedAt == nil || !j.StartedAt.Before(cutoff) {
			continue
		}
		j.Status = interfaces.StatusQueued
		j.RunAt = now
		j.StartedAt = nil
		n++
	}
	return n, nil
}

func (s *Store) CleanupOrphanedJobs(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, j := range s.jobs {
		if j.Type != jobs.TypeImageFetch {
			continue
		}
		wishID, ok := payloadWishID(j.Payload)
		if ok {
			if _, exists := s.wishes[wishID]; exists {
				continue
			}
		}
		delete(s.jobs, id)
		n++
	}
	return n, nil
}

func (s *Store) SeedImageFetchBatch(_ context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inFlight := make(map[int64]bool)
	for _, j := range s.jobs {
		if j.Type != jobs.TypeImageFetch || j.Status == interfaces.StatusCompleted {
			continue
		}
		if wishID, ok := payloadWishID(j.Payload); ok {
			inFlight[wishID] = true
		}
	}

	ids := make([]int64, 0, len(s.wishes))
	for id, w := range s.wishes {
		if w.NeedsImageFetch() && !inFlight[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	if limit >= 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	for _, id := range ids {
		s.insertLocked(interfaces.NewJob{
			Type:     jobs.TypeImageFetch,
			Payload:  json.RawMessage(fmt.Sprintf(`{"wishId":%d}`, id)),
			Priority: interfaces.DefaultPriority,
		})
	}
	return len(ids), nil
}

func (s *Store) GetStats(_ context.Context) (interfaces.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := interfaces.NewStats()
	for _, j := range s.jobs {
		stats[j.Status]++
	}
	return stats, nil
}

func (s *Store) GetJob(_ context.Context, id int64) (*interfaces.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) ListRecent(_ context.Context, limit int) ([]*interfaces.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*interfaces.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID > out[b].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return interfaces.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *Store) PurgeCompleted(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	n := 0
	for id, j := range s.jobs {
		if j.Status == interfaces.StatusCompleted && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// --- WishStore ---

func (s *Store) LockForImage(_ context.Context, id int64) (*interfaces.Wish, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wishes[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *Store) SaveImage(_ context.Context, id int64, img interfaces.StoredImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wishes[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	status := interfaces.ImageStatusOK
	w.ImagePath = &img.Path
	w.ImageMime = &img.Mime
	w.ImageBytes = &img.Bytes
	w.ImageWidth = &img.Width
	w.ImageHeight = &img.Height
	w.ImageHash = &img.Hash
	w.ImageStatus = &status
	w.ImageLastError = nil
	return nil
}

func (s *Store) MarkImageFailed(_ context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wishes[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	if w.ImageMode != interfaces.ImageModeLocal || (w.ImageStatus != nil && *w.ImageStatus == interfaces.ImageStatusOK) {
		return nil
	}
	status := interfaces.ImageStatusFailed
	reason = interfaces.TruncateDiagnostic(reason)
	w.ImageStatus = &status
	w.ImageLastError = &reason
	return nil
}

func payloadWishID(raw json.RawMessage) (int64, bool) {
	p, err := jobs.DecodePayload(jobs.TypeImageFetch, raw)
	if err != nil {
		return 0, false
	}
	return p.(jobs.ImageFetchPayload).WishID, true
}

var (
	_ interfaces.JobStore  = (*Store)(nil)
	_ interfaces.WishStore = (*Store)(nil)
)
