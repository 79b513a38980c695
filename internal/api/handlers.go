package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mtr002/wishlist-jobs/internal/api/response"
	"github.com/mtr002/wishlist-jobs/internal/interfaces"
	"github.com/mtr002/wishlist-jobs/internal/logger"
)

const defaultListLimit = 20

type handlers struct {
	deps Dependencies
}

type jobView struct {
	*interfaces.Job
	CachedStatus string `json:"cached_status,omitempty"`
}

type batchView struct {
	*interfaces.BatchReport
	Message string `json:"message"`
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			response.Error(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 500", nil)
			return
		}
		limit = n
	}

	list, err := h.deps.Manager.ListRecent(r.Context(), limit)
	if err != nil {
		h.internalError(w, r, err, "Failed to list jobs")
		return
	}
	if list == nil {
		list = []*interfaces.Job{}
	}
	response.Collection(w, list, response.Meta{Limit: limit, Count: len(list)})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Manager.Stats(r.Context())
	if err != nil {
		h.internalError(w, r, err, "Failed to read stats")
		return
	}
	response.JSON(w, stats)
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	job, err := h.deps.Manager.GetJob(r.Context(), id)
	if errors.Is(err, interfaces.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		return
	}
	if err != nil {
		h.internalError(w, r, err, "Failed to get job")
		return
	}

	view := jobView{Job: job}
	if status, found, err := h.deps.Cache.GetJobStatus(r.Context(), id); err == nil && found {
		view.CachedStatus = status
	}
	response.JSON(w, view)
}

func (h *handlers) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	err := h.deps.Manager.Delete(r.Context(), id)
	if errors.Is(err, interfaces.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		return
	}
	if err != nil {
		h.internalError(w, r, err, "Failed to delete job")
		return
	}
	response.JSON(w, map[string]int64{"deleted": id})
}

// runBatch runs one bounded batch inline and returns its report.
func (h *handlers) runBatch(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runner == nil {
		response.Error(w, http.StatusServiceUnavailable, "NO_RUNNER", "Batch runner not configured", nil)
		return
	}

	// The batch is bounded by its own budget; a client hanging up must not abort it.
	report, err := h.deps.Runner.RunBatch(context.WithoutCancel(r.Context()), OnDemandMaxJobs, OnDemandMaxDuration)
	if err != nil {
		logger.WithCorrelationID(getCorrelationID(r.Context())).Error().Err(err).Msg("On-demand batch failed")
		response.Error(w, http.StatusInternalServerError, "BATCH_FAILED", err.Error(), batchView{BatchReport: report, Message: report.Message()})
		return
	}
	response.JSON(w, batchView{BatchReport: report, Message: report.Message()})
}

// cleanup purges completed jobs older than ?days=N, or the configured retention.
func (h *handlers) cleanup(w http.ResponseWriter, r *http.Request) {
	olderThan := h.deps.Retention
	if v := r.URL.Query().Get("days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_DAYS", "days must be a non-negative integer", nil)
			return
		}
		olderThan = time.Duration(days) * 24 * time.Hour
	}

	n, err := h.deps.Manager.PurgeCompleted(r.Context(), olderThan)
	if err != nil {
		h.internalError(w, r, err, "Failed to clean up jobs")
		return
	}
	response.JSON(w, map[string]any{"deleted": n, "olderThan": olderThan.String()})
}

func (h *handlers) lastRun(w http.ResponseWriter, r *http.Request) {
	report, found, err := h.deps.Cache.LastReport(r.Context())
	if err != nil {
		h.internalError(w, r, err, "Failed to read last batch")
		return
	}
	if !found {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "No batch has run yet", nil)
		return
	}
	response.JSON(w, batchView{BatchReport: report, Message: report.Message()})
}

func (h *handlers) requestImage(w http.ResponseWriter, r *http.Request) {
	wishID, ok := parseID(w, r)
	if !ok {
		return
	}

	id, created, err := h.deps.Manager.EnqueueImageFetch(r.Context(), wishID, "api")
	if errors.Is(err, interfaces.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Wish not found", nil)
		return
	}
	if err != nil {
		h.internalError(w, r, err, "Failed to enqueue image fetch")
		return
	}
	body := map[string]any{"jobId": id, "wishId": wishID, "created": created}
	if !created {
		response.JSON(w, body)
		return
	}
	response.Created(w, body)
}

func (h *handlers) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logger.WithCorrelationID(getCorrelationID(r.Context())).Error().Err(err).Msg(msg)
	response.Error(w, http.StatusInternalServerError, "INTERNAL", msg, nil)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(w, http.StatusBadRequest, "INVALID_ID", "id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}
