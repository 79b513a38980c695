package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtr002/wishlist-jobs/internal/api/response"
	"github.com/mtr002/wishlist-jobs/internal/cache"
	"github.com/mtr002/wishlist-jobs/internal/interfaces"
	"github.com/mtr002/wishlist-jobs/internal/jobs"
	"github.com/mtr002/wishlist-jobs/internal/logger"
	"github.com/mtr002/wishlist-jobs/internal/websocket"
)

// On-demand batches use the same budget as the admin "run jobs" button.
const (
	OnDemandMaxJobs     = 5
	OnDemandMaxDuration = 8 * time.Second
)

// BatchRunner is satisfied by *worker.Runner.
type BatchRunner interface {
	RunBatch(ctx context.Context, maxJobs int, maxDuration time.Duration) (*interfaces.BatchReport, error)
}

// Dependencies holds everything the admin router needs.
type Dependencies struct {
	Manager   *jobs.Manager
	Runner    BatchRunner
	Cache     cache.Cache
	Hub       *websocket.Hub
	DB        Pinger
	Retention time.Duration
}

type ctxKey string

const correlationIDKey ctxKey = "correlation_id"

// NewRouter builds the chi router with middleware and all routes.
func NewRouter(deps Dependencies) http.Handler {
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	if deps.Retention <= 0 {
		deps.Retention = 7 * 24 * time.Hour
	}
	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(correlationMiddleware)

	r.Get("/health", HandleHealth)
	r.Get("/health/ready", HandleReadiness(deps.DB))
	r.Get("/health/live", HandleLiveness)
	r.Handle("/metrics", promhttp.Handler())

	if deps.Hub != nil {
		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			websocket.HandleWebSocket(deps.Hub, w, r)
		})
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/jobs", h.listJobs)
		r.Get("/jobs/stats", h.stats)
		r.Get("/jobs/last-run", h.lastRun)
		r.Post("/jobs/run", h.runBatch)
		r.Post("/jobs/cleanup", h.cleanup)
		r.Get("/jobs/{id}", h.getJob)
		r.Delete("/jobs/{id}", h.deleteJob)
		r.Post("/wishes/{id}/image", h.requestImage)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})

	return r
}

func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", correlationID)
		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)

		logger.WithCorrelationID(correlationID).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Received request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}
