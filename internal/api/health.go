package api

import (
	"context"
	"net/http"
	"time"

	"github.com/mtr002/wishlist-jobs/internal/api/response"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

type ReadinessResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Database  string    `json:"database"`
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

const serviceName = "wishjobs-admin"

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   serviceName,
	})
}

// HandleReadiness reports 503 while the database is unreachable.
func HandleReadiness(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := ReadinessResponse{
			Status:    "ready",
			Timestamp: time.Now(),
			Service:   serviceName,
			Database:  "unknown",
		}
		if db == nil {
			response.JSON(w, resp)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			resp.Status = "not ready"
			resp.Database = "disconnected"
			response.Error(w, http.StatusServiceUnavailable, "NOT_READY", "Database is unreachable", resp)
			return
		}

		resp.Database = "connected"
		response.JSON(w, resp)
	}
}

func HandleLiveness(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, HealthResponse{
		Status:    "alive",
		Timestamp: time.Now(),
		Service:   serviceName,
	})
}
