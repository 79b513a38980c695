package interfaces

import (
	"fmt"
	"strings"
	"time"
)

// BatchReport summarizes one bounded worker batch.
type BatchReport struct {
	BatchID          string        `json:"batchId"`
	StartedAt        time.Time     `json:"startedAt"`
	Duration         time.Duration `json:"duration"`
	ZombiesReclaimed int           `json:"zombiesReclaimed"`
	OrphansCleaned   int           `json:"orphansCleaned"`
	JobsSeeded       int           `json:"jobsSeeded"`
	JobsProcessed    int           `json:"jobsProcessed"`
	Succeeded        int           `json:"succeeded"`
	Failed           int           `json:"failed"`
	Dropped          int           `json:"dropped"`
	// NoMoreJobs is set when the loop stopped because nothing was due.
	NoMoreJobs bool     `json:"noMoreJobs"`
	Errors     []string `json:"errors,omitempty"`
}

// Message renders the report the way the admin page shows it.
func (r *BatchReport) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reclaimed %d zombie job(s), cleaned %d orphaned job(s), seeded %d job(s), processed %d job(s).",
		r.ZombiesReclaimed, r.OrphansCleaned, r.JobsSeeded, r.JobsProcessed)
	if len(r.Errors) > 0 {
		b.WriteString(" Errors: ")
		b.WriteString(strings.Join(r.Errors, "; "))
	}
	return b.String()
}
