package nats

import (
	"encoding/json"
	"fmt"

	"github.com/mtr002/wishlist-jobs/internal/interfaces"
)

const (
	// ImageRequestSubject carries requests from the wishlist app to fetch a wish image now.
	ImageRequestSubject = "wishes.image.requested"
	// BatchCompletedSubject carries a report after every worker batch.
	BatchCompletedSubject = "jobs.batch.completed"
	// WorkerQueue spreads image requests across subscribed workers.
	WorkerQueue = "wishjobs-workers"
)

type ImageRequestMessage struct {
	WishID        int64  `json:"wishId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// ImageRequestReply carries the job id, which belongs to an earlier in-flight job
// when Existing is set.
type ImageRequestReply struct {
	JobID    int64  `json:"jobId,omitempty"`
	Existing bool   `json:"existing,omitempty"`
	Error    string `json:"error,omitempty"`
}

type BatchCompletedMessage struct {
	Report  *interfaces.BatchReport `json:"report"`
	Message string                  `json:"message"`
}

func decodeImageRequest(data []byte) (*ImageRequestMessage, error) {
	var msg ImageRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid image request: %w", err)
	}
	if msg.WishID <= 0 {
		return nil, fmt.Errorf("invalid image request: wishId must be positive")
	}
	return &msg, nil
}
