package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TypeImageFetch downloads and stores the image of a wish in local image mode.
const TypeImageFetch = "image.fetch"

var (
	ErrMalformedPayload = errors.New("malformed job payload")
	ErrUnknownJobType   = errors.New("unknown job type")
)

// Payload is the typed body of a job. Each job type has exactly one payload struct.
type Payload interface {
	JobType() string
	validate() error
}

// ImageFetchPayload is the body of an image.fetch job.
type ImageFetchPayload struct {
	WishID int64 `json:"wishId"`
}

func (ImageFetchPayload) JobType() string { return TypeImageFetch }

func (p ImageFetchPayload) validate() error {
	if p.WishID <= 0 {
		return fmt.Errorf("%w: missing wishId", ErrMalformedPayload)
	}
	return nil
}

// EncodePayload validates p and returns its JSON form.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.JobType(), err)
	}
	return data, nil
}

// DecodePayload turns a stored payload into the struct registered for jobType.
func DecodePayload(jobType string, raw json.RawMessage) (Payload, error) {
	switch jobType {
	case TypeImageFetch:
		var p ImageFetchPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
}
