package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/mtr002/wishlist-jobs/internal/interfaces"
)

type Client struct {
	conn *nats.Conn
}

func NewClient(url string) (*Client, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url, nats.Name("wishjobs-publisher"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{conn: conn}, nil
}

// PublishImageRequest asks any subscribed worker to queue an image fetch for wishID.
func (c *Client) PublishImageRequest(msg *ImageRequestMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal image request: %w", err)
	}

	if err := c.conn.Publish(ImageRequestSubject, data); err != nil {
		return fmt.Errorf("failed to publish image request: %w", err)
	}

	return nil
}

// BatchFinished publishes the report on BatchCompletedSubject.
func (c *Client) BatchFinished(_ context.Context, report *interfaces.BatchReport) error {
	data, err := json.Marshal(BatchCompletedMessage{Report: report, Message: report.Message()})
	if err != nil {
		return fmt.Errorf("failed to marshal batch report: %w", err)
	}

	if err := c.conn.Publish(BatchCompletedSubject, data); err != nil {
		return fmt.Errorf("failed to publish batch report: %w", err)
	}

	return nil
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
