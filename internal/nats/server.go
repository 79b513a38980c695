package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/mtr002/wishlist-jobs/internal/logger"
)

// Enqueuer is satisfied by *jobs.Manager.
type Enqueuer interface {
	EnqueueImageFetch(ctx context.Context, wishID int64, source string) (int64, bool, error)
}

type Server struct {
	conn     *nats.Conn
	sub      *nats.Subscription
	enqueuer Enqueuer
}

func NewServer(url string, enqueuer Enqueuer) (*Server, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url, nats.Name("wishjobs-consumer"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Server{
		conn:     conn,
		enqueuer: enqueuer,
	}, nil
}

// Subscribe starts consuming image requests in the worker queue group.
func (s *Server) Subscribe() error {
	sub, err := s.conn.QueueSubscribe(ImageRequestSubject, WorkerQueue, func(msg *nats.Msg) {
		reply := s.handle(msg.Data)
		if msg.Reply == "" {
			return
		}
		data, _ := json.Marshal(reply)
		if err := msg.Respond(data); err != nil {
			logger.Logger.Warn().Err(err).Msg("Failed to reply to image request")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to NATS: %w", err)
	}

	s.sub = sub
	return nil
}

func (s *Server) handle(data []byte) ImageRequestReply {
	req, err := decodeImageRequest(data)
	if err != nil {
		logger.Logger.Warn().Err(err).Msg("Dropping image request")
		return ImageRequestReply{Error: err.Error()}
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	log := logger.WithCorrelationID(req.CorrelationID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, created, err := s.enqueuer.EnqueueImageFetch(ctx, req.WishID, "nats")
	if err != nil {
		log.Error().Err(err).Int64("wish_id", req.WishID).Msg("Failed to enqueue image request")
		return ImageRequestReply{Error: err.Error()}
	}
	log.Info().Int64("wish_id", req.WishID).Int64("job_id", id).Bool("created", created).Msg("Image request queued")
	return ImageRequestReply{JobID: id, Existing: !created}
}

func (s *Server) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}
