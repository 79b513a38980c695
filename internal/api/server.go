package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mtr002/wishlist-jobs/internal/logger"
)

type Server struct {
	srv *http.Server
}

func NewServer(handler http.Handler, port int) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) Start() error {
	logger.Logger.Info().Str("addr", s.srv.Addr).Msg("Starting admin server")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
