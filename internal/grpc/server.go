package grpc

import (
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mtr002/wishlist-jobs/internal/logger"
)

// WorkerService is the service name reported alongside the overall ("") status.
const WorkerService = "wishjobs.Worker"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer serves grpc.health.v1 and flips status with the database.
type HealthServer struct {
	srv      *grpc.Server
	health   *health.Server
	db       Pinger
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewHealthServer(db Pinger, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := &HealthServer{
		srv:      grpc.NewServer(),
		health:   health.NewServer(),
		db:       db,
		interval: interval,
		stop:     make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.check()
	s.wg.Add(1)
	go s.loop()
	return s
}

// Serve blocks serving lis until Stop.
func (s *HealthServer) Serve(lis net.Listener) error {
	logger.Logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server listening")
	return s.srv.Serve(lis)
}

func (s *HealthServer) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *HealthServer) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.db.Ping(ctx); err != nil {
		logger.Logger.Warn().Err(err).Msg("Database ping failed, reporting NOT_SERVING")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(WorkerService, status)
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs.
func (s *HealthServer) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.health.Shutdown()
	s.srv.GracefulStop()
}
