package worker

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/mtr002/wishlist-jobs/internal/logger"
	"github.com/mtr002/wishlist-jobs/internal/metrics"
)

// PoolConfig controls the scheduled batches.
type PoolConfig struct {
	WorkerCount int
	// Schedule is a cron spec, e.g. "@every 1m".
	Schedule    string
	MaxJobs     int
	MaxDuration time.Duration
}

// Pool runs WorkerCount concurrent batches on every tick of a cron schedule. A tick is
// skipped while the previous one is still running.
type Pool struct {
	runner *Runner
	cfg    PoolConfig
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewPool creates a new scheduled worker pool
func NewPool(runner *Runner, cfg PoolConfig) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{}
	return &Pool{
		runner: runner,
		cfg:    cfg,
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers the schedule and begins running batches.
func (p *Pool) Start() error {
	if _, err := p.cron.AddFunc(p.cfg.Schedule, p.tick); err != nil {
		return err
	}
	logger.Logger.Info().
		Int("worker_count", p.cfg.WorkerCount).
		Str("schedule", p.cfg.Schedule).
		Int("max_jobs", p.cfg.MaxJobs).
		Dur("max_duration", p.cfg.MaxDuration).
		Msg("Starting worker pool")
	p.cron.Start()
	return nil
}

// Stop gracefully shuts down the worker pool
func (p *Pool) Stop() {
	logger.Logger.Info().Msg("Stopping worker pool")
	done := p.cron.Stop()
	p.cancel()
	<-done.Done()
	metrics.ActiveWorkers.Set(0)
	logger.Logger.Info().Msg("Worker pool stopped")
}

func (p *Pool) tick() {
	if err := p.RunOnce(p.ctx); err != nil && p.ctx.Err() == nil {
		logger.Logger.Error().Err(err).Msg("Scheduled batch failed")
	}
}

// RunOnce runs WorkerCount batches concurrently against the shared store and waits for
// them. The first store error is returned once every batch has finished.
func (p *Pool) RunOnce(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	metrics.ActiveWorkers.Set(float64(p.cfg.WorkerCount))
	defer metrics.ActiveWorkers.Set(0)

	// Batches are independent; one failing must not cancel the others.
	var g errgroup.Group
	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := i
		g.Go(func() error {
			report, err := p.runner.RunBatch(ctx, p.cfg.MaxJobs, p.cfg.MaxDuration)
			if err != nil {
				logger.WithBatchID(report.BatchID).Error().Int("worker_id", workerID).Err(err).Msg("Batch aborted")
				return err
			}
			logger.WithBatchID(report.BatchID).Debug().Int("worker_id", workerID).Msg(report.Message())
			return nil
		})
	}
	return g.Wait()
}

// cronLogger routes cron's own logging into zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
