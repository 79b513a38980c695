package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mtr002/wishlist-jobs/internal/interfaces"
)

// JobStatusTTL bounds how long per-job outcomes stay readable.
const JobStatusTTL = 24 * time.Hour

// Cache records the most recent batch report and per-job outcomes for the admin API.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	BatchFinished(ctx context.Context, report *interfaces.BatchReport) error
	LastReport(ctx context.Context) (*interfaces.BatchReport, bool, error)
	SetJobStatus(ctx context.Context, jobID int64, status string) error
	GetJobStatus(ctx context.Context, jobID int64) (string, bool, error)
	Close() error
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) BatchFinished(ctx context.Context, report *interfaces.BatchReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal batch report: %w", err)
	}
	return c.client.Set(ctx, LastBatchKey, data, 0).Err()
}

func (c *RedisCache) LastReport(ctx context.Context) (*interfaces.BatchReport, bool, error) {
	data, err := c.client.Get(ctx, LastBatchKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var report interfaces.BatchReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, false, fmt.Errorf("decode batch report: %w", err)
	}
	return &report, true, nil
}

func (c *RedisCache) SetJobStatus(ctx context.Context, jobID int64, status string) error {
	return c.client.Set(ctx, JobStatusKey(jobID), status, JobStatusTTL).Err()
}

func (c *RedisCache) GetJobStatus(ctx context.Context, jobID int64) (string, bool, error) {
	val, err := c.client.Get(ctx, JobStatusKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Nop is used when REDIS_URL is unset. Writes are dropped and reads miss.
type Nop struct{}

func (Nop) Ping(context.Context) error { return nil }
func (Nop) Close() error { return nil }

func (Nop) BatchFinished(context.Context, *interfaces.BatchReport) error { return nil }

func (Nop) LastReport(context.Context) (*interfaces.BatchReport, bool, error) {
	return nil, false, nil
}

func (Nop) SetJobStatus(context.Context, int64, string) error { return nil }

func (Nop) GetJobStatus(context.Context, int64) (string, bool, error) {
	return "", false, nil
}

var (
	_ Cache = (*RedisCache)(nil)
	_ Cache = Nop{}
)
