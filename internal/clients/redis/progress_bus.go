package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/movescan/movescan-backend/internal/logger"
)

// ProgressEvent is what the worker publishes as a job advances. Consumers
// (SSE bridges, dashboards) subscribe to the channel and fan out.
type ProgressEvent struct {
	JobID    string `json:"job_id"`
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

type ProgressBus interface {
	Publish(ctx context.Context, event ProgressEvent) error
	Close() error
}

type progressBus struct {
	log     *logger.Logger
	client  *goredis.Client
	channel string
}

// NewProgressBus connects to Redis from REDIS_ADDR / REDIS_PASSWORD /
// REDIS_CHANNEL. Publishing is best-effort; callers should log failures
// and keep the job running.
func NewProgressBus(log *logger.Logger) (ProgressBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		addr = "localhost:6379"
	}
	channel := strings.TrimSpace(os.Getenv("REDIS_CHANNEL"))
	if channel == "" {
		channel = "movescan:job-progress"
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &progressBus{
		log:     log.With("client", "ProgressBus"),
		client:  client,
		channel: channel,
	}, nil
}

func (b *progressBus) Publish(ctx context.Context, event ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.log.Warn("progress publish failed",
			"job_id", event.JobID,
			"stage", event.Stage,
			"error", err.Error(),
		)
		return err
	}
	return nil
}

func (b *progressBus) Close() error {
	return b.client.Close()
}
