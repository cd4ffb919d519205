package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"ddosguard/internal/logger"
	"ddosguard/pkg/models"
)

// Config configures the Redis consumer.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	BlockTimeout time.Duration
}

// Consumer pops RequestEvents off a Redis list. Payloads are JSON-encoded
// RequestEvent objects; malformed payloads are dropped with a warning rather
// than surfaced as errors, so one bad producer cannot stall ingestion.
type Consumer struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
}

// NewConsumer creates a Redis consumer for list-based event queues.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Consumer{
		client:       client,
		key:          cfg.Key,
		blockTimeout: cfg.BlockTimeout,
	}, nil
}

// Pop blocks for up to the configured timeout and returns the next decoded
// event. A nil event with nil error means there was nothing to read (timeout
// or a dropped malformed payload).
func (c *Consumer) Pop(ctx context.Context) (*models.RequestEvent, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}

	var ev models.RequestEvent
	if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
		logger.Warnf("redis consumer: dropped malformed event payload: %v", err)
		return nil, nil
	}
	return &ev, nil
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}
