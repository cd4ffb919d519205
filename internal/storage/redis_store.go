package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"ddosguard/pkg/models"
)

// RedisConfig configures Redis-backed persistence.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Retention time.Duration
	OpTimeout time.Duration
}

// RedisStore persists block records, metrics, and anomaly records in Redis.
// Every operation runs behind a circuit breaker with a short timeout, so a
// store outage degrades to fast logged failures instead of stalling callers.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	opTimeout time.Duration
	breaker   *gobreaker.CircuitBreaker
}

// NewRedisStore constructs a Redis persistence store and verifies
// connectivity.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "ddosguard"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 500 * time.Millisecond
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis persistence: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis-persistence",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &RedisStore{
		client:    client,
		prefix:    strings.TrimSpace(cfg.KeyPrefix),
		retention: cfg.Retention,
		opTimeout: cfg.OpTimeout,
		breaker:   breaker,
	}, nil
}

func (s *RedisStore) exec(fn func(ctx context.Context) error) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
		defer cancel()
		return nil, fn(ctx)
	})
	return err
}

// Upsert writes the block record keyed by source id.
func (s *RedisStore) Upsert(rec *models.BlockRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode block record: %w", err)
	}
	return s.exec(func(ctx context.Context) error {
		return s.client.HSet(ctx, s.blocksKey(), rec.SourceID, data).Err()
	})
}

// Get returns the block record for the source, or nil if absent.
func (s *RedisStore) Get(sourceID string) (*models.BlockRecord, error) {
	var raw string
	found := false
	err := s.exec(func(ctx context.Context) error {
		v, err := s.client.HGet(ctx, s.blocksKey(), sourceID).Result()
		if err == redis.Nil {
			// Absent records are not store failures; keep the breaker closed.
			return nil
		}
		if err != nil {
			return err
		}
		raw = v
		found = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read block record: %w", err)
	}
	if !found {
		return nil, nil
	}
	var rec models.BlockRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode block record: %w", err)
	}
	return &rec, nil
}

// ListActive returns all block records still active at the given time.
func (s *RedisStore) ListActive(now time.Time) ([]*models.BlockRecord, error) {
	var all map[string]string
	err := s.exec(func(ctx context.Context) error {
		v, err := s.client.HGetAll(ctx, s.blocksKey()).Result()
		if err != nil {
			return err
		}
		all = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list block records: %w", err)
	}

	out := make([]*models.BlockRecord, 0, len(all))
	for _, raw := range all {
		var rec models.BlockRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		if rec.Active(now) {
			out = append(out, &rec)
		}
	}
	return out, nil
}

// Delete removes the block record for the source.
func (s *RedisStore) Delete(sourceID string) error {
	return s.exec(func(ctx context.Context) error {
		return s.client.HDel(ctx, s.blocksKey(), sourceID).Err()
	})
}

// WriteMetrics appends window metrics to the metrics time series, trimming
// entries older than the retention horizon.
func (s *RedisStore) WriteMetrics(rows []*models.WindowMetrics) error {
	if len(rows) == 0 {
		return nil
	}
	return s.exec(func(ctx context.Context) error {
		pipe := s.client.Pipeline()
		for _, m := range rows {
			data, err := json.Marshal(m)
			if err != nil {
				continue
			}
			pipe.ZAdd(ctx, s.metricsKey(), redis.Z{Score: float64(m.Timestamp.Unix()), Member: data})
		}
		s.trim(ctx, pipe, s.metricsKey(), rows[len(rows)-1].Timestamp)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// WriteAnomalies appends anomaly records to the anomaly time series,
// trimming entries older than the retention horizon.
func (s *RedisStore) WriteAnomalies(rows []*models.AnomalyRecord) error {
	if len(rows) == 0 {
		return nil
	}
	return s.exec(func(ctx context.Context) error {
		pipe := s.client.Pipeline()
		for _, a := range rows {
			data, err := json.Marshal(a)
			if err != nil {
				continue
			}
			pipe.ZAdd(ctx, s.anomaliesKey(), redis.Z{Score: float64(a.Timestamp.Unix()), Member: data})
		}
		s.trim(ctx, pipe, s.anomaliesKey(), rows[len(rows)-1].Timestamp)
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (s *RedisStore) trim(ctx context.Context, pipe redis.Pipeliner, key string, latest time.Time) {
	cutoff := latest.Add(-s.retention).Unix()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff))
}

// Close closes Redis resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) blocksKey() string    { return s.prefix + ":blocks" }
func (s *RedisStore) metricsKey() string   { return s.prefix + ":metrics" }
func (s *RedisStore) anomaliesKey() string { return s.prefix + ":anomalies" }
