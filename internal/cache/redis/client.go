package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/errorpulse/backend/internal/metrics"
	"github.com/errorpulse/backend/pkg/logger"
)

// Client caches aggregator snapshots so bursts of dashboard stat requests
// don't each re-run the bucket queries. The server runs fine without it.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db, statsTTLSec int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if statsTTLSec <= 0 {
		statsTTLSec = 5
	}

	logger.Info("Redis stats cache initialized",
		zap.String("addr", fmt.Sprintf("%s:%d", host, port)),
		zap.Int("stats_ttl_sec", statsTTLSec),
	)

	return &Client{
		client: client,
		ttl:    time.Duration(statsTTLSec) * time.Second,
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func statsKey(windowMs int64) string {
	return fmt.Sprintf("stats:%d", windowMs)
}

func (c *Client) GetStats(ctx context.Context, windowMs int64, out interface{}) (bool, error) {
	data, err := c.client.Get(ctx, statsKey(windowMs)).Bytes()
	if err == redis.Nil {
		metrics.StatsCacheMisses.Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get stats cache: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached stats: %w", err)
	}

	metrics.StatsCacheHits.Inc()
	logger.Debug("Stats cache hit", zap.Int64("window_ms", windowMs))
	return true, nil
}

func (c *Client) SetStats(ctx context.Context, windowMs int64, stats interface{}) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	err = c.client.Set(ctx, statsKey(windowMs), data, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set stats cache: %w", err)
	}

	return nil
}

// Invalidate drops every cached stats snapshot. Called on bulk clear so
// clients never see pre-clear numbers.
func (c *Client) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "stats:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Stats cache invalidated")
	return nil
}
