package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"stockfeed-service/internal/feed"

	"github.com/go-redis/redis/v8"
)

// latestTickExpiration keeps stale entries from outliving a trading day.
const latestTickExpiration = 24 * time.Hour

// RedisAdapter publishes live tick updates and caches the latest tick per
// token. It implements ingest.Publisher; everything here is best effort.
type RedisAdapter struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisAdapter connects to Redis using the given URL.
func NewRedisAdapter(redisURL string) (*RedisAdapter, error) {
	var client *redis.Client

	if redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	}

	adapter := &RedisAdapter{
		client: client,
		ctx:    context.Background(),
	}

	if err := adapter.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("✅ Redis adapter initialized successfully")
	return adapter, nil
}

// Ping tests the Redis connection.
func (ra *RedisAdapter) Ping() error {
	_, err := ra.client.Ping(ra.ctx).Result()
	return err
}

// PublishTick pushes one record onto the exchange's live channel.
func (ra *RedisAdapter) PublishTick(record feed.TickRecord) error {
	channel := fmt.Sprintf("ticks:live:%s", record.Exchange)

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal tick: %w", err)
	}

	if err := ra.client.Publish(ra.ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish tick: %w", err)
	}
	return nil
}

// CacheLatestTick stores the most recent tick for a token with expiration.
// Records without a token are skipped.
func (ra *RedisAdapter) CacheLatestTick(record feed.TickRecord) error {
	if record.Token == "" {
		return nil
	}
	key := fmt.Sprintf("tick:latest:%s:%s", record.Exchange, record.Token)

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal tick: %w", err)
	}

	if err := ra.client.Set(ra.ctx, key, data, latestTickExpiration).Err(); err != nil {
		return fmt.Errorf("failed to cache latest tick: %w", err)
	}
	return nil
}

// GetLatestTick returns the cached latest tick for a token, or nil on a
// cache miss.
func (ra *RedisAdapter) GetLatestTick(exchange, token string) (*feed.TickRecord, error) {
	key := fmt.Sprintf("tick:latest:%s:%s", exchange, token)

	data, err := ra.client.Get(ra.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest tick: %w", err)
	}

	var record feed.TickRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached tick: %w", err)
	}
	return &record, nil
}

// Close closes the Redis connection.
func (ra *RedisAdapter) Close() error {
	if err := ra.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	log.Printf("✅ Redis adapter closed")
	return nil
}
