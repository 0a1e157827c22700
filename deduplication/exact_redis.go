package deduplication

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisExactConfig configures the Redis-backed exact filter
type RedisExactConfig struct {
	Addr     string // e.g. localhost:6379
	Password string
	DB       int
	Key      string // redis set holding seen hashes
	TTL      time.Duration
	// OpTimeout bounds each Redis round trip
	OpTimeout time.Duration
}

// RedisExactFilter persists seen hashes in a Redis set so exact matches
// survive restarts and can be shared between workers.
type RedisExactFilter struct {
	client    *redis.Client
	key       string
	ttl       time.Duration
	opTimeout time.Duration
	logger    zerolog.Logger
}

// NewRedisExactFilter creates the filter and verifies connectivity
func NewRedisExactFilter(cfg RedisExactConfig, logger zerolog.Logger) (*RedisExactFilter, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.Key == "" {
		cfg.Key = "newsdedup:exact"
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return newRedisExactFilter(client, cfg, logger), nil
}

func newRedisExactFilter(client *redis.Client, cfg RedisExactConfig, logger zerolog.Logger) *RedisExactFilter {
	return &RedisExactFilter{
		client:    client,
		key:       cfg.Key,
		ttl:       cfg.TTL,
		opTimeout: cfg.OpTimeout,
		logger:    logger.With().Str("component", "exact_redis").Logger(),
	}
}

// IsExactDuplicate adds the key hash with SADD; a zero reply means it was
// already a member. Redis failures count as "not seen".
func (r *RedisExactFilter) IsExactDuplicate(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	member := strconv.FormatUint(ExactHash(key), 16)
	added, err := r.client.SAdd(ctx, r.key, member).Result()
	if err != nil {
		r.logger.Warn().Err(err).Msg("exact filter lookup failed; treating as unseen")
		return false
	}

	// Sliding window TTL: the set lives for ttl after the most recent insert
	if added > 0 && r.ttl > 0 {
		if err := r.client.Expire(ctx, r.key, r.ttl).Err(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to refresh exact filter ttl")
		}
	}
	return added == 0
}

// Len reports the set cardinality, or 0 when Redis is unreachable
func (r *RedisExactFilter) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()
	n, err := r.client.SCard(ctx, r.key).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close closes the underlying Redis client
func (r *RedisExactFilter) Close() error {
	return r.client.Close()
}
