package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pearlgate/gateway/pkg/models"
)

// RedisBanStore is a distributed alternative to BanLimiter's in-process map,
// for deployments running more than one gateway instance against the same
// RateLimitStore (spec §5). Keys carry their own TTL, so entries older than
// the window age out of Redis without a separate sweep goroutine.
type RedisBanStore struct {
	client *redis.Client
	config BanConfig
	prefix string
}

// RedisBanStoreConfig configures the Redis connection for RedisBanStore.
type RedisBanStoreConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces this store's keys, default "pearlgate:ban:".
	KeyPrefix string
}

// NewRedisBanStore connects to Redis and returns a RedisBanStore.
func NewRedisBanStore(cfg RedisBanStoreConfig, banConfig BanConfig) (*RedisBanStore, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ratelimit: connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "pearlgate:ban:"
	}
	if banConfig.WindowSeconds <= 0 {
		banConfig.WindowSeconds = 60
	}
	if banConfig.MaxAttempts <= 0 {
		banConfig.MaxAttempts = 5
	}

	return &RedisBanStore{client: client, config: banConfig, prefix: prefix}, nil
}

func (s *RedisBanStore) key(k string) string {
	return s.prefix + k
}

// RecordAttempt mirrors BanLimiter.RecordAttempt against Redis-backed state.
func (s *RedisBanStore) RecordAttempt(ctx context.Context, key string, now time.Time) (models.RateLimitState, error) {
	window := time.Duration(s.config.WindowSeconds) * time.Second

	state, err := s.load(ctx, key)
	if err != nil {
		return models.RateLimitState{}, err
	}
	if state == nil {
		state = &models.RateLimitState{FirstAttempt: now}
	}

	if !state.IsBanned(now) && now.Sub(state.FirstAttempt) > window {
		state.FirstAttempt = now
		state.Attempts = 0
		state.Banned = false
		state.BanExpiry = nil
	}

	state.Attempts++
	state.LastAttempt = now
	if !state.Banned && state.Attempts >= s.config.MaxAttempts {
		state.Banned = true
		expiry := now.Add(s.config.BanDuration)
		state.BanExpiry = &expiry
	}

	ttl := window
	if state.Banned && s.config.BanDuration > ttl {
		ttl = s.config.BanDuration
	}
	if err := s.save(ctx, key, state, ttl); err != nil {
		return models.RateLimitState{}, err
	}
	return *state, nil
}

// IsBanned reports whether key currently carries an active ban.
func (s *RedisBanStore) IsBanned(ctx context.Context, key string, now time.Time) (bool, error) {
	state, err := s.load(ctx, key)
	if err != nil {
		return false, err
	}
	return state.IsBanned(now), nil
}

func (s *RedisBanStore) load(ctx context.Context, key string) (*models.RateLimitState, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ratelimit: load %s: %w", key, err)
	}
	var state models.RateLimitState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("ratelimit: decode %s: %w", key, err)
	}
	return &state, nil
}

func (s *RedisBanStore) save(ctx context.Context, key string, state *models.RateLimitState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("ratelimit: encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("ratelimit: save %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *RedisBanStore) Close() error {
	return s.client.Close()
}
