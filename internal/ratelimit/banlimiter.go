package ratelimit

import (
	"sync"
	"time"

	"github.com/pearlgate/gateway/pkg/models"
)

// BanConfig configures a BanLimiter.
type BanConfig struct {
	WindowSeconds int           `yaml:"windowSeconds" json:"windowSeconds"`
	MaxAttempts   int           `yaml:"maxAttempts" json:"maxAttempts"`
	BanDuration   time.Duration `yaml:"banDuration" json:"banDuration"`
}

// DefaultBanConfig mirrors reasonable injection-detector defaults.
func DefaultBanConfig() BanConfig {
	return BanConfig{WindowSeconds: 60, MaxAttempts: 5, BanDuration: 15 * time.Minute}
}

// BanLimiter tracks a sliding-window attempt count per key and bans keys
// that reach maxAttempts within the window, per spec §4.4. Distinct from
// Limiter: this counts attempts, not request throughput, and escalates to a
// hard ban rather than a refill delay.
type BanLimiter struct {
	mu     sync.Mutex
	states map[string]*models.RateLimitState
	config BanConfig
}

// NewBanLimiter creates a BanLimiter from config.
func NewBanLimiter(config BanConfig) *BanLimiter {
	if config.WindowSeconds <= 0 {
		config.WindowSeconds = 60
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	return &BanLimiter{states: make(map[string]*models.RateLimitState), config: config}
}

// RecordAttempt increments the attempt counter for key and returns the
// resulting state. If the sliding window has elapsed since firstAttempt,
// the counter resets. Reaching maxAttempts sets banned=true.
func (l *BanLimiter) RecordAttempt(key string, now time.Time) models.RateLimitState {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := time.Duration(l.config.WindowSeconds) * time.Second
	state, ok := l.states[key]
	if !ok {
		state = &models.RateLimitState{FirstAttempt: now}
		l.states[key] = state
	}

	if state.IsBanned(now) {
		state.Attempts++
		state.LastAttempt = now
		return *state
	}

	if now.Sub(state.FirstAttempt) > window {
		state.FirstAttempt = now
		state.Attempts = 0
		state.Banned = false
		state.BanExpiry = nil
	}

	state.Attempts++
	state.LastAttempt = now

	if state.Attempts >= l.config.MaxAttempts {
		state.Banned = true
		expiry := now.Add(l.config.BanDuration)
		state.BanExpiry = &expiry
	}

	return *state
}

// IsBanned reports whether key is currently banned, without recording an
// attempt.
func (l *BanLimiter) IsBanned(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.states[key]
	if !ok {
		return false
	}
	return state.IsBanned(now)
}

// Evict removes states whose last attempt is older than maxAge, called by a
// background sweep per spec §5.
func (l *BanLimiter) Evict(now time.Time, maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, state := range l.states {
		if now.Sub(state.LastAttempt) > maxAge {
			delete(l.states, key)
		}
	}
}
