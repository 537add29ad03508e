// Package config loads and validates the gateway's startup configuration:
// server, accounts, routing rules, injection detection, memory retrieval,
// pricing, transcript storage, and inbound auth.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pearlgate/gateway/internal/auth"
	"github.com/pearlgate/gateway/internal/inject"
	"github.com/pearlgate/gateway/internal/memory"
	"github.com/pearlgate/gateway/internal/ratelimit"
	"github.com/pearlgate/gateway/internal/usage"
	"github.com/pearlgate/gateway/pkg/models"
)

// Config is the gateway's full startup configuration.
type Config struct {
	Server     ServerConfig       `yaml:"server"`
	Accounts   []models.Account   `yaml:"accounts"`
	Rules      []models.Rule      `yaml:"rules"`
	Detection  DetectionConfig    `yaml:"detection"`
	Memory     MemoryConfig       `yaml:"memory"`
	Pricing    usage.PricingTable `yaml:"pricing"`
	Transcript TranscriptConfig   `yaml:"transcript"`
	Auth       AuthConfig         `yaml:"auth"`
	Logging    LoggingConfig      `yaml:"logging"`
	// RateLimit configures inbound per-caller request throttling at the
	// HTTP boundary, distinct from the injection detector's ban window.
	RateLimit ratelimit.Config `yaml:"rate_limit"`
}

// ServerConfig configures the inbound HTTP listener.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DetectionConfig configures the injection detector.
type DetectionConfig struct {
	RegexEnabled     bool                                   `yaml:"regex_enabled"`
	HeuristicEnabled bool                                   `yaml:"heuristic_enabled"`
	LLMEnabled       bool                                   `yaml:"llm_enabled"`
	ActionMap        map[models.Severity]models.DetectionAction `yaml:"action_map"`
	BanWindow        ratelimit.BanConfig                    `yaml:"ban"`
	BypassTokens     []BypassTokenConfig                    `yaml:"bypass_tokens"`
}

// BypassTokenConfig is the YAML-level shape of inject.BypassToken.
type BypassTokenConfig struct {
	Token        string    `yaml:"token"`
	ValidUntil   time.Time `yaml:"valid_until"`
	MaxUses      int       `yaml:"max_uses"`
	AllowedUsers []string  `yaml:"allowed_users"`
}

// ToDetectorConfig converts the YAML-shaped detection config into
// inject.Config, filling ActionMap with spec defaults when unset.
func (d DetectionConfig) ToDetectorConfig() inject.Config {
	actionMap := d.ActionMap
	if actionMap == nil {
		actionMap = inject.DefaultActionMap()
	}
	tokens := make([]inject.BypassToken, len(d.BypassTokens))
	for i, t := range d.BypassTokens {
		tokens[i] = inject.BypassToken{Token: t.Token, ValidUntil: t.ValidUntil, MaxUses: t.MaxUses, AllowedUsers: t.AllowedUsers}
	}
	return inject.Config{
		RegexEnabled:     d.RegexEnabled,
		HeuristicEnabled: d.HeuristicEnabled,
		LLMEnabled:       d.LLMEnabled,
		ActionMap:        actionMap,
		BanConfig:        d.BanWindow,
		BypassTokens:     tokens,
	}
}

// MemoryConfig configures the memory retriever/augmenter.
type MemoryConfig struct {
	TokenBudget     int           `yaml:"token_budget"`
	RecencyBoost    bool          `yaml:"recency_boost"`
	HalfLife        time.Duration `yaml:"half_life"`
	MinScore        float64       `yaml:"min_score"`
	Limit           int           `yaml:"limit"`
	SessionCapacity int           `yaml:"session_capacity"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	// StoreDSN is the SQLite DSN backing the memory store, e.g.
	// "pearlgate-memory.db" or ":memory:". Defaults to ":memory:".
	StoreDSN string `yaml:"store_dsn"`
}

// ToAugmentOptions converts the YAML-shaped memory config into the default
// memory.AugmentOptions applied to every request.
func (m MemoryConfig) ToAugmentOptions() memory.AugmentOptions {
	return memory.AugmentOptions{
		RetrieveOptions: memory.RetrieveOptions{
			RecencyBoost: m.RecencyBoost,
			HalfLife:     m.HalfLife,
			MinScore:     m.MinScore,
			Limit:        m.Limit,
			TokenBudget:  m.TokenBudget,
			RecordAccess: true,
		},
	}
}

// TranscriptConfig configures append-only transcript storage.
type TranscriptConfig struct {
	Driver string `yaml:"driver"` // "sqlite", "postgres", or "" to disable
	DSN    string `yaml:"dsn"`
}

// AuthConfig configures the inbound API boundary.
type AuthConfig struct {
	APIKeyHeader string   `yaml:"api_key_header"`
	APIKeys      []string `yaml:"api_keys"`
	JWTSecret    string   `yaml:"jwt_secret"`
}

// ToAuthenticatorConfig converts the YAML-shaped auth config into auth.Config.
func (a AuthConfig) ToAuthenticatorConfig() auth.Config {
	return auth.Config{Header: a.APIKeyHeader, Keys: a.APIKeys, JWTSecret: a.JWTSecret}
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Load reads, expands, parses, defaults, and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config: %s must contain a single YAML document", path)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Auth.APIKeyHeader == "" {
		cfg.Auth.APIKeyHeader = "x-api-key"
	}
	if cfg.Detection.BanWindow == (ratelimit.BanConfig{}) {
		cfg.Detection.BanWindow = ratelimit.DefaultBanConfig()
	}
	if cfg.RateLimit == (ratelimit.Config{}) {
		cfg.RateLimit = ratelimit.DefaultConfig()
	}
	if cfg.Memory.Limit == 0 {
		cfg.Memory.Limit = 10
	}
	if cfg.Memory.MinScore == 0 {
		cfg.Memory.MinScore = 0.3
	}
	if cfg.Memory.HalfLife == 0 {
		cfg.Memory.HalfLife = 168 * time.Hour
	}
	if cfg.Memory.SessionCapacity == 0 {
		cfg.Memory.SessionCapacity = 10_000
	}
	if cfg.Memory.SessionTTL == 0 {
		cfg.Memory.SessionTTL = 24 * time.Hour
	}
	if cfg.Memory.StoreDSN == "" {
		cfg.Memory.StoreDSN = ":memory:"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	for i := range cfg.Accounts {
		if cfg.Accounts[i].Auth == "" {
			cfg.Accounts[i].Auth = models.AuthAPIKey
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Accounts) == 0 {
		return fmt.Errorf("config: at least one account must be configured")
	}
	seen := make(map[string]bool, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		if a.ID == "" {
			return fmt.Errorf("config: account missing id")
		}
		if seen[a.ID] {
			return fmt.Errorf("config: duplicate account id %q", a.ID)
		}
		seen[a.ID] = true
	}

	defaults := 0
	for _, r := range cfg.Rules {
		if r.Name == "" {
			return fmt.Errorf("config: rule missing name")
		}
		if !seen[r.Target] {
			return fmt.Errorf("config: rule %q targets unknown account %q", r.Name, r.Target)
		}
		if r.Match.Default {
			defaults++
		}
	}
	if defaults != 1 {
		return fmt.Errorf("config: rules must contain exactly one default:true rule, found %d", defaults)
	}

	switch cfg.Transcript.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported transcript driver %q", cfg.Transcript.Driver)
	}

	return nil
}
