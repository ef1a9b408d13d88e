// Package config loads and validates curatord configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Archive backends accepted by archive.backend.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	ScoreAPI   ScoreAPIConfig   `mapstructure:"scoreapi"`
	Automation AutomationConfig `mapstructure:"automation"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScoreAPIConfig points at the follower-score API.
type ScoreAPIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	UserAgent      string `mapstructure:"user_agent"`
	PageSize       int    `mapstructure:"page_size"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SeedConfig is a seed inserted at startup when absent.
type SeedConfig struct {
	ID     string `mapstructure:"id"`
	Handle string `mapstructure:"handle"`
}

// AutomationConfig governs run ordering, pacing and the trigger throttle.
type AutomationConfig struct {
	PriorityIDs    []string      `mapstructure:"priority_ids"`
	InterPageDelay time.Duration `mapstructure:"inter_page_delay"`
	InterSeedDelay time.Duration `mapstructure:"inter_seed_delay"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffCeiling time.Duration `mapstructure:"backoff_ceiling"`
	SeedTimeout    time.Duration `mapstructure:"seed_timeout"`
	TriggerRPS     float64       `mapstructure:"trigger_rps"`
	TriggerBurst   int           `mapstructure:"trigger_burst"`
	RunOnStart     bool          `mapstructure:"run_on_start"`
	Seeds          []SeedConfig  `mapstructure:"seeds"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// RedisConfig enables the cross-process run lease when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LeaseKey string        `mapstructure:"lease_key"`
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
}

// ArchiveConfig selects where raw follower pages are written.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TracingConfig selects the span exporter. An empty OTLPEndpoint keeps spans
// in process, where they only feed trace context into published summaries.
type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CURATORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("scoreapi.base_url", "")
	v.SetDefault("scoreapi.api_key", "")
	v.SetDefault("scoreapi.user_agent", "curatord/0.1")
	v.SetDefault("scoreapi.page_size", 100)
	v.SetDefault("scoreapi.timeout_seconds", 30)
	v.SetDefault("automation.priority_ids", []string{})
	v.SetDefault("automation.inter_page_delay", "2s")
	v.SetDefault("automation.inter_seed_delay", "2s")
	v.SetDefault("automation.backoff_base", "60s")
	v.SetDefault("automation.backoff_ceiling", "5m")
	v.SetDefault("automation.seed_timeout", "0s")
	v.SetDefault("automation.trigger_rps", 0.1)
	v.SetDefault("automation.trigger_burst", 1)
	v.SetDefault("automation.run_on_start", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.migrate", true)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lease_key", "curatord:automation:lease")
	v.SetDefault("redis.lease_ttl", "2m")
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "followers")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.ScoreAPI.BaseURL) == "" {
		return fmt.Errorf("scoreapi.base_url is required")
	}
	if c.ScoreAPI.PageSize <= 0 {
		return fmt.Errorf("scoreapi.page_size must be > 0")
	}
	if c.ScoreAPI.TimeoutSeconds <= 0 {
		return fmt.Errorf("scoreapi.timeout_seconds must be > 0")
	}

	a := c.Automation
	if a.InterPageDelay < 0 || a.InterSeedDelay < 0 {
		return fmt.Errorf("automation delays must be >= 0")
	}
	if a.BackoffBase <= 0 {
		return fmt.Errorf("automation.backoff_base must be > 0")
	}
	if a.BackoffCeiling < a.BackoffBase {
		return fmt.Errorf("automation.backoff_ceiling must be >= automation.backoff_base")
	}
	if a.SeedTimeout < 0 {
		return fmt.Errorf("automation.seed_timeout must be >= 0")
	}
	if a.TriggerRPS <= 0 || a.TriggerBurst <= 0 {
		return fmt.Errorf("automation.trigger_rps and automation.trigger_burst must be > 0")
	}
	for i, s := range a.Seeds {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("automation.seeds[%d].id is required", i)
		}
	}

	switch c.Archive.Backend {
	case "", ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
	}

	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Redis.Addr != "" && c.Redis.LeaseTTL <= 0 {
		return fmt.Errorf("redis.lease_ttl must be > 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// ScoreAPITimeout converts the per-request timeout into a duration.
func (c Config) ScoreAPITimeout() time.Duration {
	return time.Duration(c.ScoreAPI.TimeoutSeconds) * time.Second
}
