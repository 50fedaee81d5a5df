// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	DB         DBConfig         `mapstructure:"db"`
	Search     SearchConfig     `mapstructure:"search"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	MaxPendingJobs int `mapstructure:"max_pending_jobs"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_minutes"`
}

// SearchConfig configures the search provider adapter.
type SearchConfig struct {
	APIKeys        []string `mapstructure:"api_keys"`
	MaxResults     int      `mapstructure:"max_results"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// LLMConfig governs language model selection and content validation.
type LLMConfig struct {
	APIKey         string   `mapstructure:"api_key"`
	Models         []string `mapstructure:"models"`
	Temperature    float64  `mapstructure:"temperature"`
	MaxTokens      int      `mapstructure:"max_tokens"`
	MinLength      int      `mapstructure:"min_length"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// DispatcherConfig bounds each dispatcher tick.
type DispatcherConfig struct {
	BatchSize         int `mapstructure:"batch_size"`
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds"`
}

// ReconcilerConfig sets the client poller cadences.
type ReconcilerConfig struct {
	FastIntervalSeconds int `mapstructure:"fast_interval_seconds"`
	SlowIntervalSeconds int `mapstructure:"slow_interval_seconds"`
	RecentWindowSeconds int `mapstructure:"recent_window_seconds"`
}

// PubSubConfig holds metadata for completion event notifications.
// Empty project/topic disables the Pub/Sub publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRIVENER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvKeys(v)

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

	// Comma-separated env form, e.g. SCRIVENER_SEARCH_API_KEYS=k1,k2.
	cfg.Search.APIKeys = splitCommaLists(cfg.Search.APIKeys)
	cfg.LLM.Models = splitCommaLists(cfg.LLM.Models)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_pending_jobs", 100)
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.timeout_seconds", 30)
	v.SetDefault("llm.models", []string{"gpt-4o-mini", "gpt-4o"})
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.min_length", 100)
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("dispatcher.batch_size", 5)
	v.SetDefault("dispatcher.job_timeout_seconds", 120)
	v.SetDefault("reconciler.fast_interval_seconds", 5)
	v.SetDefault("reconciler.slow_interval_seconds", 60)
	v.SetDefault("reconciler.recent_window_seconds", 60)
	v.SetDefault("logging.development", true)
}

// bindEnvKeys registers every key that lacks a default so AutomaticEnv
// exposes it to Unmarshal. Without an explicit binding Viper only
// resolves env values for keys it already knows about.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"auth.enabled",
		"auth.api_key",
		"db.dsn",
		"db.max_conns",
		"db.min_conns",
		"db.max_conn_lifetime_minutes",
		"search.api_keys",
		"llm.api_key",
		"pubsub.project_id",
		"pubsub.topic_name",
	} {
		v.MustBindEnv(key)
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxPendingJobs <= 0 {
		return fmt.Errorf("server.max_pending_jobs must be > 0")
	}
	if len(c.LLM.Models) == 0 {
		return fmt.Errorf("llm.models must not be empty")
	}
	if c.LLM.MinLength <= 0 {
		return fmt.Errorf("llm.min_length must be > 0")
	}
	if c.Dispatcher.BatchSize <= 0 {
		return fmt.Errorf("dispatcher.batch_size must be > 0")
	}
	if c.Dispatcher.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("dispatcher.job_timeout_seconds must be > 0")
	}
	if c.Reconciler.FastIntervalSeconds <= 0 || c.Reconciler.SlowIntervalSeconds <= 0 {
		return fmt.Errorf("reconciler intervals must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// JobTimeout returns the per-job generation budget as a duration.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Dispatcher.JobTimeoutSeconds) * time.Second
}

func splitCommaLists(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
