package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the kitchen service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	TargetLanguage string        `mapstructure:"target_language"`
	// TagLanguage is the fixed language used for category/entities/topics
	// regardless of the display language of titles and summaries.
	TagLanguage string `mapstructure:"tag_language"`
}

// ServerConfig contains HTTP server and scheduler settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
	// ScheduleCron triggers a full pipeline run on this cron spec when the
	// daemon is running. Empty disables scheduling. Supports @hourly/@daily
	// and standard 5-field expressions.
	ScheduleCron string `mapstructure:"schedule_cron"`
}

// LLMConfig contains language model provider configurations
type LLMConfig struct {
	DefaultProvider string                 `mapstructure:"default_provider"`
	Providers       map[string]LLMProvider `mapstructure:"providers"`
}

// LLMProvider represents a single language model provider configuration
type LLMProvider struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// MaxBatchChars is the character budget for a single synthesis call
	// against this provider.
	MaxBatchChars int `mapstructure:"max_batch_chars"`
}

// Normalize applies provider defaults for unset values.
func (p LLMProvider) Normalize() LLMProvider {
	if p.Timeout <= 0 {
		p.Timeout = 60 * time.Second
	}
	if p.MaxBatchChars <= 0 {
		p.MaxBatchChars = 25000
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = 8192
	}
	return p
}

// SourcesConfig contains news source configurations
type SourcesConfig struct {
	GoogleNews GoogleNewsConfig `mapstructure:"googlenews"`
}

// GoogleNewsConfig contains the Google News RSS locale triple and transport settings
type GoogleNewsConfig struct {
	HL       string        `mapstructure:"hl"`
	GL       string        `mapstructure:"gl"`
	CEID     string        `mapstructure:"ceid"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Normalize falls back to the default display locale when the triple is incomplete.
func (g GoogleNewsConfig) Normalize() GoogleNewsConfig {
	if strings.TrimSpace(g.HL) == "" {
		g.HL = "en-US"
	}
	if strings.TrimSpace(g.GL) == "" {
		g.GL = "US"
	}
	if strings.TrimSpace(g.CEID) == "" {
		g.CEID = "US:en"
	}
	if g.Timeout <= 0 {
		g.Timeout = 10 * time.Second
	}
	return g
}

// PipelineConfig contains clustering, batching and run-policy settings
type PipelineConfig struct {
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	WindowHours         int           `mapstructure:"window_hours"`
	MaxClusterSize      int           `mapstructure:"max_cluster_size"`
	RecentTitles        int           `mapstructure:"recent_titles"`
	InterBatchDelay     time.Duration `mapstructure:"inter_batch_delay"`
	CommentaryEnabled   bool          `mapstructure:"commentary_enabled"`
}

// Normalize applies pipeline defaults for unset values.
func (p PipelineConfig) Normalize() PipelineConfig {
	if p.SimilarityThreshold <= 0 {
		p.SimilarityThreshold = 0.35
	}
	if p.WindowHours <= 0 {
		p.WindowHours = 12
	}
	if p.MaxClusterSize <= 0 {
		p.MaxClusterSize = 12
	}
	if p.RecentTitles <= 0 {
		p.RecentTitles = 50
	}
	return p
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the configured parts.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings. An empty host disables
// the feed cache and the scheduler lock.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis connection is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// Addr returns host:port for the go-redis client.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig loads config from file with FEEDBUFFET_* env overrides
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.SetDefault("general.target_language", "English")
	v.SetDefault("general.tag_language", "English")
	v.SetDefault("general.default_timeout", "120s")
	v.SetDefault("server.address", ":10030")
	v.SetDefault("llm.default_provider", "gemini")
	v.SetDefault("pipeline.commentary_enabled", true)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("FEEDBUFFET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Env-only operation is allowed; a missing file is not fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Sources.GoogleNews = cfg.Sources.GoogleNews.Normalize()
	cfg.Pipeline = cfg.Pipeline.Normalize()
	for id, p := range cfg.LLM.Providers {
		cfg.LLM.Providers[id] = p.Normalize()
	}

	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
