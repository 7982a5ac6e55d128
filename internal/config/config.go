package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Intake    IntakeConfig    `yaml:"intake" mapstructure:"intake"`
	Importer  ImporterConfig  `yaml:"importer" mapstructure:"importer"`
	Extractor ExtractorConfig `yaml:"extractor" mapstructure:"extractor"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Dedup     DedupConfig     `yaml:"dedup" mapstructure:"dedup"`
	Stats     StatsConfig     `yaml:"stats" mapstructure:"stats"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// IntakeConfig configures the watched intake location.
type IntakeConfig struct {
	Dir          string   `yaml:"dir" mapstructure:"dir"`
	Patterns     []string `yaml:"patterns" mapstructure:"patterns"`
	DebounceMS   int      `yaml:"debounce_ms" mapstructure:"debounce_ms"`
	PollInterval int      `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
}

// Debounce returns the debounce window as a duration.
func (c IntakeConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// ImporterConfig configures intake file parsing.
type ImporterConfig struct {
	Delimiter string `yaml:"delimiter" mapstructure:"delimiter"`
}

// ExtractorConfig configures the creditor extraction worker.
type ExtractorConfig struct {
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts     int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBaseSecs int     `yaml:"backoff_base_secs" mapstructure:"backoff_base_secs"`
	BackoffCapSecs  int     `yaml:"backoff_cap_secs" mapstructure:"backoff_cap_secs"`
	RatePerSec      float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// Timeout returns the per-call extraction timeout.
func (c ExtractorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// DedupConfig configures creditor deduplication.
type DedupConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	StabilityWindowSecs int     `yaml:"stability_window_secs" mapstructure:"stability_window_secs"`
}

// StabilityWindow returns how long a cluster must stay idle before it is
// finalized into a canonical creditor.
func (c DedupConfig) StabilityWindow() time.Duration {
	return time.Duration(c.StabilityWindowSecs) * time.Second
}

// StatsConfig configures the statistics aggregator.
type StatsConfig struct {
	TopCourts int `yaml:"top_courts" mapstructure:"top_courts"`
}

// ServerConfig configures the read-only query API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BANKFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("intake.dir", "data")
	v.SetDefault("intake.patterns", []string{"*.csv", "*.tsv"})
	v.SetDefault("intake.debounce_ms", 2000)
	v.SetDefault("intake.poll_interval_secs", 300)
	v.SetDefault("importer.delimiter", "\t")
	v.SetDefault("extractor.timeout_secs", 60)
	v.SetDefault("extractor.max_attempts", 5)
	v.SetDefault("extractor.backoff_base_secs", 30)
	v.SetDefault("extractor.backoff_cap_secs", 3600)
	v.SetDefault("extractor.rate_per_sec", 1.0)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("dedup.similarity_threshold", 0.85)
	v.SetDefault("dedup.stability_window_secs", 600)
	v.SetDefault("stats.top_courts", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
