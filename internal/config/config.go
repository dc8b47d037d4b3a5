package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Runner    RunnerConfig    `yaml:"runner" mapstructure:"runner"`
	Watchdog  WatchdogConfig  `yaml:"watchdog" mapstructure:"watchdog"`
	Taxonomy  TaxonomyConfig  `yaml:"taxonomy" mapstructure:"taxonomy"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Events    EventsConfig    `yaml:"events" mapstructure:"events"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. For sqlite the URL is the
// database file path. The pool sizes apply to postgres only.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds oracle API settings. One model serves both the
// classify and generate phases. RPS zero disables client-side rate
// limiting.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RPS         float64 `yaml:"rps" mapstructure:"rps"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
}

// PipelineConfig configures generation behavior.
type PipelineConfig struct {
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
	AgentID    string `yaml:"agent_id" mapstructure:"agent_id"`
}

// RunnerConfig configures the worker pool.
type RunnerConfig struct {
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency"`
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	ClaimBatch       int `yaml:"claim_batch" mapstructure:"claim_batch"`
}

// WatchdogConfig configures the stale-job sweeper.
type WatchdogConfig struct {
	IntervalSecs   int `yaml:"interval_secs" mapstructure:"interval_secs"`
	StallAfterSecs int `yaml:"stall_after_secs" mapstructure:"stall_after_secs"`
}

// TaxonomyConfig points at an optional YAML overlay tightening archetype
// validation floors or prompt hints.
type TaxonomyConfig struct {
	OverlayPath string `yaml:"overlay_path" mapstructure:"overlay_path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	EventBuffer    int      `yaml:"event_buffer" mapstructure:"event_buffer"`
}

// EventsConfig configures the outbound event sinks. An empty URL leaves
// that sink disabled; the in-process stream is always on when serving.
type EventsConfig struct {
	NATSURL     string `yaml:"nats_url" mapstructure:"nats_url"`
	NATSSubject string `yaml:"nats_subject" mapstructure:"nats_subject"`
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
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
	v.SetEnvPrefix("MODELGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys without a real default still get an empty one so
	// AutomaticEnv sees them at unmarshal time.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "modelgen.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("anthropic.rps", 0)
	v.SetDefault("anthropic.burst", 1)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.agent_id", "modelgen-pipeline")
	v.SetDefault("runner.concurrency", 4)
	v.SetDefault("runner.poll_interval_secs", 3)
	v.SetDefault("runner.claim_batch", 8)
	v.SetDefault("watchdog.interval_secs", 60)
	v.SetDefault("watchdog.stall_after_secs", 600)
	v.SetDefault("taxonomy.overlay_path", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.event_buffer", 64)
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.nats_subject", "modelgen.jobs")
	v.SetDefault("events.webhook_url", "")
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

// Validate checks the fields the given command mode needs. Problems
// accumulate so the operator sees every missing field at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "run", "serve":
		problems = append(problems, c.storeProblems()...)
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Pipeline.MaxRetries < 1 || c.Pipeline.MaxRetries > 10 {
			problems = append(problems, "pipeline.max_retries must be between 1 and 10")
		}
		if mode == "serve" {
			if c.Server.Port <= 0 {
				problems = append(problems, "server.port must be > 0")
			}
			if c.Runner.Concurrency < 1 || c.Runner.Concurrency > 64 {
				problems = append(problems, "runner.concurrency must be between 1 and 64")
			}
			if c.Watchdog.StallAfterSecs <= c.Watchdog.IntervalSecs {
				problems = append(problems, "watchdog.stall_after_secs must exceed watchdog.interval_secs")
			}
		}
	case "jobs", "lineage", "models", "migrate":
		problems = append(problems, c.storeProblems()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) storeProblems() []string {
	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required"}
		}
	default:
		return []string{fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)}
	}
	return nil
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
