package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Research modes.
const (
	ModeSimulated = "simulated"
	ModeLive      = "live"
)

// Config holds the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Research  ResearchConfig  `yaml:"research" mapstructure:"research"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer" mapstructure:"analyzer"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Stream    StreamConfig    `yaml:"stream" mapstructure:"stream"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port" validate:"min=0,max=65535"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// ResearchConfig configures the research pipeline.
type ResearchConfig struct {
	Mode              string `yaml:"mode" mapstructure:"mode" validate:"oneof=simulated live"`
	Concurrency       int    `yaml:"concurrency" mapstructure:"concurrency" validate:"min=1"`
	SessionTTLMinutes int    `yaml:"session_ttl_minutes" mapstructure:"session_ttl_minutes" validate:"min=1"`
}

// SessionTTL returns the session lifetime.
func (r ResearchConfig) SessionTTL() time.Duration {
	return time.Duration(r.SessionTTLMinutes) * time.Minute
}

// FetchConfig configures source fetching.
type FetchConfig struct {
	TimeoutSecs        int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"min=1"`
	MaxRetries         int     `yaml:"max_retries" mapstructure:"max_retries" validate:"min=0"`
	RetryBackoffMillis int     `yaml:"retry_backoff_millis" mapstructure:"retry_backoff_millis" validate:"min=0"`
	UserAgent          string  `yaml:"user_agent" mapstructure:"user_agent" validate:"required"`
	GitHubToken        string  `yaml:"github_token" mapstructure:"github_token"`
	GitHubRPS          float64 `yaml:"github_rps" mapstructure:"github_rps" validate:"gt=0"`
}

// AnalyzerConfig configures the simulated analyzer's artificial latency.
type AnalyzerConfig struct {
	MinLatencyMillis int `yaml:"min_latency_millis" mapstructure:"min_latency_millis" validate:"min=0"`
	MaxLatencyMillis int `yaml:"max_latency_millis" mapstructure:"max_latency_millis" validate:"gtefield=MinLatencyMillis"`
}

// AnthropicConfig holds Anthropic API settings for the live analyzer.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens" validate:"min=1"`
}

// StreamConfig configures the status event stream.
type StreamConfig struct {
	PollIntervalMillis int `yaml:"poll_interval_millis" mapstructure:"poll_interval_millis" validate:"min=1"`
	HeartbeatSecs      int `yaml:"heartbeat_secs" mapstructure:"heartbeat_secs" validate:"min=1"`
}

// StoreConfig configures the evidence corpus backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EVIDENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed variables shared with the dashboard deployment.
	if err := v.BindEnv("research.mode", "RESEARCH_MODE", "EVIDENCE_RESEARCH_MODE"); err != nil {
		return nil, eris.Wrap(err, "config: bind research mode")
	}
	if err := v.BindEnv("anthropic.key", "ANTHROPIC_API_KEY", "EVIDENCE_ANTHROPIC_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind anthropic key")
	}

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("research.mode", ModeSimulated)
	v.SetDefault("research.concurrency", 3)
	v.SetDefault("research.session_ttl_minutes", 30)
	v.SetDefault("fetch.timeout_secs", 10)
	v.SetDefault("fetch.max_retries", 1)
	v.SetDefault("fetch.retry_backoff_millis", 250)
	v.SetDefault("fetch.user_agent", "SignalCore-Research/1.0")
	v.SetDefault("fetch.github_rps", 5)
	v.SetDefault("analyzer.min_latency_millis", 800)
	v.SetDefault("analyzer.max_latency_millis", 2000)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("stream.poll_interval_millis", 500)
	v.SetDefault("stream.heartbeat_secs", 15)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", ":memory:")

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

	cfg.Research.Mode = normalizeMode(cfg.Research.Mode)

	return &cfg, nil
}

// normalizeMode maps anything other than "live" to simulated.
func normalizeMode(mode string) string {
	if strings.EqualFold(strings.TrimSpace(mode), ModeLive) {
		return ModeLive
	}
	return ModeSimulated
}

// Validate checks field constraints plus the requirements of the given command
// mode ("serve", "research", "score" or "store"). Live mode without a key is not
// an error; the analyzer factory downgrades it to simulated.
func (c *Config) Validate(mode string) error {
	if err := validator.New().Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}

	var problems []string
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for the postgres driver")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "research", "score", "store":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// LiveEnabled reports whether the live analyzer can be used.
func (c *Config) LiveEnabled() bool {
	return c.Research.Mode == ModeLive && c.Anthropic.Key != ""
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
