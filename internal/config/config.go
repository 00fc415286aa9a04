package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config describes the top-level application configuration loaded from YAML and ENV.
type Config struct {
	Version    string           `mapstructure:"version"`
	Generation GenerationConfig `mapstructure:"generation"`
	Quota      RetryConfig      `mapstructure:"quota"`
	Feedback   RetryConfig      `mapstructure:"feedback"`
	Loop       LoopConfig       `mapstructure:"loop"`
	Verify     VerifyConfig     `mapstructure:"verify"`
	Artifact   ArtifactConfig   `mapstructure:"artifact"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
}

// GenerationConfig points at the remote generation job API.
type GenerationConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	LicenseKey       string        `mapstructure:"license_key"`
	Model            string        `mapstructure:"model"`
	InitialModel     string        `mapstructure:"initial_model"`
	IncrementalModel string        `mapstructure:"incremental_model"`
	FallbackModels   []string      `mapstructure:"fallback_models"` // tried in order after retries are exhausted
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	PollTimeout      time.Duration `mapstructure:"poll_timeout"`
	RetryConfig      `mapstructure:",squash"`
}

// RetryConfig is an exponential backoff budget.
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"` // total attempts
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxJitter      time.Duration `mapstructure:"max_jitter"`
}

// LoopConfig bounds the convergence loop.
type LoopConfig struct {
	MaxAttempts           int  `mapstructure:"max_attempts"`
	MaxContextRefs        int  `mapstructure:"max_context_refs"`
	MaxContextBytes       int  `mapstructure:"max_context_bytes"`
	ContinueOnClientError bool `mapstructure:"continue_on_client_error"`
}

// VerifyConfig controls the compile/test toolchain.
type VerifyConfig struct {
	Command         string        `mapstructure:"command"`
	CompileTimeout  time.Duration `mapstructure:"compile_timeout"`
	TestTimeout     time.Duration `mapstructure:"test_timeout"`
	WorkingDir      string        `mapstructure:"working_dir"`
	AllowedCommands []string      `mapstructure:"allowed_commands"`
	DeniedCommands  []string      `mapstructure:"denied_commands"`
	Env             []string      `mapstructure:"env"`
}

// ArtifactConfig places generated tests and their snapshot history.
type ArtifactConfig struct {
	ProjectRoot  string `mapstructure:"project_root"`
	TestRoot     string `mapstructure:"test_root"`
	Suffix       string `mapstructure:"suffix"`
	HistoryDir   string `mapstructure:"history_dir"` // empty disables history
	HistoryLimit int    `mapstructure:"history_limit"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

// ServerConfig describes daemon settings.
type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	Transport      string `mapstructure:"transport"` // connect or ndjson
}

// Load reads configuration from the provided path or defaults to configs/config.yaml.
// Environment variables override file values (prefix: TESTPILOT_, dots replaced with underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TESTPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			v.SetConfigName("config.example")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults populates sensible defaults for optional fields.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.license_key", "")
	v.SetDefault("generation.model", "")
	v.SetDefault("generation.request_timeout", 30*time.Second)
	v.SetDefault("generation.poll_interval", 5*time.Second)
	v.SetDefault("generation.poll_timeout", 450*time.Second)
	v.SetDefault("generation.max_retries", 10)
	v.SetDefault("generation.initial_backoff", time.Second)
	v.SetDefault("generation.max_backoff", 30*time.Second)
	v.SetDefault("generation.max_jitter", 250*time.Millisecond)

	v.SetDefault("quota.max_retries", 5)
	v.SetDefault("quota.initial_backoff", 1500*time.Millisecond)
	v.SetDefault("quota.max_backoff", 30*time.Second)
	v.SetDefault("quota.max_jitter", 250*time.Millisecond)

	v.SetDefault("feedback.max_retries", 3)
	v.SetDefault("feedback.initial_backoff", time.Second)
	v.SetDefault("feedback.max_backoff", 30*time.Second)
	v.SetDefault("feedback.max_jitter", 250*time.Millisecond)

	v.SetDefault("loop.max_attempts", 10)
	v.SetDefault("loop.max_context_refs", 32)
	v.SetDefault("loop.max_context_bytes", 65536)
	v.SetDefault("loop.continue_on_client_error", false)

	v.SetDefault("verify.command", "go")
	v.SetDefault("verify.compile_timeout", 60*time.Second)
	v.SetDefault("verify.test_timeout", 200*time.Second)
	v.SetDefault("verify.denied_commands", []string{"rm", "curl", "wget"})

	v.SetDefault("artifact.project_root", ".")
	v.SetDefault("artifact.test_root", "")
	v.SetDefault("artifact.suffix", "_test")
	v.SetDefault("artifact.history_dir", ".testpilot/history")
	v.SetDefault("artifact.history_limit", 20)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.transport", "connect")
}

// Validate performs basic sanity checks on configuration values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Generation.BaseURL) == "" {
		return errors.New("generation.base_url must be set")
	}
	if !strings.HasPrefix(c.Generation.BaseURL, "http://") && !strings.HasPrefix(c.Generation.BaseURL, "https://") {
		return fmt.Errorf("generation.base_url must be an http(s) URL, got %q", c.Generation.BaseURL)
	}
	if c.Generation.PollInterval <= 0 {
		return errors.New("generation.poll_interval must be > 0")
	}
	if c.Generation.PollTimeout < c.Generation.PollInterval {
		return errors.New("generation.poll_timeout must be >= generation.poll_interval")
	}
	if c.Generation.RequestTimeout < 0 {
		return errors.New("generation.request_timeout must be >= 0")
	}

	for name, r := range map[string]RetryConfig{
		"generation": c.Generation.RetryConfig,
		"quota":      c.Quota,
		"feedback":   c.Feedback,
	} {
		if err := r.validate(name); err != nil {
			return err
		}
	}

	if c.Loop.MaxAttempts <= 0 {
		return errors.New("loop.max_attempts must be > 0")
	}
	if c.Loop.MaxContextRefs < 0 {
		return errors.New("loop.max_context_refs must be >= 0")
	}
	if c.Loop.MaxContextBytes < 0 {
		return errors.New("loop.max_context_bytes must be >= 0")
	}

	if strings.TrimSpace(c.Verify.Command) == "" {
		return errors.New("verify.command must be set")
	}
	if c.Verify.CompileTimeout <= 0 || c.Verify.TestTimeout <= 0 {
		return errors.New("verify.compile_timeout and verify.test_timeout must be > 0")
	}

	if strings.TrimSpace(c.Artifact.ProjectRoot) == "" {
		return errors.New("artifact.project_root must be set")
	}
	if strings.TrimSpace(c.Artifact.Suffix) == "" && strings.TrimSpace(c.Artifact.TestRoot) == "" {
		return errors.New("artifact.suffix or artifact.test_root must be set so tests never overwrite sources")
	}
	if c.Artifact.HistoryLimit < 0 {
		return errors.New("artifact.history_limit must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Server.Transport)) {
	case "", "connect", "ndjson":
	default:
		return fmt.Errorf("server.transport must be one of connect or ndjson, got %q", c.Server.Transport)
	}

	return nil
}

func (r RetryConfig) validate(section string) error {
	if r.MaxRetries < 1 {
		return fmt.Errorf("%s.max_retries must be >= 1", section)
	}
	if r.InitialBackoff <= 0 {
		return fmt.Errorf("%s.initial_backoff must be > 0", section)
	}
	if r.MaxBackoff < r.InitialBackoff {
		return fmt.Errorf("%s.max_backoff must be >= %s.initial_backoff", section, section)
	}
	if r.MaxJitter < 0 {
		return fmt.Errorf("%s.max_jitter must be >= 0", section)
	}
	return nil
}
