// Package config loads daemon settings from ~/.aula/config.yaml, the
// secrets file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
)

// Storage drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all configuration for the application
type Config struct {
	Daemon     DaemonConfig     `yaml:"daemon"`
	Storage    StorageConfig    `yaml:"storage"`
	LLM        LLMConfig        `yaml:"llm"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Grading    GradingConfig    `yaml:"grading"`
	Generation CompletionConfig `yaml:"generation"`
	Tutor      CompletionConfig `yaml:"tutor"`
	Shadow     ShadowConfig     `yaml:"shadow"`
	Events     EventsConfig     `yaml:"events"`
}

// DaemonConfig holds daemon server settings
type DaemonConfig struct {
	Port     int    `yaml:"port"`
	Bind     string `yaml:"bind"`
	LogLevel string `yaml:"log_level"`

	// Per-client limit on routes that call a model; 0 disables it.
	ModelRequestsPerMinute int `yaml:"model_requests_per_minute"`
	ModelBurst             int `yaml:"model_burst"`

	// Proxies (addresses or CIDRs) allowed to set X-Forwarded-For.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// StorageConfig selects and locates the state store
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	DatabaseURL string `yaml:"database_url"`
	CatalogPath string `yaml:"catalog_path,omitempty"` // optional YAML catalog imported at startup
}

// LLMConfig holds LLM provider settings
type LLMConfig struct {
	DefaultProvider string                     `yaml:"default_provider"`
	Providers       map[string]*ProviderConfig `yaml:"providers"`
}

// ProviderConfig holds settings for a single LLM provider
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	URL     string `yaml:"url,omitempty"`
	APIKey  string `yaml:"-"` // Loaded from secrets.yaml
}

// ResilienceConfig tunes the protection wrapped around every provider
type ResilienceConfig struct {
	CircuitBreaker        bool `yaml:"circuit_breaker"`
	Retry                 bool `yaml:"retry"`
	MaxAttempts           int  `yaml:"max_attempts"`
	InitialBackoffSeconds int  `yaml:"initial_backoff_seconds"`
	Bulkhead              bool `yaml:"bulkhead"`
	MaxConcurrent         int  `yaml:"max_concurrent"`
	RateLimit             bool `yaml:"rate_limit"`
	RatePerSecond         int  `yaml:"rate_per_second"`
}

// GradingConfig holds AI judge settings
type GradingConfig struct {
	JudgeMaxTokens      int     `yaml:"judge_max_tokens"`
	JudgeTemperature    float64 `yaml:"judge_temperature"`
	JudgeTimeoutSeconds int     `yaml:"judge_timeout_seconds"`
	MaxCriteria         int     `yaml:"max_criteria"`
	FallbackScore       int     `yaml:"fallback_score"`
}

// CompletionConfig holds settings for one kind of completion call
type CompletionConfig struct {
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// ShadowConfig holds side-channel evaluator settings
type ShadowConfig struct {
	MaxTokens      int `yaml:"max_tokens"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxRecentTurns int `yaml:"max_recent_turns"`
}

// EventsConfig locates the optional event sinks. Empty disables a sink.
type EventsConfig struct {
	RabbitMQURL string `yaml:"rabbitmq_url"`
	EventLogURL string `yaml:"eventlog_url"`
}

// Default returns sensible defaults for a local install
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Port:                   7433,
			Bind:                   "127.0.0.1",
			LogLevel:               "info",
			ModelRequestsPerMinute: 30,
			ModelBurst:             10,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
		},
		LLM: LLMConfig{
			DefaultProvider: "auto",
			Providers: map[string]*ProviderConfig{
				"claude": {
					Enabled: true,
					Model:   "claude-sonnet-4-20250514",
				},
				"openai": {
					Enabled: false,
					Model:   "gpt-4o-mini",
				},
				"ollama": {
					Enabled: false,
					URL:     "http://localhost:11434",
					Model:   "llama3.2",
				},
			},
		},
		Resilience: ResilienceConfig{
			CircuitBreaker:        true,
			Retry:                 true,
			MaxAttempts:           3,
			InitialBackoffSeconds: 2,
			Bulkhead:              true,
			MaxConcurrent:         5,
			RateLimit:             true,
			RatePerSecond:         2,
		},
		Grading: GradingConfig{
			JudgeMaxTokens:      1024,
			JudgeTemperature:    0.2,
			JudgeTimeoutSeconds: 60,
			MaxCriteria:         5,
			FallbackScore:       50,
		},
		Generation: CompletionConfig{
			MaxTokens:      2048,
			Temperature:    0.7,
			TimeoutSeconds: 90,
		},
		Tutor: CompletionConfig{
			MaxTokens:      1024,
			Temperature:    0.6,
			TimeoutSeconds: 60,
		},
		Shadow: ShadowConfig{
			MaxTokens:      512,
			TimeoutSeconds: 20,
			MaxRecentTurns: 8,
		},
	}
}

// Validate rejects settings the daemon cannot start with
func (c *Config) Validate() error {
	var problems []string

	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		problems = append(problems, fmt.Sprintf("daemon.port %d out of range", c.Daemon.Port))
	}
	switch strings.ToLower(c.Daemon.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown daemon.log_level %q", c.Daemon.LogLevel))
	}
	if c.Daemon.ModelRequestsPerMinute < 0 || c.Daemon.ModelBurst < 0 {
		problems = append(problems, "daemon model rate limits must not be negative")
	}
	for _, p := range c.Daemon.TrustedProxies {
		if !validProxy(p) {
			problems = append(problems, fmt.Sprintf("daemon.trusted_proxies entry %q is not an address or CIDR", p))
		}
	}

	switch c.Storage.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			problems = append(problems, "storage.database_url is required for postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage.driver %q", c.Storage.Driver))
	}

	if c.Grading.FallbackScore < 0 || c.Grading.FallbackScore > 100 {
		problems = append(problems, fmt.Sprintf("grading.fallback_score %d outside 0..100", c.Grading.FallbackScore))
	}
	if c.Grading.MaxCriteria < 0 {
		problems = append(problems, "grading.max_criteria must not be negative")
	}
	for _, t := range []float64{c.Grading.JudgeTemperature, c.Generation.Temperature, c.Tutor.Temperature} {
		if t < 0 || t > 2 {
			problems = append(problems, fmt.Sprintf("temperature %.2f outside 0..2", t))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// applyEnv overrides file settings with environment variables
func (c *Config) applyEnv() {
	c.Daemon.Port = getEnvInt("AULA_PORT", c.Daemon.Port)
	c.Daemon.LogLevel = getEnv("AULA_LOG_LEVEL", c.Daemon.LogLevel)
	if getEnvBool("AULA_DEBUG", false) {
		c.Daemon.LogLevel = "debug"
	}

	c.Storage.SQLitePath = getEnv("SQLITE_PATH", c.Storage.SQLitePath)
	if url := getEnv("DATABASE_URL", ""); url != "" {
		c.Storage.DatabaseURL = url
		c.Storage.Driver = DriverPostgres
	}
	c.Storage.Driver = getEnv("AULA_STORAGE", c.Storage.Driver)

	c.Events.RabbitMQURL = getEnv("RABBITMQ_URL", c.Events.RabbitMQURL)
	c.Events.EventLogURL = getEnv("EVENTLOG_URL", c.Events.EventLogURL)

	c.LLM.DefaultProvider = getEnv("LLM_PROVIDER", c.LLM.DefaultProvider)
	name := c.LLM.DefaultProvider
	if name == "" || name == "auto" {
		return
	}
	provider := c.LLM.provider(name)
	provider.APIKey = getEnv("LLM_API_KEY", provider.APIKey)
	provider.Model = getEnv("LLM_MODEL", provider.Model)
	if name == "ollama" {
		provider.URL = getEnv("OLLAMA_URL", provider.URL)
	}
	if os.Getenv("LLM_PROVIDER") != "" {
		provider.Enabled = true
	}
}

// provider returns the named provider settings, creating them if absent
func (l *LLMConfig) provider(name string) *ProviderConfig {
	if l.Providers == nil {
		l.Providers = make(map[string]*ProviderConfig)
	}
	p, ok := l.Providers[name]
	if !ok {
		p = &ProviderConfig{}
		l.Providers[name] = p
	}
	return p
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func validProxy(s string) bool {
	s = strings.TrimSpace(s)
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
