package app

import (
	"log/slog"
	"sort"
	"time"

	"github.com/felixgeelhaar/aula/internal/config"
	"github.com/felixgeelhaar/aula/internal/llm"
)

// NewRegistry registers every enabled and usable provider, each wrapped
// in the resilience layer.
func NewRegistry(cfg config.LLMConfig, res config.ResilienceConfig) *llm.Registry {
	registry := llm.NewRegistry()
	rc := resilientConfig(res)

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		providerCfg := cfg.Providers[name]
		if !providerCfg.Enabled {
			continue
		}
		provider := newProvider(name, providerCfg)
		if provider == nil {
			continue
		}
		registry.Register(name, llm.NewResilientProvider(provider, rc))
		slog.Info("registered LLM provider", "name", name, "model", providerCfg.Model)
	}

	if cfg.DefaultProvider != "" && cfg.DefaultProvider != "auto" {
		if err := registry.SetDefault(cfg.DefaultProvider); err != nil {
			slog.Warn("default LLM provider not available, using first registered", "provider", cfg.DefaultProvider)
		}
	}
	return registry
}

func newProvider(name string, cfg *config.ProviderConfig) llm.Provider {
	switch name {
	case "claude":
		if cfg.APIKey == "" {
			slog.Debug("Claude provider enabled but no API key set")
			return nil
		}
		return llm.NewClaudeProvider(llm.ClaudeConfig{APIKey: cfg.APIKey, BaseURL: cfg.URL, Model: cfg.Model})
	case "openai":
		if cfg.APIKey == "" {
			slog.Debug("OpenAI provider enabled but no API key set")
			return nil
		}
		return llm.NewOpenAIProvider(llm.OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.URL, Model: cfg.Model})
	case "ollama":
		return llm.NewOllamaProvider(llm.OllamaConfig{BaseURL: cfg.URL, Model: cfg.Model})
	default:
		slog.Warn("unknown LLM provider ignored", "name", name)
		return nil
	}
}

func resilientConfig(res config.ResilienceConfig) llm.ResilientConfig {
	rc := llm.DefaultResilientConfig()
	rc.EnableCircuitBreaker = res.CircuitBreaker
	rc.EnableRetry = res.Retry
	rc.EnableBulkhead = res.Bulkhead
	rc.EnableRateLimit = res.RateLimit
	if res.MaxAttempts > 0 {
		rc.MaxAttempts = res.MaxAttempts
	}
	if res.MaxConcurrent > 0 {
		rc.MaxConcurrent = res.MaxConcurrent
	}
	if res.RatePerSecond > 0 {
		rc.RatePerSecond = res.RatePerSecond
	}
	if res.InitialBackoffSeconds > 0 {
		rc.InitialBackoff = time.Duration(res.InitialBackoffSeconds) * time.Second
	}
	rc.Logger = slog.Default()
	return rc
}
