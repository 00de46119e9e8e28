package am

import (
	"github.com/spf13/viper"
)

// Defaults shared with callers that build configuration without viper.
const (
	DefaultBackend              = "deepseek"
	DefaultTimeoutSeconds       = 120
	DefaultTemperature          = 0.2
	DefaultMaxTokens            = 4000
	DefaultMaxRetries           = 2
	DefaultCacheSize            = 128
	DefaultUncertaintyThreshold = 70.0
	DefaultConcurrency          = 1
	DefaultReasonMaxLen         = 50
	DefaultServerPort           = 8420
	DefaultMaxBatchSize         = 500
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Inference defaults
	v.SetDefault("inference.backend", DefaultBackend)
	v.SetDefault("inference.fallbacks", []string{"openai"}) // deepseek key missing -> openai key
	v.SetDefault("inference.always_mock", false)
	v.SetDefault("inference.auto_fallback", true)
	v.SetDefault("inference.timeout_seconds", DefaultTimeoutSeconds) // responses can run to several paragraphs
	v.SetDefault("inference.temperature", DefaultTemperature)
	v.SetDefault("inference.max_tokens", DefaultMaxTokens)
	v.SetDefault("inference.max_retries", DefaultMaxRetries)
	v.SetDefault("inference.requests_per_minute", 0)
	v.SetDefault("inference.cache_size", DefaultCacheSize)

	// Backend defaults
	v.SetDefault("deepseek.api_key", "")
	v.SetDefault("deepseek.model", "deepseek-chat")
	v.SetDefault("deepseek.base_url", "https://api.deepseek.com")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openrouter.api_key", "")
	v.SetDefault("openrouter.model", "openai/gpt-4o-mini")
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.base_url", "https://api.anthropic.com/v1")

	// Enrichment defaults
	v.SetDefault("enrichment.uncertainty_threshold", DefaultUncertaintyThreshold)
	v.SetDefault("enrichment.concurrency", DefaultConcurrency)
	v.SetDefault("enrichment.reason_max_len", DefaultReasonMaxLen)

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
	})
	v.SetDefault("server.max_batch_size", DefaultMaxBatchSize)

	// Database defaults
	v.SetDefault("database.path", "")
}

// BindSensitiveEnvVars binds credentials and mode switches to their conventional
// environment variables. The CARBONFILL_ prefixed name wins when both are set.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("deepseek.api_key", "CARBONFILL_DEEPSEEK_API_KEY", "DEEPSEEK_API_KEY")
	_ = v.BindEnv("openai.api_key", "CARBONFILL_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("openrouter.api_key", "CARBONFILL_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	_ = v.BindEnv("anthropic.api_key", "CARBONFILL_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")

	_ = v.BindEnv("inference.backend", "CARBONFILL_INFERENCE_BACKEND", "API_SERVICE")
	_ = v.BindEnv("inference.always_mock", "CARBONFILL_INFERENCE_ALWAYS_MOCK", "ALWAYS_USE_MOCK")
	_ = v.BindEnv("inference.auto_fallback", "CARBONFILL_INFERENCE_AUTO_FALLBACK", "AUTO_FALLBACK")

	_ = v.BindEnv("database.path", "CARBONFILL_DATABASE_PATH")
}
