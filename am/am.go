package am

// Config represents the carbonfill configuration.
// A Config is loaded once and then treated as read-only; components receive the
// sections they need as values.
type Config struct {
	Inference  InferenceConfig  `mapstructure:"inference" toml:"inference" json:"inference" yaml:"inference"`
	DeepSeek   BackendConfig    `mapstructure:"deepseek" toml:"deepseek" json:"deepseek" yaml:"deepseek"`
	OpenAI     BackendConfig    `mapstructure:"openai" toml:"openai" json:"openai" yaml:"openai"`
	OpenRouter BackendConfig    `mapstructure:"openrouter" toml:"openrouter" json:"openrouter" yaml:"openrouter"`
	Anthropic  BackendConfig    `mapstructure:"anthropic" toml:"anthropic" json:"anthropic" yaml:"anthropic"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment" toml:"enrichment" json:"enrichment" yaml:"enrichment"`
	Server     ServerConfig     `mapstructure:"server" toml:"server" json:"server" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
}

// InferenceConfig selects the inference backend and the degrade policy
type InferenceConfig struct {
	Backend           string   `mapstructure:"backend" toml:"backend" json:"backend" yaml:"backend"`                                                 // deepseek, openai, openrouter, anthropic, mock
	Fallbacks         []string `mapstructure:"fallbacks" toml:"fallbacks" json:"fallbacks" yaml:"fallbacks"`                                         // backends tried in order when the primary has no credential
	AlwaysMock        bool     `mapstructure:"always_mock" toml:"always_mock" json:"always_mock" yaml:"always_mock"`                                 // never touch the network
	AutoFallback      bool     `mapstructure:"auto_fallback" toml:"auto_fallback" json:"auto_fallback" yaml:"auto_fallback"`                         // degrade to the mock responder on failure
	TimeoutSeconds    int      `mapstructure:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`                 // per-call timeout (default: 120)
	Temperature       float64  `mapstructure:"temperature" toml:"temperature" json:"temperature" yaml:"temperature"`                                 // sampling temperature (default: 0.2)
	MaxTokens         int      `mapstructure:"max_tokens" toml:"max_tokens" json:"max_tokens" yaml:"max_tokens"`                                     // completion token limit (default: 4000)
	MaxRetries        int      `mapstructure:"max_retries" toml:"max_retries" json:"max_retries" yaml:"max_retries"`                                 // retries on network errors (default: 2)
	RequestsPerMinute int      `mapstructure:"requests_per_minute" toml:"requests_per_minute" json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited
	CacheSize         int      `mapstructure:"cache_size" toml:"cache_size" json:"cache_size" yaml:"cache_size"`                                     // identical-request cache entries, 0 = off
}

// BackendConfig configures one inference backend
type BackendConfig struct {
	APIKey              string `mapstructure:"api_key" toml:"api_key" json:"api_key" yaml:"api_key"`
	Model               string `mapstructure:"model" toml:"model" json:"model" yaml:"model"`
	BaseURL             string `mapstructure:"base_url" toml:"base_url" json:"base_url" yaml:"base_url"`
	AllowPrivateNetwork bool   `mapstructure:"allow_private_network" toml:"allow_private_network" json:"allow_private_network" yaml:"allow_private_network"` // self-hosted gateways on private IPs
}

// EnrichmentConfig configures the enrichment pipeline
type EnrichmentConfig struct {
	UncertaintyThreshold float64 `mapstructure:"uncertainty_threshold" toml:"uncertainty_threshold" json:"uncertainty_threshold" yaml:"uncertainty_threshold"` // scores below this are completed (default: 70)
	Concurrency          int     `mapstructure:"concurrency" toml:"concurrency" json:"concurrency" yaml:"concurrency"`                                         // stage groups processed at once (default: 1)
	ReasonMaxLen         int     `mapstructure:"reason_max_len" toml:"reason_max_len" json:"reason_max_len" yaml:"reason_max_len"`                             // failure cause length in dataSource (default: 50)
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port           int      `mapstructure:"port" toml:"port" json:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`
	MaxBatchSize   int      `mapstructure:"max_batch_size" toml:"max_batch_size" json:"max_batch_size" yaml:"max_batch_size"`
}

// DatabaseConfig configures the SQLite usage database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path" yaml:"path"` // empty = usage tracking disabled
}

// Backend returns the section for a backend name, or false for unknown names.
func (c *Config) Backend(name string) (BackendConfig, bool) {
	switch name {
	case "deepseek":
		return c.DeepSeek, true
	case "openai":
		return c.OpenAI, true
	case "openrouter":
		return c.OpenRouter, true
	case "anthropic":
		return c.Anthropic, true
	default:
		return BackendConfig{}, false
	}
}

// Redacted returns a copy with API keys masked, for display.
func (c Config) Redacted() Config {
	for _, section := range []*BackendConfig{&c.DeepSeek, &c.OpenAI, &c.OpenRouter, &c.Anthropic} {
		if section.APIKey != "" {
			section.APIKey = maskKey(section.APIKey)
		}
	}
	c.Inference.Fallbacks = append([]string(nil), c.Inference.Fallbacks...)
	c.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return c
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "********"
	}
	return key[:4] + "…" + key[len(key)-4:]
}

// File system constants
const (
	DefaultDirPermissions = 0755
)
