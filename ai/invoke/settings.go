package invoke

import (
	"time"

	"github.com/teranos/carbonfill/ai/provider"
	"github.com/teranos/carbonfill/am"
)

// Settings is the invoker's read-only view of configuration.
// Build it once with SettingsFromConfig and pass it by value.
type Settings struct {
	Primary           provider.Backend
	Fallbacks         []provider.Backend
	AlwaysMock        bool
	AutoFallback      bool
	Timeout           time.Duration
	Temperature       float32
	MaxTokens         int
	MaxRetries        int
	RetryDelay        time.Duration // 0 = client default
	RequestsPerMinute int           // 0 = unlimited
	CacheSize         int           // 0 = no cache
	Backends          map[provider.Backend]am.BackendConfig
}

// SettingsFromConfig copies the inference sections out of cfg.
// cfg is assumed validated; unknown fallback names are skipped.
func SettingsFromConfig(cfg *am.Config) Settings {
	primary, err := provider.ParseBackend(cfg.Inference.Backend)
	if err != nil {
		primary = provider.BackendMock
	}

	var fallbacks []provider.Backend
	for _, name := range cfg.Inference.Fallbacks {
		if b, err := provider.ParseBackend(name); err == nil && b.Networked() {
			fallbacks = append(fallbacks, b)
		}
	}

	backends := make(map[provider.Backend]am.BackendConfig, 4)
	for _, b := range []provider.Backend{provider.BackendDeepSeek, provider.BackendOpenAI, provider.BackendOpenRouter, provider.BackendAnthropic} {
		if section, ok := cfg.Backend(string(b)); ok {
			backends[b] = section
		}
	}

	return Settings{
		Primary:           primary,
		Fallbacks:         fallbacks,
		AlwaysMock:        cfg.Inference.AlwaysMock,
		AutoFallback:      cfg.Inference.AutoFallback,
		Timeout:           time.Duration(cfg.Inference.TimeoutSeconds) * time.Second,
		Temperature:       float32(cfg.Inference.Temperature),
		MaxTokens:         cfg.Inference.MaxTokens,
		MaxRetries:        cfg.Inference.MaxRetries,
		RequestsPerMinute: cfg.Inference.RequestsPerMinute,
		CacheSize:         cfg.Inference.CacheSize,
		Backends:          backends,
	}
}

// MockMode reports whether calls never leave the process.
func (s Settings) MockMode() bool {
	return s.AlwaysMock || !s.Primary.Networked()
}

// Candidates lists the primary then each fallback, without duplicates.
func (s Settings) Candidates() []provider.Candidate {
	seen := map[provider.Backend]bool{}
	var out []provider.Candidate
	for _, b := range append([]provider.Backend{s.Primary}, s.Fallbacks...) {
		if seen[b] || !b.Networked() {
			continue
		}
		seen[b] = true
		out = append(out, provider.Candidate{Backend: b, Section: s.Backends[b]})
	}
	return out
}

// DefaultModel returns the configured model for a backend.
// The mock backend borrows the default backend's model so envelopes read "<model>-mock".
func (s Settings) DefaultModel(b provider.Backend) string {
	if !b.Networked() {
		b = provider.Backend(am.DefaultBackend)
	}
	if section, ok := s.Backends[b]; ok && section.Model != "" {
		return section.Model
	}
	return string(b)
}
