package am

import "github.com/teranos/carbonfill/errors"

// KnownBackends lists the accepted inference.backend values.
var KnownBackends = []string{"deepseek", "openai", "openrouter", "anthropic", "mock"}

func isKnownBackend(name string) bool {
	for _, b := range KnownBackends {
		if b == name {
			return true
		}
	}
	return false
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if !isKnownBackend(c.Inference.Backend) {
		return errors.WithHintf(
			errors.Newf("inference.backend %q is not supported", c.Inference.Backend),
			"use one of %v", KnownBackends)
	}
	for _, fb := range c.Inference.Fallbacks {
		if !isKnownBackend(fb) || fb == "mock" {
			return errors.Newf("inference.fallbacks contains unsupported backend %q", fb)
		}
	}

	// Timeout: 0 is invalid (omit for default), negative is invalid
	if c.Inference.TimeoutSeconds <= 0 {
		return errors.Newf("inference.timeout_seconds must be > 0, got %d", c.Inference.TimeoutSeconds)
	}
	if c.Inference.Temperature < 0 || c.Inference.Temperature > 2 {
		return errors.Newf("inference.temperature must be within 0..2, got %f", c.Inference.Temperature)
	}
	if c.Inference.MaxTokens <= 0 {
		return errors.Newf("inference.max_tokens must be > 0, got %d", c.Inference.MaxTokens)
	}
	if c.Inference.MaxRetries < 0 {
		return errors.Newf("inference.max_retries must be >= 0, got %d", c.Inference.MaxRetries)
	}
	// Rate limit: 0 = unlimited, negative = invalid
	if c.Inference.RequestsPerMinute < 0 {
		return errors.Newf("inference.requests_per_minute must be >= 0, got %d", c.Inference.RequestsPerMinute)
	}
	if c.Inference.CacheSize < 0 {
		return errors.Newf("inference.cache_size must be >= 0, got %d", c.Inference.CacheSize)
	}

	if c.Enrichment.UncertaintyThreshold <= 0 || c.Enrichment.UncertaintyThreshold > 100 {
		return errors.Newf("enrichment.uncertainty_threshold must be within (0, 100], got %f", c.Enrichment.UncertaintyThreshold)
	}
	if c.Enrichment.Concurrency <= 0 {
		return errors.Newf("enrichment.concurrency must be > 0, got %d", c.Enrichment.Concurrency)
	}
	if c.Enrichment.ReasonMaxLen < 0 {
		return errors.Newf("enrichment.reason_max_len must be >= 0, got %d", c.Enrichment.ReasonMaxLen)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be within 1..65535, got %d", c.Server.Port)
	}
	if c.Server.MaxBatchSize <= 0 {
		return errors.Newf("server.max_batch_size must be > 0, got %d", c.Server.MaxBatchSize)
	}

	return nil
}
