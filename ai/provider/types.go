package provider

import (
	"strings"

	"github.com/teranos/carbonfill/errors"
)

// Backend names an inference backend
type Backend string

const (
	BackendDeepSeek   Backend = "deepseek"   // DeepSeek chat API (OpenAI-compatible)
	BackendOpenAI     Backend = "openai"     // OpenAI API
	BackendOpenRouter Backend = "openrouter" // OpenRouter gateway
	BackendAnthropic  Backend = "anthropic"  // Anthropic Messages API
	BackendMock       Backend = "mock"       // canned responses, no network
)

// Networked reports whether the backend needs a credential and performs I/O
func (b Backend) Networked() bool {
	return b != BackendMock
}

// ParseBackend converts a string to a Backend, accepting common aliases
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deepseek", "ds":
		return BackendDeepSeek, nil
	case "openai", "gpt":
		return BackendOpenAI, nil
	case "openrouter", "or":
		return BackendOpenRouter, nil
	case "anthropic", "claude":
		return BackendAnthropic, nil
	case "mock", "":
		return BackendMock, nil
	default:
		return "", errors.NewInvalidRequestError(
			"unknown backend: %s (valid: deepseek, openai, openrouter, anthropic, mock)", s)
	}
}
