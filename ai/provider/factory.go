// Package provider builds inference clients from configuration.
package provider

import (
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/teranos/carbonfill/ai/anthropic"
	"github.com/teranos/carbonfill/ai/mock"
	"github.com/teranos/carbonfill/ai/openaicompat"
	"github.com/teranos/carbonfill/ai/tracker"
	"github.com/teranos/carbonfill/am"
	"github.com/teranos/carbonfill/errors"
)

// Completer is implemented by every backend client
type Completer interface {
	Complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	Name() string
}

// ClientConfig holds settings shared by all backend clients
type ClientConfig struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Tracker    tracker.Recorder
	Logger     *zap.SugaredLogger
}

// New creates the client for one backend. The mock backend ignores section.
func New(backend Backend, section am.BackendConfig, cc ClientConfig) (Completer, error) {
	switch backend {
	case BackendMock:
		return mock.New(), nil
	case BackendAnthropic:
		return anthropic.NewClient(anthropic.Config{
			APIKey:              section.APIKey,
			Model:               section.Model,
			BaseURL:             section.BaseURL,
			AllowPrivateNetwork: section.AllowPrivateNetwork,
			Timeout:             cc.Timeout,
			MaxRetries:          cc.MaxRetries,
			RetryDelay:          cc.RetryDelay,
			Tracker:             cc.Tracker,
			Logger:              cc.Logger,
		}), nil
	case BackendDeepSeek, BackendOpenAI, BackendOpenRouter:
		return openaicompat.NewClient(openaicompat.Config{
			Provider:            string(backend),
			APIKey:              section.APIKey,
			Model:               section.Model,
			BaseURL:             section.BaseURL,
			AllowPrivateNetwork: section.AllowPrivateNetwork,
			Timeout:             cc.Timeout,
			MaxRetries:          cc.MaxRetries,
			RetryDelay:          cc.RetryDelay,
			Tracker:             cc.Tracker,
			Logger:              cc.Logger,
		}), nil
	default:
		return nil, errors.Newf("no client for backend %q", backend)
	}
}

// Candidate is a backend section considered during credential resolution
type Candidate struct {
	Backend Backend
	Section am.BackendConfig
}

// Resolve returns the first candidate holding a credential, in order.
// ok is false when none has one.
func Resolve(candidates []Candidate) (Candidate, bool) {
	for _, c := range candidates {
		if c.Backend.Networked() && c.Section.APIKey != "" {
			return c, true
		}
	}
	return Candidate{}, false
}

// StatusCode extracts the HTTP status from a backend error, or 0 when the
// failure happened below HTTP.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// Verify interfaces are implemented
var _ Completer = (*openaicompat.Client)(nil)
var _ Completer = (*anthropic.Client)(nil)
var _ Completer = (*mock.Responder)(nil)
