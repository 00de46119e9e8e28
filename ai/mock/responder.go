// Package mock answers chat completions from a fixed pool of canned strings
// without touching the network.
package mock

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultPool is the set of canned replies. None of them carries structured data.
var DefaultPool = []string{
	"Hello! This is a test reply.",
	"Hello, I am the AI assistant and happy to help.",
	"This is a simulated API response; the API call succeeded!",
	"Test message received, this is an automatic reply.",
	"Greetings! This is a response from the mock API.",
}

// Responder produces well-formed completion envelopes from canned content.
// Safe for concurrent use.
type Responder struct {
	pool []string

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Responder
type Option func(*Responder)

// WithPool constrains the canned content. An empty pool is ignored.
func WithPool(pool ...string) Option {
	return func(r *Responder) {
		if len(pool) > 0 {
			r.pool = append([]string(nil), pool...)
		}
	}
}

// WithSeed makes content selection reproducible.
func WithSeed(seed uint64) Option {
	return func(r *Responder) {
		r.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

// New creates a Responder
func New(opts ...Option) *Responder {
	r := &Responder{pool: DefaultPool}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return r
}

// Respond builds a completion for the given model and messages.
func (r *Responder) Respond(model string, messages []openai.ChatCompletionMessage) openai.ChatCompletionResponse {
	content := r.pick()

	promptTokens := 0
	for _, m := range messages {
		promptTokens += estimateTokens(m.Content)
	}
	completionTokens := estimateTokens(content)

	return openai.ChatCompletionResponse{
		ID:      "mock-response-" + uuid.NewString()[:8],
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model + "-mock",
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
}

// Complete satisfies the backend interface. It never fails.
func (r *Responder) Complete(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return r.Respond(req.Model, req.Messages), nil
}

// Name returns the backend name
func (r *Responder) Name() string {
	return "mock"
}

func (r *Responder) pick() string {
	if len(r.pool) == 1 {
		return r.pool[0]
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool[r.rng.IntN(len(r.pool))]
}

// estimateTokens approximates tokens as characters / 4
func estimateTokens(s string) int {
	return len([]rune(s)) / 4
}
