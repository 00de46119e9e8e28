// Package invoke sends chat completions to the configured backend and never
// lets a backend failure reach the caller unless auto fallback is off.
package invoke

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/carbonfill/ai/mock"
	"github.com/teranos/carbonfill/ai/provider"
	"github.com/teranos/carbonfill/ai/tracker"
	"github.com/teranos/carbonfill/errors"
	"github.com/teranos/carbonfill/logger"
)

// DefaultTimeout bounds one backend call when settings leave it unset
const DefaultTimeout = 120 * time.Second

// ErrMockMode is the degrade cause when mock mode was selected explicitly
var ErrMockMode = errors.New("mock mode")

// Kind classifies how a completion was produced
type Kind string

const (
	KindSuccess  Kind = "success"
	KindDegraded Kind = "degraded"
)

// Outcome records whether the envelope came from a real backend
type Outcome struct {
	Kind  Kind
	Cause error // nil on success
}

// Degraded reports whether the envelope is mock content
func (o Outcome) Degraded() bool {
	return o.Kind == KindDegraded
}

// Failed reports whether the envelope replaces a failed call, as opposed to
// explicitly requested mock mode.
func (o Outcome) Failed() bool {
	return o.Degraded() && !errors.Is(o.Cause, ErrMockMode)
}

// String renders the outcome for headers and logs
func (o Outcome) String() string {
	if o.Cause == nil {
		return string(o.Kind)
	}
	return string(o.Kind) + ": " + errors.Cause(o.Cause, 80)
}

// Request is one invocation
type Request struct {
	Messages    []openai.ChatCompletionMessage
	Model       string   // empty = backend default
	Temperature *float32 // nil = settings default
	MaxTokens   int      // 0 = settings default
}

// Completion is the result of an invocation
type Completion struct {
	Envelope openai.ChatCompletionResponse
	Outcome  Outcome
	Backend  provider.Backend
	Model    string
}

// Content returns choices[0].message.content, or "" when absent
func (c Completion) Content() string {
	if len(c.Envelope.Choices) == 0 {
		return ""
	}
	return c.Envelope.Choices[0].Message.Content
}

// Invoker resolves a backend per call and degrades to the mock responder.
// Safe for concurrent use.
type Invoker struct {
	settings Settings
	clients  map[provider.Backend]provider.Completer
	mock     *mock.Responder
	limiter  *rate.Limiter
	cache    *lru.Cache[string, openai.ChatCompletionResponse]
	tracker  tracker.Recorder
	logger   *zap.SugaredLogger
	tracer   trace.Tracer
}

// Option configures an Invoker
type Option func(*Invoker)

// WithClient overrides the client used for a backend
func WithClient(b provider.Backend, c provider.Completer) Option {
	return func(inv *Invoker) { inv.clients[b] = c }
}

// WithMock replaces the mock responder
func WithMock(m *mock.Responder) Option {
	return func(inv *Invoker) { inv.mock = m }
}

// WithTracker records usage of every networked call
func WithTracker(t tracker.Recorder) Option {
	return func(inv *Invoker) { inv.tracker = t }
}

// WithLogger sets the logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(inv *Invoker) { inv.logger = l }
}

// WithTracerProvider sets the OpenTelemetry tracer provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(inv *Invoker) { inv.tracer = tp.Tracer("carbonfill/ai/invoke") }
}

// New builds an invoker and a client for every candidate backend holding a key.
func New(settings Settings, opts ...Option) (*Invoker, error) {
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}
	inv := &Invoker{
		settings: settings,
		clients:  map[provider.Backend]provider.Completer{},
		mock:     mock.New(),
		logger:   logger.ComponentLogger("ai.invoke"),
		tracer:   otel.Tracer("carbonfill/ai/invoke"),
	}
	for _, opt := range opts {
		opt(inv)
	}

	if settings.RequestsPerMinute > 0 {
		inv.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(settings.RequestsPerMinute)), 1)
	}
	if settings.CacheSize > 0 {
		cache, err := lru.New[string, openai.ChatCompletionResponse](settings.CacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "create completion cache")
		}
		inv.cache = cache
	}

	for _, cand := range settings.Candidates() {
		if _, ok := inv.clients[cand.Backend]; ok || cand.Section.APIKey == "" {
			continue
		}
		client, err := provider.New(cand.Backend, cand.Section, provider.ClientConfig{
			Timeout:    settings.Timeout,
			MaxRetries: settings.MaxRetries,
			RetryDelay: settings.RetryDelay,
			Tracker:    inv.tracker,
			Logger:     inv.logger,
		})
		if err != nil {
			return nil, err
		}
		inv.clients[cand.Backend] = client
	}

	return inv, nil
}

// Settings returns the invoker's settings
func (inv *Invoker) Settings() Settings {
	return inv.settings
}

// Invoke runs one completion. The error is non-nil only when auto fallback is
// off and the call failed; otherwise failures come back as a degraded Completion.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (Completion, error) {
	ctx, span := inv.tracer.Start(ctx, "invoke.Invoke")
	defer span.End()
	log := logger.FromContext(ctx, inv.logger)

	requested := req.Model
	if requested == "" {
		requested = inv.settings.DefaultModel(inv.settings.Primary)
	}

	if inv.settings.MockMode() {
		span.SetAttributes(attribute.String("carbonfill.backend", string(provider.BackendMock)))
		return inv.degrade(ctx, span, req, requested, ErrMockMode)
	}

	cand, ok := provider.Resolve(inv.settings.Candidates())
	if !ok {
		cause := errors.Mark(
			errors.Newf("no API key for %s", joinBackends(inv.settings.Candidates())),
			errors.ErrCredentialMissing)
		log.Warnw("No credential configured, degrading", logger.FieldCause, cause.Error())
		return inv.degrade(ctx, span, req, requested, cause)
	}
	if cand.Backend != inv.settings.Primary {
		log.Infow("Primary backend has no key, using fallback",
			"primary", inv.settings.Primary, logger.FieldBackend, cand.Backend)
	}

	model := req.Model
	if model == "" {
		model = inv.settings.DefaultModel(cand.Backend)
	}
	chatReq := inv.chatRequest(req, model)
	span.SetAttributes(
		attribute.String("carbonfill.backend", string(cand.Backend)),
		attribute.String("carbonfill.model", model),
	)

	key := cacheKey(cand.Backend, chatReq)
	if inv.cache != nil {
		if env, ok := inv.cache.Get(key); ok {
			span.SetAttributes(attribute.Bool("carbonfill.cache_hit", true))
			log.Debugw("Completion cache hit", logger.FieldBackend, cand.Backend, logger.FieldModel, model)
			return Completion{Envelope: env, Outcome: Outcome{Kind: KindSuccess}, Backend: cand.Backend, Model: model}, nil
		}
	}

	client, ok := inv.clients[cand.Backend]
	if !ok {
		return inv.degrade(ctx, span, req, model, errors.Mark(
			errors.Newf("no client for %s", cand.Backend), errors.ErrCredentialMissing))
	}

	if inv.limiter != nil {
		if err := inv.limiter.Wait(ctx); err != nil {
			return inv.degrade(ctx, span, req, model, errors.Mark(
				errors.Wrap(err, "rate limiter"), errors.ErrTransport))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, inv.settings.Timeout)
	defer cancel()

	start := time.Now()
	env, err := client.Complete(callCtx, chatReq)
	elapsed := time.Since(start)
	if err != nil {
		cause := classifyTransport(cand.Backend, inv.settings.Timeout, callCtx, err)
		log.Warnw("Backend call failed, degrading",
			logger.FieldBackend, cand.Backend,
			logger.FieldModel, model,
			logger.FieldStatusCode, provider.StatusCode(err),
			logger.FieldDurationMS, elapsed.Milliseconds(),
			logger.FieldError, err)
		return inv.degrade(ctx, span, req, model, cause)
	}

	if cause := checkShape(cand.Backend, env); cause != nil {
		log.Warnw("Backend response has no content, degrading",
			logger.FieldBackend, cand.Backend, logger.FieldModel, model)
		return inv.degrade(ctx, span, req, model, cause)
	}

	log.Debugw("Backend call succeeded",
		logger.FieldBackend, cand.Backend,
		logger.FieldModel, model,
		logger.FieldTotalTokens, env.Usage.TotalTokens,
		logger.FieldDurationMS, elapsed.Milliseconds())

	if inv.cache != nil {
		inv.cache.Add(key, env)
	}
	span.SetAttributes(attribute.String("carbonfill.outcome", string(KindSuccess)))
	return Completion{Envelope: env, Outcome: Outcome{Kind: KindSuccess}, Backend: cand.Backend, Model: model}, nil
}

// degrade substitutes a mock envelope, or returns the cause when auto fallback is off.
// Explicit mock mode always answers.
func (inv *Invoker) degrade(ctx context.Context, span trace.Span, req Request, model string, cause error) (Completion, error) {
	outcome := Outcome{Kind: KindDegraded, Cause: cause}
	span.SetAttributes(
		attribute.String("carbonfill.outcome", string(KindDegraded)),
		attribute.String("carbonfill.cause", errors.Cause(cause, 80)),
	)

	if outcome.Failed() {
		span.RecordError(cause)
		span.SetStatus(codes.Error, errors.Cause(cause, 80))
		if !inv.settings.AutoFallback {
			return Completion{Outcome: outcome, Backend: provider.BackendMock, Model: model}, cause
		}
	}

	chatReq := inv.chatRequest(req, model)
	env, _ := inv.mock.Complete(ctx, chatReq)
	return Completion{Envelope: env, Outcome: outcome, Backend: provider.BackendMock, Model: model}, nil
}

func (inv *Invoker) chatRequest(req Request, model string) openai.ChatCompletionRequest {
	temperature := inv.settings.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := inv.settings.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// classifyTransport turns a client error into a short transport cause.
func classifyTransport(b provider.Backend, timeout time.Duration, callCtx context.Context, err error) error {
	var cause error
	switch code := provider.StatusCode(err); {
	case code > 0:
		cause = errors.Newf("%s returned HTTP %d", b, code)
	case errors.Is(callCtx.Err(), context.DeadlineExceeded) || isTimeout(err):
		cause = errors.Mark(errors.Newf("%s timed out after %s", b, timeout), errors.ErrTimeout)
	default:
		cause = errors.Newf("%s unreachable: %s", b, errors.UnwrapAll(err).Error())
	}
	return errors.Mark(errors.WithSecondaryError(cause, err), errors.ErrTransport)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func checkShape(b provider.Backend, env openai.ChatCompletionResponse) error {
	if len(env.Choices) == 0 {
		return errors.Mark(errors.Newf("%s returned no choices", b), errors.ErrResponseShape)
	}
	if strings.TrimSpace(env.Choices[0].Message.Content) == "" {
		return errors.Mark(errors.Newf("%s returned empty content", b), errors.ErrResponseShape)
	}
	return nil
}

func cacheKey(b provider.Backend, req openai.ChatCompletionRequest) string {
	h := sha256.New()
	h.Write([]byte(b))
	h.Write([]byte{0})
	_ = json.NewEncoder(h).Encode(req)
	return hex.EncodeToString(h.Sum(nil))
}

func joinBackends(cands []provider.Candidate) string {
	names := make([]string, len(cands))
	for i, c := range cands {
		names[i] = string(c.Backend)
	}
	if len(names) == 0 {
		return "any backend"
	}
	return strings.Join(names, " or ")
}
