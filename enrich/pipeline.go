package enrich

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/carbonfill/ai/invoke"
	"github.com/teranos/carbonfill/ai/tracker"
	"github.com/teranos/carbonfill/am"
	"github.com/teranos/carbonfill/errors"
	"github.com/teranos/carbonfill/lca"
	"github.com/teranos/carbonfill/logger"
)

// Outcome is how a stage group was enriched
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeDegraded       Outcome = "degraded"
	OutcomeManualRequired Outcome = "manual-required"
)

// GroupReport describes one processed stage group
type GroupReport struct {
	Stage     lca.Stage `json:"stage"`
	Size      int       `json:"size"`
	Outcome   Outcome   `json:"outcome"`
	Backend   string    `json:"backend,omitempty"`
	Extractor string    `json:"extractor,omitempty"`
	Cause     string    `json:"cause,omitempty"`
}

// Report is the result of a run. Nodes are in input order.
type Report struct {
	RunID  string        `json:"run_id"`
	Nodes  []lca.Node    `json:"-"`
	Stats  Stats         `json:"match_stats"`
	Groups []GroupReport `json:"groups"`
}

// Invoker runs one chat completion; *invoke.Invoker satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req invoke.Request) (invoke.Completion, error)
}

// RunRecorder stores run summaries; *tracker.UsageTracker satisfies it.
type RunRecorder interface {
	RecordRun(run tracker.RunRecord) error
}

// Options are the pipeline settings, read once per process
type Options struct {
	Threshold    float64 // exclusive; scores below are completed
	Concurrency  int     // stage groups in flight
	ReasonMaxLen int     // failure cause length in dataSource
}

// DefaultOptions returns threshold 70, sequential groups, 50-rune causes.
func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold, Concurrency: 1, ReasonMaxLen: DefaultReasonMaxLen}
}

// OptionsFromConfig reads the enrichment section
func OptionsFromConfig(cfg *am.Config) Options {
	return Options{
		Threshold:    cfg.Enrichment.UncertaintyThreshold,
		Concurrency:  cfg.Enrichment.Concurrency,
		ReasonMaxLen: cfg.Enrichment.ReasonMaxLen,
	}
}

// Pipeline enriches batches of lifecycle nodes
type Pipeline struct {
	invoker    Invoker
	opts       Options
	strategies *Strategies
	merger     Merger
	recorder   RunRecorder
	metrics    *Metrics
	logger     *zap.SugaredLogger
	tracer     trace.Tracer
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithRecorder stores a summary of every run
func WithRecorder(r RunRecorder) PipelineOption {
	return func(p *Pipeline) { p.recorder = r }
}

// WithMetrics records group and node counters
func WithMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithStrategies replaces the embedded strategy table
func WithStrategies(s *Strategies) PipelineOption {
	return func(p *Pipeline) { p.strategies = s }
}

// WithLogger sets the pipeline logger
func WithLogger(l *zap.SugaredLogger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithTracerProvider sets the provider for pipeline spans
func WithTracerProvider(tp trace.TracerProvider) PipelineOption {
	return func(p *Pipeline) { p.tracer = tp.Tracer("carbonfill/enrich") }
}

// New builds a pipeline. A zero Concurrency runs groups one at a time and a
// zero Threshold means DefaultThreshold.
func New(inv Invoker, opts Options, options ...PipelineOption) *Pipeline {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.ReasonMaxLen <= 0 {
		opts.ReasonMaxLen = DefaultReasonMaxLen
	}
	p := &Pipeline{
		invoker: inv,
		opts:    opts,
		logger:  logger.ComponentLogger("enrich"),
		tracer:  otel.Tracer("carbonfill/enrich"),
	}
	for _, o := range options {
		o(p)
	}
	if p.strategies == nil {
		p.strategies = DefaultStrategies()
	}
	p.merger = Merger{Threshold: opts.Threshold, ReasonMaxLen: opts.ReasonMaxLen, Logger: p.logger}
	return p
}

// Run enriches a batch. Only an empty batch or a context already done fail the
// run; every other failure becomes manual-required nodes.
func (p *Pipeline) Run(ctx context.Context, nodes []lca.Node) (Report, error) {
	return p.run(ctx, nodes, tracker.OperationEnrichGroup)
}

// Optimize enriches a single node through the same pipeline.
func (p *Pipeline) Optimize(ctx context.Context, node lca.Node) (lca.Node, GroupReport, error) {
	if node == nil {
		return nil, GroupReport{}, errors.NewInvalidRequestError("no node to optimize")
	}
	report, err := p.run(ctx, []lca.Node{node}, tracker.OperationOptimize)
	if err != nil {
		return nil, GroupReport{}, err
	}
	return report.Nodes[0], report.Groups[0], nil
}

func (p *Pipeline) run(ctx context.Context, nodes []lca.Node, operation string) (Report, error) {
	if len(nodes) == 0 {
		return Report{}, errors.NewInvalidRequestError("no nodes to enrich")
	}
	for i, n := range nodes {
		if n == nil {
			return Report{}, errors.NewInvalidRequestError("node %d is empty", i)
		}
	}
	if err := ctx.Err(); err != nil {
		return Report{}, errors.Wrap(err, "enrichment not started")
	}

	runID := uuid.NewString()
	started := time.Now()
	ctx = logger.WithRunID(ctx, runID)
	ctx, span := p.tracer.Start(ctx, "enrich.Run", trace.WithAttributes(
		attribute.String("carbonfill.run_id", runID),
		attribute.Int("carbonfill.nodes", len(nodes)),
	))
	defer span.End()
	log := logger.FromContext(ctx, p.logger)

	groups := GroupByStage(nodes)
	log.Infow("Enrichment started", logger.FieldCount, len(nodes), "groups", len(groups))

	out := make([]lca.Node, len(nodes))
	reports := make([]GroupReport, len(groups))

	var eg errgroup.Group
	eg.SetLimit(p.opts.Concurrency)
	for gi, g := range groups {
		eg.Go(func() error {
			gctx := tracker.WithScope(ctx, tracker.Scope{Operation: operation, Stage: string(g.Stage), RunID: runID})
			members, report, err := p.processGroup(gctx, g)
			if err != nil {
				return err
			}
			for _, m := range members {
				out[m.Index] = m.Node
			}
			reports[gi] = report
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Report{}, err
	}

	stats := ComputeStats(out)
	report := Report{RunID: runID, Nodes: out, Stats: stats, Groups: reports}

	degraded := 0
	for _, r := range reports {
		if r.Outcome != OutcomeSuccess {
			degraded++
		}
	}
	span.SetAttributes(
		attribute.Int("carbonfill.ai_matched", stats.AIMatched),
		attribute.Int("carbonfill.manual_required", stats.ManualRequired),
	)

	if p.recorder != nil {
		err := p.recorder.RecordRun(tracker.RunRecord{
			RunID:          runID,
			StartedAt:      started,
			FinishedAt:     time.Now(),
			TotalNodes:     stats.Total,
			AIMatched:      stats.AIMatched,
			ManualRequired: stats.ManualRequired,
			GroupsTotal:    len(reports),
			GroupsDegraded: degraded,
		})
		if err != nil {
			log.Warnw("Failed to record enrichment run", logger.FieldError, err)
		}
	}

	log.Infow("Enrichment finished",
		logger.FieldCount, stats.Total,
		"ai_matched", stats.AIMatched,
		"manual_required", stats.ManualRequired,
		logger.FieldDurationMS, time.Since(started).Milliseconds())
	return report, nil
}

// processGroup makes the group's single inference call and merges the answer.
// The only error is a malformed group.
func (p *Pipeline) processGroup(ctx context.Context, g Group) ([]Member, GroupReport, error) {
	ctx, span := p.tracer.Start(ctx, "enrich.group", trace.WithAttributes(
		attribute.String("carbonfill.stage", string(g.Stage)),
		attribute.Int("carbonfill.group_size", g.Size()),
	))
	defer span.End()
	log := logger.FromContext(ctx, p.logger).With(logger.FieldStage, g.Stage)
	start := time.Now()

	strategy := p.strategies.For(g.Stage)
	report := GroupReport{Stage: g.Stage, Size: g.Size()}

	finish := func(members []Member) ([]Member, GroupReport, error) {
		span.SetAttributes(attribute.String("carbonfill.outcome", string(report.Outcome)))
		p.metrics.observeGroup(report, members, time.Since(start).Seconds())
		log.Infow("Stage group enriched",
			logger.FieldGroupSize, report.Size,
			logger.FieldOutcome, report.Outcome,
			logger.FieldStrategy, report.Extractor,
			logger.FieldCause, report.Cause)
		return members, report, nil
	}
	fail := func(cause error) ([]Member, GroupReport, error) {
		members, err := p.merger.Fail(g, cause)
		if err != nil {
			return nil, report, err
		}
		report.Outcome = OutcomeManualRequired
		report.Cause = errors.Cause(cause, p.opts.ReasonMaxLen)
		return finish(members)
	}

	prompt := BuildPrompt(strategy, g)
	completion, err := p.invoker.Invoke(ctx, invoke.Request{Messages: prompt.Messages()})
	report.Backend = string(completion.Backend)
	if err != nil {
		return fail(err)
	}
	if completion.Outcome.Failed() {
		return fail(completion.Outcome.Cause)
	}

	results, extractor, err := NewChain(strategy).Extract(completion.Content(), g.Size())
	if err != nil {
		log.Debugw("No extractor recovered results", logger.FieldError, err)
		return fail(err)
	}
	report.Extractor = extractor

	members, err := p.merger.Merge(strategy, g, results, string(completion.Backend))
	if err != nil {
		return nil, report, err
	}
	report.Outcome = OutcomeSuccess
	if completion.Outcome.Degraded() {
		report.Outcome = OutcomeDegraded
		report.Cause = errors.Cause(completion.Outcome.Cause, p.opts.ReasonMaxLen)
	}
	return finish(members)
}
