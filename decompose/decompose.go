// Package decompose breaks a product into weighted base materials with one
// inference call, so its carbon footprint can be summed per material.
package decompose

import (
	"context"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/teranos/carbonfill/ai/invoke"
	"github.com/teranos/carbonfill/ai/tracker"
	"github.com/teranos/carbonfill/enrich"
	"github.com/teranos/carbonfill/errors"
	"github.com/teranos/carbonfill/lca"
	"github.com/teranos/carbonfill/logger"
)

const (
	UnitGram     = "g"
	UnitKilogram = "kg"

	// weightTolerance is how far, in grams, material weights may drift from
	// the product weight before they are rescaled
	weightTolerance = 1.0

	temperature = 0.2
)

// Request names the product to decompose. Unit defaults to grams.
type Request struct {
	ProductName string
	TotalWeight float64
	Unit        string
}

func (r Request) validate() (Request, error) {
	r.ProductName = strings.TrimSpace(r.ProductName)
	if r.ProductName == "" {
		return r, errors.NewInvalidRequestError("product name is required")
	}
	if math.IsNaN(r.TotalWeight) || r.TotalWeight <= 0 {
		return r, errors.NewInvalidRequestError("total weight must be greater than zero, got %v", r.TotalWeight)
	}
	switch r.Unit {
	case "":
		r.Unit = UnitGram
	case UnitGram, UnitKilogram:
	default:
		return r, errors.NewInvalidRequestError("unsupported weight unit %q (supported: g, kg)", r.Unit)
	}
	return r, nil
}

// Material is one base material. Weight is in the request unit, CarbonFactor
// in kg CO2e/kg and CarbonFootprint in kg CO2e.
type Material struct {
	Name            string  `json:"material_name"`
	Percentage      float64 `json:"percentage"`
	Weight          float64 `json:"weight"`
	CarbonFactor    float64 `json:"carbon_factor"`
	CarbonFootprint float64 `json:"carbon_footprint"`
	DataSource      string  `json:"data_source"`
}

// Result is a decomposition. Status is completed when every material carries
// a carbon factor, manual-required otherwise.
type Result struct {
	RunID                string         `json:"run_id"`
	ProductName          string         `json:"product_name"`
	ProductWeight        float64        `json:"product_weight"`
	Unit                 string         `json:"unit"`
	Materials            []Material     `json:"materials"`
	TotalCarbonFootprint float64        `json:"total_carbon_footprint"`
	Status               string         `json:"status"`
	Outcome              enrich.Outcome `json:"outcome"`
	Backend              string         `json:"backend,omitempty"`
	Extractor            string         `json:"extractor,omitempty"`
	Cause                string         `json:"cause,omitempty"`
	RawResponse          string         `json:"raw_response,omitempty"`
}

// Decomposer runs decompositions. Safe for concurrent use.
type Decomposer struct {
	invoker      enrich.Invoker
	recipe       *Recipe
	reasonMaxLen int
	logger       *zap.SugaredLogger
	tracer       trace.Tracer
}

// Option configures a Decomposer
type Option func(*Decomposer)

// WithRecipe replaces the embedded recipe
func WithRecipe(r *Recipe) Option {
	return func(d *Decomposer) { d.recipe = r }
}

// WithReasonMaxLen bounds the failure cause written to the result
func WithReasonMaxLen(n int) Option {
	return func(d *Decomposer) {
		if n > 0 {
			d.reasonMaxLen = n
		}
	}
}

// WithLogger sets the decomposer logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(d *Decomposer) { d.logger = l }
}

// WithTracerProvider sets the provider for decomposition spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Decomposer) { d.tracer = tp.Tracer("carbonfill/decompose") }
}

// New builds a Decomposer on the given invoker.
func New(inv enrich.Invoker, opts ...Option) *Decomposer {
	d := &Decomposer{
		invoker:      inv,
		recipe:       DefaultRecipe(),
		reasonMaxLen: enrich.DefaultReasonMaxLen,
		logger:       logger.ComponentLogger("decompose"),
		tracer:       otel.Tracer("carbonfill/decompose"),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Decompose asks the model for the product's materials. Only an invalid
// request or a context already done fail; any other failure yields a single
// manual-required material carrying the whole weight.
func (d *Decomposer) Decompose(ctx context.Context, req Request) (Result, error) {
	req, err := req.validate()
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, errors.Wrap(err, "decomposition not started")
	}

	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	ctx = tracker.WithScope(ctx, tracker.Scope{Operation: tracker.OperationDecompose, RunID: runID})
	ctx, span := d.tracer.Start(ctx, "decompose.Decompose", trace.WithAttributes(
		attribute.String("carbonfill.run_id", runID),
		attribute.String("carbonfill.product", req.ProductName),
	))
	defer span.End()
	log := logger.FromContext(ctx, d.logger)

	res := Result{
		RunID:         runID,
		ProductName:   req.ProductName,
		ProductWeight: req.TotalWeight,
		Unit:          req.Unit,
	}
	finish := func() (Result, error) {
		span.SetAttributes(
			attribute.String("carbonfill.outcome", string(res.Outcome)),
			attribute.Int("carbonfill.materials", len(res.Materials)),
		)
		log.Infow("Product decomposed",
			logger.FieldCount, len(res.Materials),
			logger.FieldOutcome, res.Outcome,
			logger.FieldStrategy, res.Extractor,
			logger.FieldCause, res.Cause)
		return res, nil
	}
	fail := func(cause error) (Result, error) {
		res.Cause = errors.Cause(cause, d.reasonMaxLen)
		res.Outcome = enrich.OutcomeManualRequired
		res.Status = lca.StatusManualRequired
		res.Materials = []Material{{
			Name:       req.ProductName,
			Percentage: 100,
			Weight:     req.TotalWeight,
			DataSource: "manual-required: " + res.Cause,
		}}
		res.TotalCarbonFootprint = 0
		return finish()
	}

	t := float32(temperature)
	completion, err := d.invoker.Invoke(ctx, invoke.Request{
		Messages:    BuildPrompt(d.recipe, req).Messages(),
		Temperature: &t,
	})
	res.Backend = string(completion.Backend)
	if err != nil {
		return fail(err)
	}
	if completion.Outcome.Failed() {
		return fail(completion.Outcome.Cause)
	}
	res.RawResponse = completion.Content()

	drafts, extractor, err := chain(res.RawResponse,
		jsonMaterials{}, tableMaterials{recipe: d.recipe}, lineMaterials{recipe: d.recipe})
	if err != nil {
		log.Debugw("No extractor recovered materials", logger.FieldError, err)
		return fail(err)
	}
	res.Extractor = extractor

	materials, complete := normalize(drafts, req)
	if len(materials) == 0 {
		return fail(errors.Mark(errors.New("answer named no usable materials"), errors.ErrParse))
	}
	res.Materials = materials
	for _, m := range materials {
		res.TotalCarbonFootprint += m.CarbonFootprint
	}

	res.Status = lca.StatusCompleted
	if !complete {
		res.Status = lca.StatusManualRequired
	}
	res.Outcome = enrich.OutcomeSuccess
	if completion.Outcome.Degraded() {
		res.Outcome = enrich.OutcomeDegraded
		res.Cause = errors.Cause(completion.Outcome.Cause, d.reasonMaxLen)
	}
	return finish()
}

// normalize converts drafts to the request unit, fills weight from share and
// share from weight, and rescales weights that drift from the product weight.
// complete is false when a material has no carbon factor.
func normalize(drafts []draft, req Request) ([]Material, bool) {
	total := req.TotalWeight
	materials := make([]Material, 0, len(drafts))
	complete := true

	for _, dr := range drafts {
		name := strings.TrimSpace(dr.Name)
		if name == "" {
			continue
		}
		m := Material{Name: name, DataSource: strings.TrimSpace(dr.DataSource)}
		if dr.Weight != nil && *dr.Weight > 0 {
			m.Weight = convert(*dr.Weight, dr.Unit, req.Unit)
		} else if dr.Percentage != nil && *dr.Percentage > 0 {
			m.Weight = total * *dr.Percentage / 100
		}
		if m.Weight <= 0 {
			continue
		}
		switch {
		case dr.CarbonFactor != nil && *dr.CarbonFactor >= 0:
			m.CarbonFactor = *dr.CarbonFactor
			if m.DataSource == "" {
				m.DataSource = "ai-generated"
			}
		default:
			complete = false
			m.DataSource = "manual-required: no carbon factor"
		}
		materials = append(materials, m)
	}
	if len(materials) == 0 {
		return nil, false
	}

	sum := 0.0
	for _, m := range materials {
		sum += m.Weight
	}
	if math.Abs(convert(sum-total, req.Unit, UnitGram)) > weightTolerance {
		ratio := total / sum
		for i := range materials {
			materials[i].Weight *= ratio
		}
	}
	for i := range materials {
		m := &materials[i]
		m.Percentage = m.Weight / total * 100
		m.CarbonFootprint = convert(m.Weight, req.Unit, UnitKilogram) * m.CarbonFactor
	}
	return materials, complete
}

// convert changes a weight between grams and kilograms. An empty from unit
// means the value is already in to.
func convert(v float64, from, to string) float64 {
	switch {
	case from == "" || from == to:
		return v
	case from == UnitGram && to == UnitKilogram:
		return v / 1000
	case from == UnitKilogram && to == UnitGram:
		return v * 1000
	default:
		panic(errors.AssertionFailedf("convert %s to %s", from, to))
	}
}

