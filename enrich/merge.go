package enrich

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/carbonfill/errors"
	"github.com/teranos/carbonfill/lca"
	"github.com/teranos/carbonfill/logger"
)

// Provenance prefixes written to dataSource
const (
	SourceAIGenerated     = "ai-generated"
	SourceManualRequired  = "manual-required"
	SourceDatabaseMatched = "database-matched"
)

const (
	// DefaultThreshold is the exclusive uncertainty bound for completed nodes
	DefaultThreshold = 70.0

	// DefaultReasonMaxLen bounds the failure cause written to dataSource
	DefaultReasonMaxLen = 50

	justificationMaxLen = 120
	missingScore        = 100.0
)

// Merger writes results onto group members and classifies them
type Merger struct {
	Threshold    float64
	ReasonMaxLen int
	Logger       *zap.SugaredLogger
}

func (m Merger) log() *zap.SugaredLogger {
	if m.Logger == nil {
		return logger.Logger
	}
	return m.Logger
}

// Merge matches results to members by id, then by position, and returns the
// updated members in group order. Members left without a result are marked
// manual-required.
func (m Merger) Merge(s Strategy, g Group, results []Result, backend string) ([]Member, error) {
	if err := checkGroup(g); err != nil {
		return nil, err
	}

	n := g.Size()
	assigned := make([]*Result, n)
	byID := make(map[string]int, n)
	for i, mem := range g.Members {
		byID[mem.Node.Common().ID] = i
	}

	// Id matches claim first
	pending := make([]int, 0, len(results))
	for ri := range results {
		r := &results[ri]
		if i, ok := byID[r.ID]; ok && r.ID != "" && assigned[i] == nil {
			assigned[i] = r
			continue
		}
		pending = append(pending, ri)
	}

	for _, ri := range pending {
		r := &results[ri]
		pos := ri
		if r.Position > 0 {
			pos = r.Position - 1
		}
		if pos < 0 || pos >= n || assigned[pos] != nil {
			m.log().Debugw("Ignoring unattributable result",
				logger.FieldStage, g.Stage,
				logger.FieldNodeID, r.ID,
				"position", r.Position)
			continue
		}
		assigned[pos] = r
	}

	out := make([]Member, n)
	for i, mem := range g.Members {
		node := lca.Clone(mem.Node)
		if assigned[i] == nil {
			markNoResult(node)
		} else {
			node = m.apply(s, node, *assigned[i], backend)
		}
		out[i] = Member{Index: mem.Index, Node: node}
	}
	return out, nil
}

// Fail marks every member manual-required with the failure cause.
func (m Merger) Fail(g Group, cause error) ([]Member, error) {
	if err := checkGroup(g); err != nil {
		return nil, err
	}

	source := SourceManualRequired + " – " + errors.Cause(cause, m.reasonMaxLen())
	out := make([]Member, g.Size())
	for i, mem := range g.Members {
		node := lca.Clone(mem.Node)
		b := node.Common()
		b.CarbonFactor = float64Ptr(0)
		if b.CarbonFactorUnit == "" {
			b.CarbonFactorUnit = lca.DefaultCarbonFactorUnit
		}
		b.UncertaintyScore = float64Ptr(missingScore)
		b.DataSource = source
		b.CompletionStatus = lca.StatusManualRequired
		b.VerificationStatus = lca.VerificationUnverified
		out[i] = Member{Index: mem.Index, Node: node}
	}
	return out, nil
}

func (m Merger) reasonMaxLen() int {
	if m.ReasonMaxLen <= 0 {
		return DefaultReasonMaxLen
	}
	return m.ReasonMaxLen
}

func (m Merger) apply(s Strategy, node lca.Node, r Result, backend string) lca.Node {
	if attrs := stageAttributes(s, r); len(attrs) > 0 {
		patched, err := lca.Patch(node, attrs)
		if err != nil {
			m.log().Debugw("Skipping stage attributes",
				logger.FieldNodeID, node.Common().ID,
				logger.FieldError, err)
		} else {
			node = patched
		}
	}

	b := node.Common()
	b.VerificationStatus = lca.VerificationUnverified
	b.AIReasoning = r.Reasoning
	b.UncertaintyFactors = r.UncertaintyFactors

	b.CarbonFactorUnit = r.CarbonFactorUnit
	if b.CarbonFactorUnit == "" {
		b.CarbonFactorUnit = s.Unit
	}

	if r.CarbonFactor == nil {
		b.CarbonFactor = float64Ptr(0)
		b.UncertaintyScore = float64Ptr(missingScore)
		b.DataSource = SourceManualRequired + " – no carbon factor in result"
		b.CompletionStatus = lca.StatusManualRequired
		return node
	}

	score := missingScore
	if r.UncertaintyScore != nil {
		score = clamp(*r.UncertaintyScore, 0, 100)
	}
	b.CarbonFactor = float64Ptr(*r.CarbonFactor)
	b.UncertaintyScore = float64Ptr(score)
	b.DataSource = fmt.Sprintf("%s – %s (%s)", SourceAIGenerated, backend, justification(r))
	b.CompletionStatus = m.classify(score)
	return node
}

// classify applies the exclusive threshold: scores below it are completed.
func (m Merger) classify(score float64) string {
	if score < m.Threshold {
		return lca.StatusCompleted
	}
	return lca.StatusManualRequired
}

func markNoResult(node lca.Node) {
	b := node.Common()
	if b.CarbonFactor == nil {
		b.CarbonFactor = float64Ptr(0)
	}
	if b.CarbonFactorUnit == "" {
		b.CarbonFactorUnit = lca.DefaultCarbonFactorUnit
	}
	if b.UncertaintyScore == nil {
		b.UncertaintyScore = float64Ptr(missingScore)
	}
	b.DataSource = SourceManualRequired + " – no result returned for node"
	b.CompletionStatus = lca.StatusManualRequired
	b.VerificationStatus = lca.VerificationUnverified
}

func stageAttributes(s Strategy, r Result) map[string]any {
	var attrs map[string]any
	for k, v := range r.Attributes {
		if v == nil || !s.HasField(k) {
			continue
		}
		if attrs == nil {
			attrs = make(map[string]any)
		}
		attrs[k] = v
	}
	return attrs
}

func justification(r Result) string {
	text := strings.TrimSpace(r.DataSource)
	if text == "" {
		text = "no justification given"
	}
	return truncate(text, justificationMaxLen)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

// checkGroup rejects member structures the grouper never produces.
func checkGroup(g Group) error {
	for i, mem := range g.Members {
		if mem.Index < 0 {
			return errors.AssertionFailedf("member %d of %s group has negative index %d", i, g.Stage, mem.Index)
		}
		if mem.Node == nil {
			return errors.AssertionFailedf("member %d of %s group has no node", i, g.Stage)
		}
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func float64Ptr(v float64) *float64 { return &v }
