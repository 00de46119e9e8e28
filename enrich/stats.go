package enrich

import (
	"strings"

	"github.com/teranos/carbonfill/lca"
)

// Stats summarizes where the carbon factors of a batch came from
type Stats struct {
	Total          int            `json:"total"`
	DBMatched      int            `json:"db_matched"`
	AIMatched      int            `json:"ai_matched"`
	ManualRequired int            `json:"manual_required"`
	MatchSources   map[string]int `json:"match_sources"`
}

// ComputeStats classifies nodes by their dataSource prefix. MatchSources counts
// each distinct dataSource verbatim.
func ComputeStats(nodes []lca.Node) Stats {
	stats := Stats{Total: len(nodes), MatchSources: make(map[string]int)}
	for _, n := range nodes {
		source := n.Common().DataSource
		switch {
		case strings.Contains(source, SourceDatabaseMatched):
			stats.DBMatched++
		case strings.Contains(source, SourceAIGenerated):
			stats.AIMatched++
		case strings.Contains(source, SourceManualRequired):
			stats.ManualRequired++
		}
		stats.MatchSources[source]++
	}
	return stats
}
