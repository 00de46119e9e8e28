// Package enrich fills carbon factors for lifecycle nodes, one inference call
// per stage group.
package enrich

import "github.com/teranos/carbonfill/lca"

// Member is a node with its position in the input batch
type Member struct {
	Index int
	Node  lca.Node
}

// Group holds the nodes of one lifecycle stage, in input order
type Group struct {
	Stage   lca.Stage
	Members []Member
}

// Size returns the number of members
func (g Group) Size() int { return len(g.Members) }

// GroupByStage clones every node, applies defaults, and partitions the copies
// by stage. Groups are ordered by the first appearance of their stage.
func GroupByStage(nodes []lca.Node) []Group {
	var groups []Group
	pos := make(map[lca.Stage]int)

	for i, n := range nodes {
		c := lca.Clone(n)
		lca.ApplyDefaults(c, i)

		stage := c.Stage()
		gi, ok := pos[stage]
		if !ok {
			gi = len(groups)
			pos[stage] = gi
			groups = append(groups, Group{Stage: stage})
		}
		groups[gi].Members = append(groups[gi].Members, Member{Index: i, Node: c})
	}
	return groups
}
