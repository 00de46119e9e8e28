package enrich

import (
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teranos/carbonfill/lca"
)

// Prompt is the system and user text for one group
type Prompt struct {
	System string
	User   string
}

// Messages returns the two-message chat envelope
func (p Prompt) Messages() []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: p.System},
		{Role: openai.ChatMessageRoleUser, Content: p.User},
	}
}

// BuildPrompt renders the prompt for a group from its stage strategy. The
// system message fixes the role and the output fields; the user message
// carries the nodes.
func BuildPrompt(s Strategy, g Group) Prompt {
	var sys strings.Builder
	sys.WriteString(s.Role)
	sys.WriteString(" You fill carbon factors for the ")
	sys.WriteString(g.Stage.Label())
	sys.WriteString(" stage of a product lifecycle assessment.\n\n")

	sys.WriteString("For each node return:\n")
	fmt.Fprintf(&sys, "- id (string): the node id, copied unchanged\n")
	fmt.Fprintf(&sys, "- carbonFactor (number): emission factor in %s\n", s.Unit)
	fmt.Fprintf(&sys, "- carbonFactorUnit (string): the unit of carbonFactor\n")
	fmt.Fprintf(&sys, "- dataSource (string): the database, standard or reasoning behind the value\n")
	fmt.Fprintf(&sys, "- uncertaintyScore (number): see the scale below\n")
	fmt.Fprintf(&sys, "- uncertaintyFactors (array of strings): what drives the uncertainty\n")
	fmt.Fprintf(&sys, "- aiReasoning (string): the next-best data to collect to reduce the uncertainty\n")
	for _, f := range s.Fields {
		fmt.Fprintf(&sys, "- %s (%s, optional): %s\n", f.Name, f.Type, f.Description)
	}
	sys.WriteString("\n")
	sys.WriteString(strings.TrimSpace(s.Banding))

	var user strings.Builder
	fmt.Fprintf(&user, "%s\n\n", s.Task)
	fmt.Fprintf(&user, "Known attributes of the %d node(s) in this stage:\n", g.Size())
	user.WriteString("```json\n")
	user.WriteString(knownAttributes(s, g))
	user.WriteString("\n```\n\n")

	user.WriteString("Rules:\n")
	user.WriteString("- Only fill optional fields you can justify. Never fabricate supplier or site data.\n")
	user.WriteString("- When no reliable value exists, give your best estimate with a high uncertainty score.\n")
	user.WriteString("- Answer with a single ```json fenced block holding an array with one element per node, each carrying its id.\n")

	return Prompt{System: sys.String(), User: user.String()}
}

// knownAttributes renders the context attributes of each member as a JSON array.
func knownAttributes(s Strategy, g Group) string {
	items := make([]map[string]any, 0, g.Size())
	for i, m := range g.Members {
		encoded := lca.Encode(m.Node)
		item := map[string]any{
			"position": i + 1,
			"id":       m.Node.Common().ID,
		}
		for _, key := range s.Context {
			if v, ok := encoded[key]; ok && v != nil && v != "" {
				item[key] = v
			}
		}
		items = append(items, item)
	}

	out, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		// Encoded nodes only hold JSON values
		return "[]"
	}
	return string(out)
}
