package decompose

import (
	"fmt"
	"strings"

	"github.com/teranos/carbonfill/enrich"
)

// BuildPrompt renders the decomposition prompt. The system message fixes the
// role, rules and output fields; the user message names the product.
func BuildPrompt(r *Recipe, req Request) enrich.Prompt {
	var sys strings.Builder
	sys.WriteString(r.Role)
	sys.WriteString("\n\nRules:\n")
	for _, rule := range r.Rules {
		fmt.Fprintf(&sys, "- %s\n", rule)
	}
	sys.WriteString("\nFor each material return:\n")
	for _, f := range r.Fields {
		fmt.Fprintf(&sys, "- %s (%s): %s\n", f.Name, f.Type, f.Description)
	}

	var user strings.Builder
	fmt.Fprintf(&user, "%s\n\n", r.Task)
	fmt.Fprintf(&user, "Product name: %s\n", req.ProductName)
	fmt.Fprintf(&user, "Total weight: %g %s\n\n", req.TotalWeight, req.Unit)
	fmt.Fprintf(&user, "Give weights in %s. ", req.Unit)
	user.WriteString("Answer with a single ```json fenced block holding an array with one object per material.\n")

	return enrich.Prompt{System: strings.TrimRight(sys.String(), "\n"), User: user.String()}
}
