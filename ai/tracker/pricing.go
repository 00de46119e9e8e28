package tracker

// ModelPricing is USD per million tokens
type ModelPricing struct {
	PromptPrice     float64
	CompletionPrice float64
}

// Published list prices for the default model of each backend and a few
// common alternatives. Unknown models are not priced.
var modelPricing = map[string]ModelPricing{
	"deepseek-chat":     {PromptPrice: 0.27, CompletionPrice: 1.10},
	"deepseek-reasoner": {PromptPrice: 0.55, CompletionPrice: 2.19},

	"gpt-3.5-turbo": {PromptPrice: 0.50, CompletionPrice: 1.50},
	"gpt-4o-mini":   {PromptPrice: 0.15, CompletionPrice: 0.60},
	"gpt-4o":        {PromptPrice: 2.50, CompletionPrice: 10.00},

	"openai/gpt-4o-mini":                {PromptPrice: 0.15, CompletionPrice: 0.60},
	"openai/gpt-4o":                     {PromptPrice: 2.50, CompletionPrice: 10.00},
	"anthropic/claude-3.5-sonnet":       {PromptPrice: 3.00, CompletionPrice: 15.00},
	"meta-llama/llama-3.1-70b-instruct": {PromptPrice: 0.52, CompletionPrice: 0.75},

	"claude-sonnet-4-20250514":  {PromptPrice: 3.00, CompletionPrice: 15.00},
	"claude-3-5-haiku-20241022": {PromptPrice: 0.80, CompletionPrice: 4.00},
}

// GetPricing returns the price of a model, if known
func GetPricing(model string) (ModelPricing, bool) {
	p, ok := modelPricing[model]
	return p, ok
}

// EstimateCost prices a token count in USD. ok is false for unknown models.
func EstimateCost(model string, promptTokens, completionTokens int) (cost float64, ok bool) {
	p, ok := modelPricing[model]
	if !ok {
		return 0, false
	}
	cost = float64(promptTokens)/1_000_000*p.PromptPrice +
		float64(completionTokens)/1_000_000*p.CompletionPrice
	return cost, true
}
