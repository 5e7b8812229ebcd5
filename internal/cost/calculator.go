// Package cost computes EUR cost estimates for provider token usage.
package cost

// Rates holds per-provider pricing configuration. All amounts are EUR per
// million tokens.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     map[string]ModelRate `yaml:"openai" mapstructure:"openai"`
	Perplexity map[string]ModelRate `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Calculator computes costs for API usage. Unknown models cost zero rather
// than failing the call that produced them.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Anthropic computes the cost for an Anthropic API call.
func (c *Calculator) Anthropic(model string, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// OpenAI computes the cost for an OpenAI-compatible API call.
func (c *Calculator) OpenAI(model string, input, output int) float64 {
	return tokenCost(c.rates.OpenAI, model, input, output)
}

// Perplexity computes the cost for a Perplexity API call.
func (c *Calculator) Perplexity(model string, input, output int) float64 {
	return tokenCost(c.rates.Perplexity, model, input, output)
}

// ForKind returns a per-call pricing function for the given provider kind,
// or nil for unknown kinds.
func (c *Calculator) ForKind(kind string) func(model string, input, output int) float64 {
	switch kind {
	case "anthropic":
		return func(model string, input, output int) float64 {
			return c.Anthropic(model, input, output, 0, 0)
		}
	case "openai":
		return c.OpenAI
	case "perplexity":
		return c.Perplexity
	default:
		return nil
	}
}

func tokenCost(rates map[string]ModelRate, model string, input, output int) float64 {
	rate, ok := rates[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// DefaultRates returns the default EUR pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.74, Output: 3.70,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 2.78, Output: 13.90,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		OpenAI: map[string]ModelRate{
			"gpt-4o":      {Input: 2.32, Output: 9.25},
			"gpt-4o-mini": {Input: 0.14, Output: 0.56},
		},
		Perplexity: map[string]ModelRate{
			"sonar":     {Input: 0.93, Output: 0.93},
			"sonar-pro": {Input: 2.78, Output: 13.90},
		},
	}
}
