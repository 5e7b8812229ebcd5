package provider

import (
	"context"
	"time"

	"github.com/civicsense/analysis-cli/internal/resilience"
	"github.com/civicsense/analysis-cli/pkg/perplexity"
)

// PerplexityAdapter calls the Perplexity chat API. Its answers carry
// citations, which downstream evidence handling folds into sources.
type PerplexityAdapter struct {
	client perplexity.Client
	model  string
	price  PriceFunc

	nowFunc func() time.Time
}

// NewPerplexityAdapter wraps a Perplexity client; price may be nil.
func NewPerplexityAdapter(client perplexity.Client, model string, price PriceFunc) *PerplexityAdapter {
	return &PerplexityAdapter{
		client:  client,
		model:   model,
		price:   price,
		nowFunc: time.Now,
	}
}

func (a *PerplexityAdapter) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	start := a.nowFunc()

	creq := perplexity.ChatCompletionRequest{
		Model:    a.model,
		Messages: []perplexity.Message{{Role: "user", Content: req.Prompt}},
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		creq.MaxTokens = &mt
	}

	resp, err := a.client.ChatCompletion(ctx, creq)
	if err != nil {
		return nil, &CallError{
			Kind:      resilience.Classify(err),
			ElapsedMs: a.nowFunc().Sub(start).Milliseconds(),
			Err:       err,
		}
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}

	result := &CallResult{
		Text:      text,
		Model:     a.model,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
		Citations: resp.Citations,
	}
	if a.price != nil {
		result.CostEUR = a.price(result.Model, result.TokensIn, result.TokensOut)
	}
	return result, nil
}
