package provider

import (
	"context"
	"time"

	"github.com/civicsense/analysis-cli/internal/resilience"
	"github.com/civicsense/analysis-cli/pkg/anthropic"
)

// AnthropicAdapter calls the Anthropic Messages API.
type AnthropicAdapter struct {
	client anthropic.Client
	model  string
	system string
	price  PriceFunc

	nowFunc func() time.Time
}

// NewAnthropicAdapter wraps an Anthropic client. system is the cached system
// prompt shared by every call through this adapter; price may be nil.
func NewAnthropicAdapter(client anthropic.Client, model, system string, price PriceFunc) *AnthropicAdapter {
	return &AnthropicAdapter{
		client:  client,
		model:   model,
		system:  system,
		price:   price,
		nowFunc: time.Now,
	}
}

func (a *AnthropicAdapter) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	start := a.nowFunc()

	mreq := anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: int64(req.MaxTokens),
		Messages:  []anthropic.Message{{Role: "user", Content: req.Prompt}},
	}
	if a.system != "" {
		mreq.System = anthropic.BuildCachedSystemBlocks(a.system)
	}

	resp, err := a.client.CreateMessage(ctx, mreq)
	if err != nil {
		return nil, &CallError{
			Kind:      resilience.Classify(err),
			ElapsedMs: a.nowFunc().Sub(start).Milliseconds(),
			Err:       err,
		}
	}

	result := &CallResult{
		Text:      resp.Text(),
		Model:     resp.Model,
		TokensIn:  int(resp.Usage.InputTokens),
		TokensOut: int(resp.Usage.OutputTokens),
	}
	if a.price != nil {
		result.CostEUR = a.price(result.Model, result.TokensIn, result.TokensOut)
	}
	return result, nil
}
