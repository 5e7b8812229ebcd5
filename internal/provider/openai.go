package provider

import (
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/civicsense/analysis-cli/internal/resilience"
)

// chatCompleter is the slice of the go-openai client we use. Satisfied by
// *openai.Client and by test mocks.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIAdapter calls any OpenAI-compatible chat-completions backend.
type OpenAIAdapter struct {
	client chatCompleter
	model  string
	price  PriceFunc

	nowFunc func() time.Time
}

// NewOpenAIAdapter wraps a go-openai client; price may be nil.
func NewOpenAIAdapter(client chatCompleter, model string, price PriceFunc) *OpenAIAdapter {
	return &OpenAIAdapter{
		client:  client,
		model:   model,
		price:   price,
		nowFunc: time.Now,
	}
}

func (a *OpenAIAdapter) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	start := a.nowFunc()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.model,
		MaxTokens: req.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	})
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
		Model:     resp.Model,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}
	if a.price != nil {
		result.CostEUR = a.price(result.Model, result.TokensIn, result.TokensOut)
	}
	return result, nil
}
