package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/sahuti/autoreply/pkg/logger"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient calls the OpenAI chat completions API.
type OpenAIClient struct {
	client     *openai.Client
	maxRetries int
}

// NewOpenAIClient creates an OpenAI client.
func NewOpenAIClient(apiKey string, opts ...Option) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	o := buildOptions(opts)

	cfg := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), maxRetries: o.maxRetries}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return string(ProviderOpenAI)
}

// Complete sends p as a system + user chat.
func (c *OpenAIClient) Complete(ctx context.Context, p *Prompt) (*Completion, error) {
	model := p.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
		MaxTokens:   p.MaxTokens,
		Temperature: float32(p.Temperature),
	}

	start := time.Now()
	var (
		resp openai.ChatCompletionResponse
		err  error
	)
	for attempt := 1; ; attempt++ {
		resp, err = c.client.CreateChatCompletion(ctx, req)
		if err == nil || ctx.Err() != nil || !retryable(err) || attempt > c.maxRetries {
			break
		}
		logger.Global().Named("llm").Warn("retrying openai completion",
			zap.String("model", model),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}

	out := &Completion{
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Latency:      time.Since(start),
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	return out, nil
}

// retryable reports whether err is a rate limit or server error.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return false
}
