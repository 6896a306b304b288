// Package llm answers customer questions through a hosted language model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingAPIKey is returned when a provider client is built without a key.
	ErrMissingAPIKey = errors.New("llm: api key is required")
	// ErrUnknownProvider is returned by NewClient for an unsupported provider name.
	ErrUnknownProvider = errors.New("llm: unknown provider")
)

// Prompt is a single-turn request: the business profile as system prompt
// and one customer message.
type Prompt struct {
	Model       string
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Completion is a provider's answer to a Prompt.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	FinishReason string
	Latency      time.Duration
}

// Tokens is the billed token count.
func (c *Completion) Tokens() int {
	return c.InputTokens + c.OutputTokens
}

// Client is implemented by every provider.
type Client interface {
	Complete(ctx context.Context, p *Prompt) (*Completion, error)
	Name() string
}

// Provider names a hosted model vendor.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

type clientOptions struct {
	baseURL    string
	maxRetries int
}

// Option configures a provider client.
type Option func(*clientOptions)

// WithBaseURL points the client at a compatible endpoint instead of the vendor API.
func WithBaseURL(url string) Option {
	return func(o *clientOptions) { o.baseURL = url }
}

// WithMaxRetries sets how often a failed call is retried. The webhook path
// already bounds the call with a timeout, so the default is a single retry.
func WithMaxRetries(n int) Option {
	return func(o *clientOptions) { o.maxRetries = n }
}

func buildOptions(opts []Option) clientOptions {
	o := clientOptions{maxRetries: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewClient returns the client for provider. An empty provider selects OpenAI.
func NewClient(provider Provider, apiKey string, opts ...Option) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		c, err := NewAnthropicClient(apiKey, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderOpenAI, "":
		c, err := NewOpenAIClient(apiKey, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}
