// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrNotConfigured is returned when no API key is available for the provider.
var ErrNotConfigured = errors.New("llm provider not configured")

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Options selects and configures a provider.
type Options struct {
	Provider Provider
	APIKey   string
	// BaseURL points the OpenAI client at a compatible endpoint.
	BaseURL string
	// Model overrides the provider default.
	Model string
}

// NewClient creates a new LLM client based on provider.
func NewClient(opts Options) (Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	switch opts.Provider {
	case ProviderAnthropic:
		return NewAnthropicClient(opts.APIKey, opts.Model)
	default:
		return NewOpenAIClient(opts.APIKey, opts.BaseURL, opts.Model)
	}
}
