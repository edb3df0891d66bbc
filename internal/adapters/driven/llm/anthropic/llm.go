// Package anthropic provides an LLM service adapter using the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/resilience"
)

// Ensure LLMService implements the interface.
var _ driven.LLMService = (*LLMService)(nil)

// Default configuration values.
const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultModel     = "claude-3-5-sonnet-latest"
	DefaultTimeout   = 120 * time.Second
	DefaultMaxTokens = 1024

	serviceName = "anthropic"
)

// Config holds configuration for the Anthropic LLM service.
type Config struct {
	// APIKey is the Anthropic API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.anthropic.com).
	BaseURL string

	// Model is the LLM model to use (default: claude-3-5-sonnet-latest).
	Model string

	// Timeout is the request timeout (default: 120s).
	Timeout time.Duration
}

// LLMService provides LLM operations using Anthropic API.
type LLMService struct {
	client anthropic.Client
	model  string
}

// NewLLMService creates a new Anthropic LLM service.
func NewLLMService(cfg Config) (*LLMService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: %w: API key is required", domain.ErrInvalidInput)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	// Retries belong to the resilience policy wrapped around every call.
	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/"),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	)

	return &LLMService{client: client, model: cfg.Model}, nil
}

// Generate produces text completion from a prompt.
func (s *LLMService) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	messages := []driven.ChatMessage{{Role: "user", Content: prompt}}
	chatOpts := driven.ChatOptions{MaxTokens: opts.MaxTokens, Temperature: opts.Temperature}
	return s.sendMessages(ctx, "", messages, chatOpts, opts.StopWords)
}

// Chat conducts a multi-turn conversation. System messages are moved to
// the request's system field.
func (s *LLMService) Chat(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions) (string, error) {
	var system []string
	var chatMessages []driven.ChatMessage

	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
		} else {
			chatMessages = append(chatMessages, msg)
		}
	}

	return s.sendMessages(ctx, strings.Join(system, "\n\n"), chatMessages, opts, nil)
}

func (s *LLMService) sendMessages(
	ctx context.Context,
	systemPrompt string,
	messages []driven.ChatMessage,
	opts driven.ChatOptions,
	stopWords []string,
) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%s: %w: no messages", serviceName, domain.ErrInvalidInput)
	}

	apiMessages := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == "assistant" {
			apiMessages = append(apiMessages, anthropic.NewAssistantMessage(block))
		} else {
			apiMessages = append(apiMessages, anthropic.NewUserMessage(block))
		}
	}

	// max_tokens is mandatory for this API.
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:         anthropic.Model(s.model),
		Messages:      apiMessages,
		MaxTokens:     int64(maxTokens),
		Temperature:   anthropic.Float(opts.Temperature),
		StopSequences: stopWords,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", mapError(err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("%s: no response content returned", serviceName)
	}

	var result strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			result.WriteString(block.Text)
		}
	}
	return result.String(), nil
}

// ModelName returns the name of the LLM model being used.
func (s *LLMService) ModelName() string {
	return s.model
}

// Ping validates the API key by listing models.
func (s *LLMService) Ping(ctx context.Context) error {
	if _, err := s.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return mapError(err)
	}
	return nil
}

// Close releases resources.
func (s *LLMService) Close() error {
	return nil
}

// mapError turns SDK failures into the domain errors the retry policy
// understands. 529 (overloaded) falls in the 5xx range and is retried like
// any outage.
func mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		return resilience.CheckResponse(serviceName, apiErr.Response, []byte(apiErr.RawJSON()))
	}
	return resilience.TransportError(serviceName, err)
}
