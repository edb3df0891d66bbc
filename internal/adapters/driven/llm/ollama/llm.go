// Package ollama provides an LLM service adapter using Ollama.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/resilience"
)

// Ensure LLMService implements the interface.
var _ driven.LLMService = (*LLMService)(nil)

// Default configuration values.
const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultLLMModel   = "llama3.2"
	DefaultLLMTimeout = 120 * time.Second

	serviceName = "ollama llm"
)

// LLMConfig holds configuration for the Ollama LLM service.
type LLMConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the LLM model to use (default: llama3.2).
	Model string

	// Timeout is the request timeout (default: 120s).
	Timeout time.Duration
}

// LLMService provides LLM operations using Ollama.
type LLMService struct {
	client *api.Client
	model  string
}

// NewLLMService creates a new Ollama LLM service.
func NewLLMService(cfg LLMConfig) (*LLMService, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultLLMModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultLLMTimeout
	}

	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: base URL: %v", serviceName, domain.ErrInvalidInput, err)
	}

	return &LLMService{
		client: api.NewClient(base, &http.Client{Timeout: cfg.Timeout}),
		model:  cfg.Model,
	}, nil
}

// options builds generation parameters. Temperature is always sent so
// that zero selects greedy decoding rather than the model default.
func options(maxTokens int, temperature float64, stop []string) map[string]any {
	opts := map[string]any{"temperature": temperature}
	if maxTokens > 0 {
		opts["num_predict"] = maxTokens
	}
	if len(stop) > 0 {
		opts["stop"] = stop
	}
	return opts
}

// Generate produces text completion from a prompt.
func (s *LLMService) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	stream := false
	req := &api.GenerateRequest{
		Model:   s.model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: options(opts.MaxTokens, opts.Temperature, opts.StopWords),
	}

	var out strings.Builder
	err := s.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", mapError(err)
	}
	return out.String(), nil
}

// Chat conducts a multi-turn conversation.
func (s *LLMService) Chat(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions) (string, error) {
	chatMessages := make([]api.Message, len(messages))
	for i, msg := range messages {
		chatMessages[i] = api.Message{Role: msg.Role, Content: msg.Content}
	}

	stream := false
	req := &api.ChatRequest{
		Model:    s.model,
		Messages: chatMessages,
		Stream:   &stream,
		Options:  options(opts.MaxTokens, opts.Temperature, nil),
	}

	var out strings.Builder
	err := s.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", mapError(err)
	}
	return out.String(), nil
}

// ModelName returns the name of the LLM model being used.
func (s *LLMService) ModelName() string {
	return s.model
}

// Ping validates the service is reachable by listing local models.
func (s *LLMService) Ping(ctx context.Context) error {
	if _, err := s.client.List(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// Close releases resources.
func (s *LLMService) Close() error {
	return nil
}

func mapError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return resilience.StatusError(serviceName, statusErr.StatusCode, 0, statusErr.ErrorMessage)
	}
	return resilience.TransportError(serviceName, err)
}
