// Package openai talks to the OpenAI chat completions API, or to any server
// that mimics it (vLLM, LM Studio, llama.cpp server, Ollama's /v1 endpoint).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/voxturn/pkg/provider/llm"
)

// localAPIKey is sent to self-hosted servers that were configured without a
// key. The SDK refuses to build requests with an empty bearer token.
const localAPIKey = "voxturn-local"

// Client is an llm.Provider for OpenAI-compatible endpoints.
type Client struct {
	sdk   oai.Client
	model string
	temp  bool
}

var _ llm.Provider = (*Client)(nil)

type settings struct {
	baseURL string
	org     string
	timeout time.Duration
	retries int
}

// Option tunes a [Client].
type Option func(*settings)

// WithBaseURL points the client at a compatible server instead of
// api.openai.com.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithOrganization sets the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(s *settings) { s.org = org }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithMaxRetries overrides the SDK's retry count. A spoken turn cannot wait
// through many backoffs, so the default is 1.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.retries = n }
}

// New returns a client for model. apiKey may be empty only when a base URL
// is set, i.e. for self-hosted servers.
func New(apiKey, model string, opts ...Option) (*Client, error) {
	s := settings{retries: 1}
	for _, o := range opts {
		o(&s)
	}

	var errs []error
	if model == "" {
		errs = append(errs, errors.New("model must not be empty"))
	}
	if apiKey == "" {
		if s.baseURL == "" {
			errs = append(errs, errors.New("api key is required for api.openai.com"))
		}
		apiKey = localAPIKey
	}
	if s.retries < 0 {
		errs = append(errs, fmt.Errorf("max retries must be >= 0, got %d", s.retries))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(s.retries),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.org != "" {
		reqOpts = append(reqOpts, option.WithOrganization(s.org))
	}
	if s.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}

	return &Client{
		sdk:   oai.NewClient(reqOpts...),
		model: model,
		temp:  llm.SupportsTemperature(model),
	}, nil
}

// Complete implements llm.Provider.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := c.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %s: %w", c.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %s returned no choices", c.model)
	}

	first := resp.Choices[0]
	if first.Message.Refusal != "" {
		return nil, fmt.Errorf("openai: %s refused: %s", c.model, first.Message.Refusal)
	}
	return &llm.CompletionResponse{
		Content:      first.Message.Content,
		FinishReason: first.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// CountTokens implements llm.Provider with [llm.EstimateTokens].
func (c *Client) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (c *Client) Capabilities() llm.ModelCapabilities {
	return llm.LookupCapabilities(c.model)
}

func (c *Client) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	history := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		history = append(history, oai.SystemMessage(req.SystemPrompt))
	}
	for i, m := range req.Messages {
		msg, err := toSDK(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: message %d: %w", i, err)
		}
		history = append(history, msg)
	}

	p := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: history,
	}
	// Reasoning models reject any explicit temperature.
	if c.temp && req.Temperature != 0 {
		p.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		p.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return p, nil
}

func toSDK(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported role %q", m.Role)
}
