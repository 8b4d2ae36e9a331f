// Package llm defines the Provider interface for the language models that
// write the assistant's spoken replies.
//
// Implementations must be safe for concurrent use and must return promptly
// once the supplied context is cancelled.
package llm

import (
	"context"
	"strings"
)

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many context tokens messages would consume.
	// The estimate should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns the static limits of the configured model.
	Capabilities() ModelCapabilities
}

// EstimateTokens approximates the token count of messages at roughly four
// characters per token plus a fixed per-message overhead for role framing.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}

// defaultCapabilities applies to any model missing from knownModels.
var defaultCapabilities = ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}

// knownModels maps model name prefixes to their limits. More specific
// prefixes must come first.
var knownModels = []struct {
	prefix string
	caps   ModelCapabilities
}{
	{"gpt-4o", ModelCapabilities{128_000, 16_384}},
	{"gpt-4.1", ModelCapabilities{1_047_576, 32_768}},
	{"gpt-4-turbo", ModelCapabilities{128_000, 4_096}},
	{"gpt-4", ModelCapabilities{8_192, 4_096}},
	{"gpt-3.5-turbo", ModelCapabilities{16_385, 4_096}},
	{"o1-mini", ModelCapabilities{128_000, 65_536}},
	{"o1", ModelCapabilities{200_000, 100_000}},
	{"o3", ModelCapabilities{200_000, 100_000}},
	{"claude", ModelCapabilities{200_000, 8_192}},
	{"gemini", ModelCapabilities{1_000_000, 8_192}},
	{"mistral", ModelCapabilities{32_000, 4_096}},
	{"llama", ModelCapabilities{8_192, 2_048}},
	{"deepseek", ModelCapabilities{64_000, 8_192}},
}

// LookupCapabilities returns the limits for model, matched by name prefix
// case-insensitively. Unknown models get conservative defaults.
func LookupCapabilities(model string) ModelCapabilities {
	lower := strings.ToLower(model)
	for _, km := range knownModels {
		if strings.HasPrefix(lower, km.prefix) {
			return km.caps
		}
	}
	return defaultCapabilities
}
