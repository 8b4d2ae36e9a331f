package resilience

import (
	"context"

	"github.com/MrWong99/voxturn/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across several language
// model backends. Since any member may end up answering, the history window
// is sized for the most constrained one.
type LLMFallback struct {
	group   *FallbackGroup[llm.Provider]
	members []llm.Provider
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	return &LLMFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		members: []llm.Provider{primary},
	}
}

// AddFallback registers an additional LLM backend. Not safe to call once
// requests are in flight.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
	f.members = append(f.members, provider)
}

// Names returns the backend names in try order.
func (f *LLMFallback) Names() []string { return f.group.Names() }

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens returns the largest estimate among the members.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	most := 0
	for _, m := range f.members {
		n, err := m.CountTokens(messages)
		if err != nil {
			return 0, err
		}
		most = max(most, n)
	}
	return most, nil
}

// Capabilities returns the smallest limits among the members. A zero limit
// means unknown and is ignored.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	var caps llm.ModelCapabilities
	for _, m := range f.members {
		c := m.Capabilities()
		caps.ContextWindow = smallestKnown(caps.ContextWindow, c.ContextWindow)
		caps.MaxOutputTokens = smallestKnown(caps.MaxOutputTokens, c.MaxOutputTokens)
	}
	return caps
}

func smallestKnown(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	}
	return min(a, b)
}
