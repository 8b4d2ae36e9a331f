// Package assistant turns a transcribed user utterance into a spoken reply.
//
// An [Assistant] keeps a bounded conversation history, asks the language
// model for a reply, and synthesizes it. Exit phrases short-circuit the model
// and produce a farewell reply marked as the session's last.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/voxturn/internal/observe"
	"github.com/MrWong99/voxturn/pkg/audio"
	"github.com/MrWong99/voxturn/pkg/provider/llm"
	"github.com/MrWong99/voxturn/pkg/provider/tts"
)

// ErrEmptyReply is returned when the language model produced no text.
var ErrEmptyReply = errors.New("assistant: empty reply")

const (
	defaultSystemPrompt   = "You are a helpful voice assistant. Answer in one to three short spoken sentences without markdown, lists or emoji."
	defaultFarewell       = "Goodbye! Have a great day."
	defaultMaxHistory     = 20
	defaultMaxSpokenChars = 500
)

// Config holds the assistant's conversational settings. Zero values select
// defaults.
type Config struct {
	// SystemPrompt is sent ahead of the conversation history.
	SystemPrompt string

	// Voice is passed to the synthesizer.
	Voice tts.VoiceProfile

	// ExitPhrases end the session. Nil selects [DefaultExitPhrases]; an empty
	// non-nil slice disables exit detection.
	ExitPhrases []string

	// ExitSimilarity is the fuzzy-match threshold for exit phrases.
	ExitSimilarity float64

	// Farewell is spoken when an exit phrase is recognised.
	Farewell string

	// MaxHistory caps the number of messages kept (user and assistant).
	MaxHistory int

	// MaxSpokenChars truncates long replies before synthesis, at a sentence
	// boundary where possible.
	MaxSpokenChars int

	// Temperature and MaxTokens are passed to the model.
	Temperature float64
	MaxTokens   int
}

func (c *Config) applyDefaults() {
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.ExitPhrases == nil {
		c.ExitPhrases = DefaultExitPhrases
	}
	if c.Farewell == "" {
		c.Farewell = defaultFarewell
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = defaultMaxHistory
	}
	if c.MaxSpokenChars <= 0 {
		c.MaxSpokenChars = defaultMaxSpokenChars
	}
}

// Option configures an [Assistant].
type Option func(*Assistant)

// WithMetrics records model and synthesis latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assistant) {
		a.metrics = m
	}
}

// Assistant produces spoken replies. Respond calls are serialised so the
// history stays coherent.
type Assistant struct {
	model   llm.Provider
	voice   tts.Provider
	cfg     Config
	exits   *ExitMatcher
	metrics *observe.Metrics

	mu      sync.Mutex
	history []llm.Message
}

// New creates an Assistant on top of a language model and a synthesizer.
func New(model llm.Provider, synth tts.Provider, cfg Config, opts ...Option) (*Assistant, error) {
	if model == nil {
		return nil, errors.New("assistant: language model must not be nil")
	}
	if synth == nil {
		return nil, errors.New("assistant: synthesizer must not be nil")
	}
	cfg.applyDefaults()
	a := &Assistant{
		model: model,
		voice: synth,
		cfg:   cfg,
		exits: NewExitMatcher(cfg.ExitPhrases, cfg.ExitSimilarity),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Respond answers text. The returned reply carries Hangup when text was an
// exit phrase. History is only updated when the whole reply was produced, so
// a cancelled turn leaves no trace.
func (a *Assistant) Respond(ctx context.Context, text string) (audio.Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Reply{}, errors.New("assistant: empty input")
	}

	if phrase, ok := a.exits.Match(text); ok {
		observe.Logger(ctx).Info("exit phrase recognised", "phrase", phrase, "text", text)
		reply, err := a.synthesize(ctx, a.cfg.Farewell)
		if err != nil {
			return audio.Reply{}, err
		}
		reply.Hangup = true
		return reply, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	msgs := append(a.window(), llm.Message{Role: llm.RoleUser, Content: text})
	content, err := a.complete(ctx, msgs)
	if err != nil {
		return audio.Reply{}, err
	}

	spoken := Truncate(content, a.cfg.MaxSpokenChars)
	reply, err := a.synthesize(ctx, spoken)
	if err != nil {
		return audio.Reply{}, err
	}

	a.history = append(a.history,
		llm.Message{Role: llm.RoleUser, Content: text},
		llm.Message{Role: llm.RoleAssistant, Content: spoken},
	)
	if over := len(a.history) - a.cfg.MaxHistory; over > 0 {
		a.history = append([]llm.Message(nil), a.history[over:]...)
	}
	return reply, nil
}

func (a *Assistant) complete(ctx context.Context, msgs []llm.Message) (string, error) {
	ctx, span := observe.StartSpan(ctx, "assistant.complete")
	defer span.End()

	start := time.Now()
	resp, err := a.model.Complete(ctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: a.cfg.SystemPrompt,
		Temperature:  a.cfg.Temperature,
		MaxTokens:    a.cfg.MaxTokens,
	})
	if a.metrics != nil {
		a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		observe.FailSpan(span, err, "completion failed")
		return "", fmt.Errorf("assistant: complete: %w", err)
	}
	var content string
	if resp != nil {
		content = llm.Speakable(resp.Content)
	}
	if content == "" {
		observe.FailSpan(span, nil, "empty reply")
		return "", ErrEmptyReply
	}
	return content, nil
}

func (a *Assistant) synthesize(ctx context.Context, text string) (audio.Reply, error) {
	ctx, span := observe.StartSpan(ctx, "assistant.synthesize")
	defer span.End()

	start := time.Now()
	reply, err := a.voice.Synthesize(ctx, text, a.cfg.Voice)
	if a.metrics != nil {
		a.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		observe.FailSpan(span, err, "synthesis failed")
		return audio.Reply{}, fmt.Errorf("assistant: synthesize: %w", err)
	}
	reply.Text = text
	return reply, nil
}

// window returns the most recent history that fits the model's context
// budget. Must be called with a.mu held.
func (a *Assistant) window() []llm.Message {
	caps := a.model.Capabilities()
	budget := caps.ContextWindow - caps.MaxOutputTokens - llm.EstimateTokens([]llm.Message{{Content: a.cfg.SystemPrompt}})
	msgs := append([]llm.Message(nil), a.history...)
	if caps.ContextWindow <= 0 || budget <= 0 {
		return msgs
	}
	for len(msgs) > 0 {
		n, err := a.model.CountTokens(msgs)
		if err != nil || n <= budget {
			break
		}
		// Drop the oldest exchange so the window starts with a user turn.
		drop := min(2, len(msgs))
		msgs = msgs[drop:]
	}
	return msgs
}

// History returns a copy of the conversation history.
func (a *Assistant) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Message(nil), a.history...)
}

// Reset forgets the conversation.
func (a *Assistant) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
}

// Truncate shortens text to at most limit bytes, cutting after the last
// complete sentence that fits. Without one, it cuts at the last word
// boundary.
func Truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	cut := text[:limit]
	if sentences := tts.SplitSentences(cut); len(sentences) > 1 {
		last := sentences[len(sentences)-1]
		if !strings.ContainsAny(last[len(last)-1:], ".!?") {
			return strings.Join(sentences[:len(sentences)-1], " ")
		}
		return strings.Join(sentences, " ")
	}
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		return strings.TrimSpace(cut[:i])
	}
	return cut
}
