package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voxturn/pkg/audio"
	"github.com/MrWong99/voxturn/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Provider] with failover across several
// transcription backends. [stt.ErrNoSpeech] is a verdict about the audio, not
// the backend, so it is returned straight away.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	cfg.Terminal = orTerminal(cfg.Terminal, func(err error) bool { return errors.Is(err, stt.ErrNoSpeech) })
	return &TranscriberFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional transcription backend.
func (f *TranscriberFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in try order.
func (f *TranscriberFallback) Names() []string { return f.group.Names() }

// Transcribe implements [stt.Provider].
func (f *TranscriberFallback) Transcribe(ctx context.Context, u *audio.Utterance) (stt.Transcript, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, u)
	})
}

// orTerminal combines two terminal classifiers.
func orTerminal(a, b func(error) bool) func(error) bool {
	if a == nil {
		return b
	}
	return func(err error) bool { return a(err) || b(err) }
}
