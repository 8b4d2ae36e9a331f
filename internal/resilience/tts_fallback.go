package resilience

import (
	"context"

	"github.com/MrWong99/voxturn/pkg/audio"
	"github.com/MrWong99/voxturn/pkg/provider/tts"
)

// voiced pairs a synthesis backend with the voice it should speak in.
type voiced struct {
	provider tts.Provider
	voice    tts.VoiceProfile
}

// SynthesizerFallback implements [tts.Provider] with failover across several
// speech synthesis backends. Voice IDs are backend specific, so each entry
// carries its own voice; the voice passed to Synthesize is used only for
// entries registered without one.
type SynthesizerFallback struct {
	group *FallbackGroup[voiced]
}

var _ tts.Provider = (*SynthesizerFallback)(nil)

// NewSynthesizerFallback creates a [SynthesizerFallback] with primary as the
// preferred backend speaking in voice.
func NewSynthesizerFallback(primary tts.Provider, primaryName string, voice tts.VoiceProfile, cfg FallbackConfig) *SynthesizerFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &SynthesizerFallback{group: NewFallbackGroup(voiced{primary, voice}, primaryName, cfg)}
}

// AddFallback registers an additional backend speaking in voice.
func (f *SynthesizerFallback) AddFallback(name string, provider tts.Provider, voice tts.VoiceProfile) {
	f.group.AddFallback(name, voiced{provider, voice})
}

// Names returns the backend names in try order.
func (f *SynthesizerFallback) Names() []string { return f.group.Names() }

// Voice returns the primary backend's voice.
func (f *SynthesizerFallback) Voice() tts.VoiceProfile { return f.group.Primary().voice }

// Synthesize implements [tts.Provider].
func (f *SynthesizerFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.Reply, error) {
	return ExecuteWithResult(ctx, f.group, func(e voiced) (audio.Reply, error) {
		v := e.voice
		if v.ID == "" {
			v = voice
		}
		return e.provider.Synthesize(ctx, text, v)
	})
}

// ListVoices returns the voices of the first healthy backend.
func (f *SynthesizerFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(e voiced) ([]tts.VoiceProfile, error) {
		return e.provider.ListVoices(ctx)
	})
}
