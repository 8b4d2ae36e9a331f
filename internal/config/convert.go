package config

import (
	"time"

	"github.com/MrWong99/voxturn/internal/arbiter"
	"github.com/MrWong99/voxturn/internal/assistant"
	"github.com/MrWong99/voxturn/internal/recorder"
	"github.com/MrWong99/voxturn/internal/turn"
	"github.com/MrWong99/voxturn/pkg/provider/tts"
	"github.com/MrWong99/voxturn/pkg/provider/vad"
)

// FramesPerChunk converts the chunk duration into frames at rate.
func (c AudioConfig) FramesPerChunk(rate int) int {
	n := int(int64(rate) * int64(c.ChunkDuration) / int64(time.Second))
	return max(n, 1)
}

// VAD returns the detector settings.
func (c DetectionConfig) VAD() vad.Config {
	return vad.Config{
		EnergyThreshold:   c.EnergyThreshold,
		CalibrationChunks: c.CalibrationChunks,
		NoiseMultiplier:   c.NoiseMultiplier,
	}
}

// Recorder returns the utterance boundary settings.
func (c RecorderConfig) Recorder() recorder.Config {
	return recorder.Config{
		SilenceDuration:      c.SilenceDuration,
		MinSpeechDuration:    c.MinSpeechDuration,
		MaxRecordingDuration: c.MaxRecordingDuration,
		PreRoll:              c.PreRoll,
	}
}

// Arbiter returns the interrupt decision settings. Disabling interrupts
// selects the mute strategy.
func (c InterruptConfig) Arbiter() arbiter.Config {
	strategy := arbiter.StrategyName(c.Strategy)
	if !c.IsEnabled() {
		strategy = arbiter.StrategyMute
	}
	return arbiter.Config{
		Strategy:            strategy,
		Sensitivity:         arbiter.Sensitivity(c.Sensitivity),
		Cooldown:            c.Cooldown,
		EnergyThreshold:     c.EnergyThreshold,
		UserRatio:           c.UserRatio,
		EchoRatio:           c.EchoRatio,
		SimilarityThreshold: c.SimilarityThreshold,
		Sustain:             c.Sustain,
	}
}

// Assistant returns the reply settings. voiceProvider names the primary TTS
// backend.
func (c AssistantConfig) Assistant(voiceProvider string) assistant.Config {
	return assistant.Config{
		SystemPrompt: c.SystemPrompt,
		Voice: tts.VoiceProfile{
			ID:       c.Voice.ID,
			Name:     c.Voice.Name,
			Provider: voiceProvider,
		},
		ExitPhrases:    c.ExitPhrases,
		ExitSimilarity: c.ExitSimilarity,
		Farewell:       c.Farewell,
		MaxHistory:     c.MaxHistory,
		MaxSpokenChars: c.MaxSpokenChars,
		Temperature:    c.Temperature,
		MaxTokens:      c.MaxTokens,
	}
}

// Turn returns the controller settings.
func (c *Config) Turn() turn.Config {
	return turn.Config{
		Recorder:          c.Recorder.Recorder(),
		TranscribeTimeout: c.Assistant.TranscribeTimeout,
		RespondTimeout:    c.Assistant.RespondTimeout,
		PostSpeechGap:     c.Interrupt.PostSpeechGap,
	}
}
