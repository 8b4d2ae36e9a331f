package main

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxturn/internal/app"
	"github.com/MrWong99/voxturn/internal/config"
	"github.com/MrWong99/voxturn/internal/observe"
	"github.com/MrWong99/voxturn/internal/resilience"
	"github.com/MrWong99/voxturn/pkg/audio"
	"github.com/MrWong99/voxturn/pkg/audio/malgo"
	"github.com/MrWong99/voxturn/pkg/audio/oto"
	"github.com/MrWong99/voxturn/pkg/audio/portaudio"
	"github.com/MrWong99/voxturn/pkg/provider/llm"
	"github.com/MrWong99/voxturn/pkg/provider/llm/anyllm"
	"github.com/MrWong99/voxturn/pkg/provider/llm/openai"
	"github.com/MrWong99/voxturn/pkg/provider/stt"
	"github.com/MrWong99/voxturn/pkg/provider/stt/deepgram"
	"github.com/MrWong99/voxturn/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxturn/pkg/provider/tts"
	"github.com/MrWong99/voxturn/pkg/provider/tts/coqui"
	"github.com/MrWong99/voxturn/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/voxturn/pkg/provider/vad/energy"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends are the LLM names served through any-llm. "openai" has its
// own client.
var anyllmBackends = []string{
	"anthropic", "gemini", "ollama",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Audio ─────────────────────────────────────────────────────────────────
	reg.RegisterBackend("portaudio", func() (audio.Backend, error) { return portaudio.New() })
	reg.RegisterBackend("malgo", func() (audio.Backend, error) { return malgo.New() })
	reg.RegisterPlayback("oto", func(cfg config.AudioConfig) (audio.Player, error) {
		return oto.New(cfg.PlaybackRate, oto.WithBufferSize(cfg.PlaybackBuffer))
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.Option("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})
	for _, backend := range anyllmBackends {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if on, ok := optBool(entry, "normalize"); ok {
			opts = append(opts, whisper.WithNormalize(on))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.Option("model_path")
		}
		var opts []whisper.NativeOption
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n, err := strconv.ParseUint(entry.Option("threads"), 10, 32); err == nil && n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		if on, ok := optBool(entry, "normalize"); ok {
			opts = append(opts, whisper.WithNativeNormalize(on))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if kw := keywords(entry.Options["keywords"]); len(kw) > 0 {
			opts = append(opts, deepgram.WithKeywords(kw))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if format := entry.Option("output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		stability, errS := strconv.ParseFloat(entry.Option("stability"), 64)
		boost, errB := strconv.ParseFloat(entry.Option("similarity_boost"), 64)
		if errS == nil && errB == nil {
			opts = append(opts, elevenlabs.WithVoiceSettings(stability, boost))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.Option("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if rate, err := strconv.Atoi(entry.Option("sample_rate")); err == nil && rate > 0 {
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		return coqui.New(entry.BaseURL, opts...)
	})
}

// builtProviders are the instantiated collaborators plus whatever must be
// closed after the app has shut down.
type builtProviders struct {
	*app.Providers
	closers []io.Closer
}

func (b *builtProviders) Close() {
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			slog.Warn("provider close error", "err", err)
		}
	}
}

// buildProviders instantiates every provider named in cfg. Lists with more
// than one entry are wrapped in a fallback group that tries them in order.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*builtProviders, error) {
	if err := reg.Validate(cfg); err != nil {
		return nil, err
	}
	b := &builtProviders{Providers: &app.Providers{VAD: energy.New()}}
	fail := func(err error) (*builtProviders, error) {
		b.Close()
		if b.Player != nil {
			_ = b.Player.Close()
		}
		if b.Backend != nil {
			_ = b.Backend.Close()
		}
		return nil, err
	}

	backend, err := reg.CreateBackend(cfg.Audio.Backend)
	if err != nil {
		return fail(fmt.Errorf("create capture backend %q: %w", cfg.Audio.Backend, err))
	}
	b.Backend = backend

	player, err := reg.CreatePlayback(cfg.Audio)
	if err != nil {
		return fail(fmt.Errorf("create playback %q: %w", cfg.Audio.Playback, err))
	}
	b.Player = player

	fallback := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{Kind: kind, Metrics: metrics}
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	var sttProviders []stt.Provider
	for _, entry := range cfg.Providers.STT {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return fail(fmt.Errorf("create stt provider %q: %w", entry.Name, err))
		}
		b.track(p)
		sttProviders = append(sttProviders, p)
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
	}
	if len(sttProviders) == 1 {
		b.STT = sttProviders[0]
	} else {
		fb := resilience.NewTranscriberFallback(sttProviders[0], cfg.Providers.STT[0].Name, fallback("stt"))
		for i, p := range sttProviders[1:] {
			fb.AddFallback(cfg.Providers.STT[i+1].Name, p)
		}
		b.STT = fb
	}

	// ── LLM ───────────────────────────────────────────────────────────────────
	var llmProviders []llm.Provider
	for _, entry := range cfg.Providers.LLM {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return fail(fmt.Errorf("create llm provider %q: %w", entry.Name, err))
		}
		b.track(p)
		llmProviders = append(llmProviders, p)
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
	}
	if len(llmProviders) == 1 {
		b.LLM = llmProviders[0]
	} else {
		fb := resilience.NewLLMFallback(llmProviders[0], cfg.Providers.LLM[0].Name, fallback("llm"))
		for i, p := range llmProviders[1:] {
			fb.AddFallback(cfg.Providers.LLM[i+1].Name, p)
		}
		b.LLM = fb
	}

	// ── TTS ───────────────────────────────────────────────────────────────────
	var ttsProviders []tts.Provider
	for _, entry := range cfg.Providers.TTS {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return fail(fmt.Errorf("create tts provider %q: %w", entry.Name, err))
		}
		b.track(p)
		ttsProviders = append(ttsProviders, p)
		slog.Info("provider created", "kind", "tts", "name", entry.Name)
	}
	primary := cfg.Providers.TTS[0].Name
	b.TTSName = primary
	if len(ttsProviders) == 1 {
		b.TTS = ttsProviders[0]
	} else {
		voice := cfg.Assistant.Assistant(primary).Voice
		fb := resilience.NewSynthesizerFallback(ttsProviders[0], primary, voice, fallback("tts"))
		for i, p := range ttsProviders[1:] {
			name := cfg.Providers.TTS[i+1].Name
			// Voice IDs are backend specific; fallbacks use their default voice.
			fb.AddFallback(name, p, tts.VoiceProfile{Provider: name})
		}
		b.TTS = fb
	}
	return b, nil
}

// track remembers p for closing when it holds resources.
func (b *builtProviders) track(p any) {
	if c, ok := p.(io.Closer); ok {
		b.closers = append(b.closers, c)
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func optBool(entry config.ProviderEntry, key string) (bool, bool) {
	v, err := strconv.ParseBool(entry.Option(key))
	if err != nil {
		return false, false
	}
	return v, true
}

// keywords reads a deepgram keyword list: either "word:boost" strings or
// plain words with boost 1.
func keywords(v any) []stt.KeywordBoost {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]stt.KeywordBoost, 0, len(list))
	for _, item := range list {
		word, boostStr, found := strings.Cut(fmt.Sprint(item), ":")
		boost := 1.0
		if found {
			if f, err := strconv.ParseFloat(boostStr, 64); err == nil {
				boost = f
			}
		}
		if word = strings.TrimSpace(word); word != "" {
			out = append(out, stt.KeywordBoost{Keyword: word, Boost: boost})
		}
	}
	return out
}
