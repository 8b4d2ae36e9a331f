package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxturn/internal/arbiter"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":      {"whisper", "whisper-native", "deepgram"},
	"llm":      {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":      {"elevenlabs", "coqui"},
	"backend":  {"portaudio", "malgo"},
	"playback": {"oto"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":9090"
	DefaultBackend           = "portaudio"
	DefaultPlayback          = "oto"
	DefaultChannels          = 1
	DefaultChunkDuration     = 50 * time.Millisecond
	DefaultTrialDuration     = 100 * time.Millisecond
	DefaultQueueSize         = 100
	DefaultPlaybackRate      = 24000
	DefaultPlaybackBuffer    = 50 * time.Millisecond
	DefaultEnergyThreshold   = 0.01
	DefaultCalibrationChunks = 20
	DefaultNoiseMultiplier   = 2.0
	DefaultSilenceDuration   = 1200 * time.Millisecond
	DefaultMinSpeech         = 500 * time.Millisecond
	DefaultMaxRecording      = 30 * time.Second
	DefaultPreRoll           = 500 * time.Millisecond
	DefaultPostSpeechGap     = 300 * time.Millisecond
	DefaultMaxHistory        = 20
	DefaultMaxTokens         = 200
	DefaultTranscribeTimeout = 30 * time.Second
	DefaultRespondTimeout    = 60 * time.Second
	DefaultArchiveBitrate    = 24000
	DefaultJournalQueueSize  = 256
)

// DefaultRates is the sample-rate preference order for trial captures.
var DefaultRates = []int{44100, 48000, 16000, 22050, 32000, 8000}

// maxChunkDuration bounds the capture cadence; longer chunks delay barge-in.
const maxChunkDuration = time.Second

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references in
// secrets, applies defaults, and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandEnv(cfg *Config) {
	for _, list := range [][]ProviderEntry{cfg.Providers.STT, cfg.Providers.LLM, cfg.Providers.TTS} {
		for i := range list {
			list[i].APIKey = os.ExpandEnv(list[i].APIKey)
			list[i].BaseURL = os.ExpandEnv(list[i].BaseURL)
		}
	}
	cfg.Journal.PostgresDSN = os.ExpandEnv(cfg.Journal.PostgresDSN)
}

// ApplyDefaults fills every zero-valued knob with its documented default.
// The interrupt sensitivity preset (default medium) fills the cooldown,
// energy and similarity thresholds that were not set explicitly.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.Backend == "" {
		a.Backend = DefaultBackend
	}
	if a.Playback == "" {
		a.Playback = DefaultPlayback
	}
	if a.Channels == 0 {
		a.Channels = DefaultChannels
	}
	if a.ChunkDuration == 0 {
		a.ChunkDuration = DefaultChunkDuration
	}
	if len(a.Rates) == 0 {
		a.Rates = slices.Clone(DefaultRates)
	}
	if a.TrialDuration == 0 {
		a.TrialDuration = DefaultTrialDuration
	}
	if a.QueueSize == 0 {
		a.QueueSize = DefaultQueueSize
	}
	if a.PlaybackRate == 0 {
		a.PlaybackRate = DefaultPlaybackRate
	}
	if a.PlaybackBuffer == 0 {
		a.PlaybackBuffer = DefaultPlaybackBuffer
	}

	d := &cfg.Detection
	if d.EnergyThreshold == 0 {
		d.EnergyThreshold = DefaultEnergyThreshold
	}
	if d.CalibrationChunks == 0 {
		d.CalibrationChunks = DefaultCalibrationChunks
	}
	if d.NoiseMultiplier == 0 {
		d.NoiseMultiplier = DefaultNoiseMultiplier
	}

	rc := &cfg.Recorder
	if rc.SilenceDuration == 0 {
		rc.SilenceDuration = DefaultSilenceDuration
	}
	if rc.MinSpeechDuration == 0 {
		rc.MinSpeechDuration = DefaultMinSpeech
	}
	if rc.MaxRecordingDuration == 0 {
		rc.MaxRecordingDuration = DefaultMaxRecording
	}
	if rc.PreRoll == 0 {
		rc.PreRoll = DefaultPreRoll
	}

	ic := &cfg.Interrupt
	if ic.Sensitivity == "" {
		ic.Sensitivity = string(arbiter.SensitivityMedium)
	}
	if ic.Strategy == "" {
		ic.Strategy = string(arbiter.StrategyRatio)
	}
	if p, err := arbiter.PresetFor(arbiter.Sensitivity(ic.Sensitivity)); err == nil {
		if ic.Cooldown == 0 {
			ic.Cooldown = p.Cooldown
		}
		if ic.EnergyThreshold == 0 {
			ic.EnergyThreshold = p.EnergyThreshold
		}
		if ic.SimilarityThreshold == 0 {
			ic.SimilarityThreshold = p.SimilarityThreshold
		}
	}
	if ic.Cooldown == 0 {
		ic.Cooldown = arbiter.DefaultCooldown
	}
	if ic.EnergyThreshold == 0 {
		ic.EnergyThreshold = arbiter.DefaultEnergyThreshold
	}
	if ic.SimilarityThreshold == 0 {
		ic.SimilarityThreshold = arbiter.DefaultSimilarityThreshold
	}
	if ic.UserRatio == 0 {
		ic.UserRatio = arbiter.DefaultUserRatio
	}
	if ic.EchoRatio == 0 {
		ic.EchoRatio = arbiter.DefaultEchoRatio
	}
	if ic.PostSpeechGap == 0 {
		ic.PostSpeechGap = DefaultPostSpeechGap
	}

	as := &cfg.Assistant
	if as.MaxHistory == 0 {
		as.MaxHistory = DefaultMaxHistory
	}
	if as.MaxTokens == 0 {
		as.MaxTokens = DefaultMaxTokens
	}
	if as.TranscribeTimeout == 0 {
		as.TranscribeTimeout = DefaultTranscribeTimeout
	}
	if as.RespondTimeout == 0 {
		as.RespondTimeout = DefaultRespondTimeout
	}

	if cfg.Journal.ArchiveBitrate == 0 {
		cfg.Journal.ArchiveBitrate = DefaultArchiveBitrate
	}
	if cfg.Journal.QueueSize == 0 {
		cfg.Journal.QueueSize = DefaultJournalQueueSize
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	a := cfg.Audio
	if !slices.Contains(ValidProviderNames["backend"], a.Backend) {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: portaudio, malgo", a.Backend))
	}
	if !slices.Contains(ValidProviderNames["playback"], a.Playback) {
		errs = append(errs, fmt.Errorf("audio.playback %q is invalid; valid values: oto", a.Playback))
	}
	if a.Channels < 1 || a.Channels > 8 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 8]", a.Channels))
	}
	if a.ChunkDuration <= 0 || a.ChunkDuration > maxChunkDuration {
		errs = append(errs, fmt.Errorf("audio.chunk_duration %v is out of range (0, %v]", a.ChunkDuration, maxChunkDuration))
	}
	for i, r := range a.Rates {
		if r <= 0 {
			errs = append(errs, fmt.Errorf("audio.rates[%d] %d must be positive", i, r))
		}
	}
	if a.TrialDuration <= 0 {
		errs = append(errs, fmt.Errorf("audio.trial_duration %v must be positive", a.TrialDuration))
	}
	if a.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("audio.queue_size %d must be at least 1", a.QueueSize))
	}
	if a.PlaybackRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.playback_rate %d must be positive", a.PlaybackRate))
	}

	// Detection
	d := cfg.Detection
	if d.EnergyThreshold <= 0 || d.EnergyThreshold >= 1 {
		errs = append(errs, fmt.Errorf("detection.energy_threshold %v is out of range (0, 1)", d.EnergyThreshold))
	}
	if d.CalibrationChunks < 1 {
		errs = append(errs, fmt.Errorf("detection.calibration_chunks %d must be at least 1", d.CalibrationChunks))
	}
	if d.NoiseMultiplier < 1 {
		errs = append(errs, fmt.Errorf("detection.noise_multiplier %v must be at least 1", d.NoiseMultiplier))
	}

	// Recorder
	rc := cfg.Recorder
	if rc.SilenceDuration <= 0 {
		errs = append(errs, fmt.Errorf("recorder.silence_duration %v must be positive", rc.SilenceDuration))
	}
	if rc.MinSpeechDuration <= 0 {
		errs = append(errs, fmt.Errorf("recorder.min_speech_duration %v must be positive", rc.MinSpeechDuration))
	}
	if rc.MinSpeechDuration >= rc.MaxRecordingDuration {
		errs = append(errs, fmt.Errorf("recorder.min_speech_duration %v must be less than max_recording_duration %v", rc.MinSpeechDuration, rc.MaxRecordingDuration))
	}

	// Interrupt
	ic := cfg.Interrupt
	if !arbiter.Sensitivity(ic.Sensitivity).IsValid() {
		errs = append(errs, fmt.Errorf("interrupt.sensitivity %q is invalid; valid values: low, medium, high", ic.Sensitivity))
	}
	if !arbiter.StrategyName(ic.Strategy).IsValid() {
		errs = append(errs, fmt.Errorf("interrupt.strategy %q is invalid; valid values: ratio, mute, adaptive", ic.Strategy))
	}
	if ic.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("interrupt.cooldown %v must not be negative", ic.Cooldown))
	}
	if ic.Sustain < 0 {
		errs = append(errs, fmt.Errorf("interrupt.sustain %v must not be negative", ic.Sustain))
	}
	if ic.EnergyThreshold <= 0 || ic.EnergyThreshold >= 1 {
		errs = append(errs, fmt.Errorf("interrupt.energy_threshold %v is out of range (0, 1)", ic.EnergyThreshold))
	}
	if ic.EchoRatio <= 0 || ic.EchoRatio >= ic.UserRatio {
		errs = append(errs, fmt.Errorf("interrupt.echo_ratio %v must be positive and less than user_ratio %v", ic.EchoRatio, ic.UserRatio))
	}
	if ic.SimilarityThreshold <= 0 || ic.SimilarityThreshold >= 1 {
		errs = append(errs, fmt.Errorf("interrupt.similarity_threshold %v is out of range (0, 1)", ic.SimilarityThreshold))
	}

	// Providers
	errs = append(errs, validateEntries("stt", cfg.Providers.STT)...)
	errs = append(errs, validateEntries("llm", cfg.Providers.LLM)...)
	errs = append(errs, validateEntries("tts", cfg.Providers.TTS)...)

	// Assistant
	as := cfg.Assistant
	if as.Temperature < 0 || as.Temperature > 2 {
		errs = append(errs, fmt.Errorf("assistant.temperature %.2f is out of range [0, 2]", as.Temperature))
	}
	if as.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_history %d must not be negative", as.MaxHistory))
	}
	if as.ExitSimilarity < 0 || as.ExitSimilarity > 1 {
		errs = append(errs, fmt.Errorf("assistant.exit_similarity %v is out of range [0, 1]", as.ExitSimilarity))
	}
	if as.TranscribeTimeout < 0 || as.RespondTimeout < 0 {
		errs = append(errs, errors.New("assistant timeouts must not be negative"))
	}

	// Journal
	j := cfg.Journal
	if j.ArchiveBitrate < 6000 || j.ArchiveBitrate > 510000 {
		errs = append(errs, fmt.Errorf("journal.archive_bitrate %d is out of range [6000, 510000]", j.ArchiveBitrate))
	}
	if j.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("journal.queue_size %d must be at least 1", j.QueueSize))
	}
	if j.Archive && j.PostgresDSN == "" {
		slog.Warn("journal.archive is enabled but journal.postgres_dsn is empty; archived audio is kept in memory only")
	}

	return errors.Join(errs...)
}

// validateEntries requires at least one named entry and rejects duplicates.
func validateEntries(kind string, entries []ProviderEntry) []error {
	var errs []error
	if len(entries) == 0 {
		return []error{fmt.Errorf("providers.%s requires at least one entry", kind)}
	}
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		prefix := fmt.Sprintf("providers.%s[%d]", kind, i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.%s[%d]", prefix, e.Name, kind, prev))
		}
		seen[e.Name] = i
		validateProviderName(kind, e.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
