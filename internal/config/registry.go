package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voxturn/pkg/audio"
	"github.com/MrWong99/voxturn/pkg/provider/llm"
	"github.com/MrWong99/voxturn/pkg/provider/stt"
	"github.com/MrWong99/voxturn/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when nothing is
// registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is one namespace of named constructors taking an A.
type factories[A, T any] struct {
	kind string
	m    map[string]func(A) (T, error)
}

func newFactories[A, T any](kind string) factories[A, T] {
	return factories[A, T]{kind: kind, m: make(map[string]func(A) (T, error))}
}

func (f factories[A, T]) create(name string, arg A) (T, error) {
	fn, ok := f.m[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q (known: %v)", ErrProviderNotRegistered, f.kind, name, f.names())
	}
	return fn(arg)
}

func (f factories[A, T]) names() []string {
	return slices.Sorted(maps.Keys(f.m))
}

// Registry maps the names used in the config file to constructors for
// capture backends, players and the three provider kinds. Safe for
// concurrent use. Registering a name twice replaces the first factory.
type Registry struct {
	mu       sync.RWMutex
	stt      factories[ProviderEntry, stt.Provider]
	llm      factories[ProviderEntry, llm.Provider]
	tts      factories[ProviderEntry, tts.Provider]
	backend  factories[struct{}, audio.Backend]
	playback factories[AudioConfig, audio.Player]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:      newFactories[ProviderEntry, stt.Provider]("stt"),
		llm:      newFactories[ProviderEntry, llm.Provider]("llm"),
		tts:      newFactories[ProviderEntry, tts.Provider]("tts"),
		backend:  newFactories[struct{}, audio.Backend]("backend"),
		playback: newFactories[AudioConfig, audio.Player]("playback"),
	}
}

func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = factory
}

func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = factory
}

func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = factory
}

// RegisterBackend registers a capture backend.
func (r *Registry) RegisterBackend(name string, factory func() (audio.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backend.m[name] = func(struct{}) (audio.Backend, error) { return factory() }
}

// RegisterPlayback registers a player. The factory receives the whole audio
// section so it can read the playback rate and buffer size.
func (r *Registry) RegisterPlayback(name string, factory func(AudioConfig) (audio.Player, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playback.m[name] = factory
}

// CreateSTT builds the STT provider named by entry.Name. An unknown name
// yields [ErrProviderNotRegistered].
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry.Name, entry)
}

func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry.Name, entry)
}

func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry.Name, entry)
}

func (r *Registry) CreateBackend(name string) (audio.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backend.create(name, struct{}{})
}

// CreatePlayback builds the player named by cfg.Playback.
func (r *Registry) CreatePlayback(cfg AudioConfig) (audio.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.playback.create(cfg.Playback, cfg)
}

// Validate reports every provider, backend or player named in cfg that has
// no registered factory.
func (r *Registry) Validate(cfg *Config) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	check := func(known bool, kind, name string) {
		if !known {
			errs = append(errs, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, name))
		}
	}
	_, ok := r.backend.m[cfg.Audio.Backend]
	check(ok, "backend", cfg.Audio.Backend)
	_, ok = r.playback.m[cfg.Audio.Playback]
	check(ok, "playback", cfg.Audio.Playback)
	for _, e := range cfg.Providers.STT {
		_, ok := r.stt.m[e.Name]
		check(ok, "stt", e.Name)
	}
	for _, e := range cfg.Providers.LLM {
		_, ok := r.llm.m[e.Name]
		check(ok, "llm", e.Name)
	}
	for _, e := range cfg.Providers.TTS {
		_, ok := r.tts.m[e.Name]
		check(ok, "tts", e.Name)
	}
	return errors.Join(errs...)
}
