package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/intervox/pkg/provider/llm"
	"github.com/MrWong99/intervox/pkg/provider/stt"
	"github.com/MrWong99/intervox/pkg/provider/tts"
	"github.com/MrWong99/intervox/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is the registry of one provider kind. Guarded by Registry.mu.
type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

// build looks up the factory under the read lock and runs it outside.
func build[T any](r *Registry, f factories[T], entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := f.m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		return p, fmt.Errorf("config: create %s provider %q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to factories, one namespace per kind ("llm",
// "stt", "tts", "vad"). Registering a name twice replaces the factory. It is
// safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm factories[llm.Provider]
	stt factories[stt.Provider]
	tts factories[tts.Provider]
	vad factories[vad.Engine]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: newFactories[llm.Provider]("llm"),
		stt: newFactories[stt.Provider]("stt"),
		tts: newFactories[tts.Provider]("tts"),
		vad: newFactories[vad.Engine]("vad"),
	}
}

func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) { r.register(func() { r.llm.m[name] = f }) }
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) { r.register(func() { r.stt.m[name] = f }) }
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) { r.register(func() { r.tts.m[name] = f }) }
func (r *Registry) RegisterVAD(name string, f Factory[vad.Engine])   { r.register(func() { r.vad.m[name] = f }) }

func (r *Registry) register(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

// CreateLLM builds the LLM provider named by entry.Name. Unknown names
// return an error wrapping [ErrProviderNotRegistered].
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return build(r, r.llm, entry)
}

func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return build(r, r.stt, entry)
}

func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return build(r, r.tts, entry)
}

func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	return build(r, r.vad, entry)
}

// Names returns the sorted provider names registered for kind, or nil for an
// unknown kind.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "llm":
		return r.llm.names()
	case "stt":
		return r.stt.names()
	case "tts":
		return r.tts.names()
	case "vad":
		return r.vad.names()
	}
	return nil
}
