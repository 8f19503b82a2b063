package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/adagate/pkg/provider/embeddings"
	"github.com/MrWong99/adagate/pkg/provider/llm"
	"github.com/MrWong99/adagate/pkg/provider/stt"
	"github.com/MrWong99/adagate/pkg/provider/tts"
	"github.com/MrWong99/adagate/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// exists under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factorySet holds the named constructors for one provider kind. kind labels
// error messages ("llm", "stt", ...).
type factorySet[T any] struct {
	kind string

	mu     sync.RWMutex
	byName map[string]func(ProviderEntry) (T, error)
}

func newFactorySet[T any](kind string) factorySet[T] {
	return factorySet[T]{
		kind:   kind,
		byName: make(map[string]func(ProviderEntry) (T, error)),
	}
}

// put registers a factory, replacing any previous one under the same name.
func (s *factorySet[T]) put(name string, factory func(ProviderEntry) (T, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[name] = factory
}

// create instantiates the provider named by entry.Name.
func (s *factorySet[T]) create(entry ProviderEntry) (T, error) {
	s.mu.RLock()
	factory, ok := s.byName[entry.Name]
	s.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, s.kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to constructors per provider kind. main
// registers everything it links in, then the app creates whatever the config
// names. Safe for concurrent use.
type Registry struct {
	llm        factorySet[llm.Provider]
	stt        factorySet[stt.Provider]
	tts        factorySet[tts.Provider]
	embeddings factorySet[embeddings.Provider]
	vad        factorySet[vad.Engine]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        newFactorySet[llm.Provider]("llm"),
		stt:        newFactorySet[stt.Provider]("stt"),
		tts:        newFactorySet[tts.Provider]("tts"),
		embeddings: newFactorySet[embeddings.Provider]("embeddings"),
		vad:        newFactorySet[vad.Engine]("vad"),
	}
}

// RegisterLLM registers a chat-model factory under name. Later registrations
// under the same name win.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.llm.put(name, factory)
}

// RegisterSTT registers a transcription factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.stt.put(name, factory)
}

// RegisterTTS registers a synthesis factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.tts.put(name, factory)
}

// RegisterEmbeddings registers an embeddings factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.embeddings.put(name, factory)
}

// RegisterVAD registers a voice-activity-detection engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.vad.put(name, factory)
}

// CreateLLM instantiates the chat model entry.Name points at, or
// [ErrProviderNotRegistered].
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(entry)
}

// CreateSTT instantiates the transcription provider entry.Name points at.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create(entry)
}

// CreateTTS instantiates the synthesis provider entry.Name points at.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(entry)
}

// CreateEmbeddings instantiates the embeddings provider entry.Name points at.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.create(entry)
}

// CreateVAD instantiates the VAD engine entry.Name points at.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	return r.vad.create(entry)
}
