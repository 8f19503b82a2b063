// Package ui defines the Provider interface for streaming UI-generation
// backends.
//
// A UI provider turns a conversation transcript into a visual artifact for
// the control channel: either a component-tree payload (C1-style providers)
// or HTML for a client-side framework (HTML-style providers). Providers are
// per-connection; the connection configuration selects the implementation by
// provider type and the factory constructs it.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamResponse must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/adagate/pkg/types"
)

// Provider kinds, matching the ui_token sub-kind the worker emits.
const (
	// KindC1 marks providers that stream component-tree payloads.
	KindC1 = "c1"

	// KindHTML marks providers that stream HTML markup.
	KindHTML = "html"
)

// Provider types accepted in the connection configuration.
const (
	TypeThesys    = "thesys"
	TypeGoogle    = "google"
	TypeTomorrow  = "tomorrow"
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
)

// KnownType reports whether providerType names a constructible provider.
func KnownType(providerType string) bool {
	switch providerType {
	case TypeThesys, TypeGoogle, TypeTomorrow, TypeOpenAI, TypeAnthropic:
		return true
	}
	return false
}

// Provider is the abstraction over any UI-generation backend.
type Provider interface {
	// Initialize prepares the provider for streaming. It is called once during
	// connection setup, before the first StreamResponse.
	Initialize(ctx context.Context) error

	// StreamResponse sends the transcript to the backend and returns a
	// read-only channel emitting text fragments of the UI payload. The stream
	// is lazy, finite, and non-restartable; consumers concatenate fragments in
	// order. The channel is closed when generation finishes or ctx is
	// cancelled. The error return is non-nil only for failures that prevent
	// the stream from starting.
	StreamResponse(ctx context.Context, messages []types.Message) (<-chan string, error)

	// SystemPrompt returns the provider's generation prompt. When tool
	// descriptors are present they are appended as a short bulleted list so
	// the generator can reference tool output.
	SystemPrompt(tools []types.ToolDefinition) string

	// Cleanup releases provider resources. Called exactly once during
	// connection teardown.
	Cleanup() error

	// Kind reports the payload style, [KindC1] or [KindHTML].
	Kind() string
}

// Config selects and parameterises a provider implementation. It mirrors the
// visualization_provider block of the connection configuration.
type Config struct {
	// ProviderType is one of the Type* constants.
	ProviderType string

	// APIKeyEnv names the environment variable holding the backend credential.
	APIKeyEnv string

	// BaseURL overrides the backend endpoint. Empty means the provider default.
	BaseURL string

	// Model overrides the generation model. Empty means the provider default.
	Model string

	// Timeout bounds a single generation stream. Zero means no per-stream bound.
	Timeout time.Duration

	// CustomHeaders are extra HTTP headers sent on every backend request.
	CustomHeaders map[string]string

	// Framework is the client's UI framework preference (HTML-style providers).
	Framework string

	// SystemPrompt is the base generation prompt. Empty means the provider's
	// built-in default.
	SystemPrompt string
}

// Factory constructs a Provider from a Config. Registered factories replace
// the default construction for their provider type.
type Factory func(cfg Config) (Provider, error)

var factories = map[string]Factory{}

// Register installs a custom factory for providerType. Passing nil removes a
// previous registration. Register is not safe for concurrent use; call it
// during program initialization.
func Register(providerType string, f Factory) {
	if f == nil {
		delete(factories, providerType)
		return
	}
	factories[providerType] = f
}

// New constructs the provider selected by cfg.ProviderType.
//
// The thesys subpackage registers the C1-style endpoint types (thesys, google,
// tomorrow) and the htmlgen subpackage registers the HTML generator types
// (openai, anthropic) when imported; Register can override either.
func New(cfg Config) (Provider, error) {
	if f, ok := factories[cfg.ProviderType]; ok {
		return f(cfg)
	}
	if !KnownType(cfg.ProviderType) {
		return nil, fmt.Errorf("ui: unknown provider type %q", cfg.ProviderType)
	}
	return nil, fmt.Errorf("ui: no factory registered for provider type %q", cfg.ProviderType)
}

// ResolveAPIKey reads the credential named by cfg.APIKeyEnv.
func (cfg Config) ResolveAPIKey() (string, error) {
	if cfg.APIKeyEnv == "" {
		return "", fmt.Errorf("ui: provider %q names no api_key_env", cfg.ProviderType)
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("ui: environment variable %s is empty", cfg.APIKeyEnv)
	}
	return key, nil
}

// AppendToolList appends tool descriptors to a base prompt as a short
// bulleted list. With no tools the base prompt is returned unchanged.
func AppendToolList(base string, tools []types.ToolDefinition) string {
	if len(tools) == 0 {
		return base
	}
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\nAvailable tools:\n")
	for _, t := range tools {
		sb.WriteString("- ")
		sb.WriteString(t.Name)
		if t.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(t.Description)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
