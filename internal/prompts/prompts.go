// Package prompts loads and caches the system prompts used by the UI
// providers and the enhancement decider.
//
// Prompts are plain text files resolved by name from an optional prompts
// directory; every name also has a built-in default so a missing directory
// never breaks a component. The store is safe for concurrent use.
package prompts

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Well-known prompt names.
const (
	HTMLGenerator     = "html_generator_system"
	TailwindGenerator = "tailwind_generator_system"
	ShadcnGenerator   = "shadcn_generator_system"
	Visualization     = "visualization_system"
	Enhancement       = "voice_enhancement_system"
	VoiceAgent        = "voice_agent_system"
)

// Store resolves prompt names to text, preferring files in Dir over the
// built-in defaults.
type Store struct {
	// Dir is the prompts directory; empty means built-ins only.
	Dir string

	mu    sync.Mutex
	cache map[string]string
}

// NewStore creates a prompt store reading from dir (may be empty).
func NewStore(dir string) *Store {
	return &Store{Dir: dir, cache: make(map[string]string)}
}

// Load returns the prompt text for name. File contents are cached after the
// first read; unknown names fall back to a generic assistant prompt.
func (s *Store) Load(name string) string {
	s.mu.Lock()
	if text, ok := s.cache[name]; ok {
		s.mu.Unlock()
		return text
	}
	s.mu.Unlock()

	if s.Dir != "" {
		path := filepath.Join(s.Dir, name+".txt")
		if data, err := os.ReadFile(path); err == nil {
			text := strings.TrimSpace(string(data))
			s.mu.Lock()
			s.cache[name] = text
			s.mu.Unlock()
			slog.Debug("loaded prompt", "name", name, "path", path)
			return text
		}
	}

	text := fallback(name)
	s.mu.Lock()
	s.cache[name] = text
	s.mu.Unlock()
	return text
}

// Reload drops the cached entry for name and loads it again, so edited
// prompt files take effect without a restart.
func (s *Store) Reload(name string) string {
	s.mu.Lock()
	delete(s.cache, name)
	s.mu.Unlock()
	return s.Load(name)
}

// ClearCache drops every cached prompt.
func (s *Store) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
}

// ForFramework selects the HTML generator prompt matching a UI framework
// preference. C1-style frameworks use the visualization prompt.
func (s *Store) ForFramework(framework string) string {
	switch strings.ToLower(framework) {
	case "tailwind":
		return s.Load(TailwindGenerator)
	case "shadcn":
		return s.Load(ShadcnGenerator)
	case "c1", "thesys":
		return s.Load(Visualization)
	default:
		return s.Load(HTMLGenerator)
	}
}

// fallback returns the built-in default for a prompt name.
func fallback(name string) string {
	if text, ok := defaults[name]; ok {
		return text
	}
	slog.Warn("no prompt registered, using generic fallback", "name", name)
	return "You are a helpful AI assistant."
}

var defaults = map[string]string{
	HTMLGenerator: `You are an HTML generator that creates interactive web interfaces.
Create clean HTML with inline styles and window.genuxSDK event handlers for interactivity.
Return JSON with an htmlContent field containing the complete HTML.`,

	TailwindGenerator: `You are a Tailwind CSS generator that creates modern web interfaces.
Use Tailwind utility classes for styling and responsive design.
Include window.genuxSDK event handlers for interactivity and return JSON with an htmlContent field.`,

	ShadcnGenerator: `You are a ShadCN component generator that creates professional UI interfaces.
Use ShadCN/UI component patterns with Tailwind CSS and proper design system conventions.
Include window.genuxSDK event handlers for interactivity and return JSON with an htmlContent field.`,

	Visualization: `You are a UI generation assistant.
Convert text responses into appropriate visual components for display.
Prefer cards, lists, and tables that make data easy to scan.`,

	Enhancement: `You are an AI assistant that decides whether a response should be enhanced with dynamic UI or displayed as plain text.

Available tools: {available_tools}

Analyze the assistant response and determine:
1. If the content would benefit from visual enhancement
2. What enhanced text should be used for UI generation
3. What text should be used for voice-over/TTS
4. If any tools should be called to improve the response

For simple conversational responses, set displayEnhancement to false.
For responses with data, analysis, or tool usage, set displayEnhancement to true.`,

	VoiceAgent: `You are a helpful voice assistant.
Keep responses conversational and concise (1-3 sentences).`,
}
