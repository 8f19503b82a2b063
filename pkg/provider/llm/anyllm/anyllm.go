// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider],
// giving per-connection model overrides a single constructor that reaches
// OpenAI-compatible, Anthropic, Gemini and local inference backends.
package anyllm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/adagate/pkg/provider/llm"
	"github.com/MrWong99/adagate/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// backends maps a provider name onto its any-llm constructor. Each backend
// resolves its own API key from the environment when no option supplies one
// (OPENAI_API_KEY, ANTHROPIC_API_KEY and so on); the local servers (ollama,
// llamacpp, llamafile) use WithBaseURL instead of a key.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    asProvider(anyllmoai.New),
	"anthropic": asProvider(anthropic.New),
	"gemini":    asProvider(gemini.New),
	"ollama":    asProvider(ollama.New),
	"deepseek":  asProvider(deepseek.New),
	"mistral":   asProvider(mistral.New),
	"groq":      asProvider(groq.New),
	"llamacpp":  asProvider(llamacpp.New),
	"llamafile": asProvider(llamafile.New),
}

// asProvider adapts a constructor returning a concrete provider type to one
// returning the anyllmlib.Provider interface.
func asProvider[T anyllmlib.Provider](construct func(...anyllmlib.Option) (T, error)) func(...anyllmlib.Option) (anyllmlib.Provider, error) {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		p, err := construct(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Supported returns the accepted provider names in sorted order.
func Supported() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Provider is an any-llm-backed [llm.Provider] bound to one backend and model.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider for the named backend, one of [Supported]. The model
// string is passed through untranslated (e.g. "gpt-4o",
// "claude-3-5-sonnet-latest", "llama3.2").
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	construct, ok := backends[strings.ToLower(providerName)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported provider %q; supported: %s",
			providerName, strings.Join(Supported(), ", "))
	}
	backend, err := construct(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, model: model}, nil
}

// toolCallTracker assembles streamed tool call fragments keyed by position.
type toolCallTracker struct {
	calls map[int]*types.ToolCall
}

func newToolCallTracker() *toolCallTracker {
	return &toolCallTracker{calls: map[int]*types.ToolCall{}}
}

func (t *toolCallTracker) absorb(idx int, id, name, args string) {
	call, ok := t.calls[idx]
	if !ok {
		call = &types.ToolCall{}
		t.calls[idx] = call
	}
	if id != "" {
		call.ID = id
	}
	if name != "" {
		call.Name = name
	}
	call.Arguments += args
}

func (t *toolCallTracker) complete() []types.ToolCall {
	if len(t.calls) == 0 {
		return nil
	}
	out := make([]types.ToolCall, 0, len(t.calls))
	for i := 0; i < len(t.calls); i++ {
		if call, ok := t.calls[i]; ok {
			out = append(out, *call)
		}
	}
	return out
}

// StreamCompletion implements llm.Provider. Tool call fragments accumulate
// across chunks and are emitted whole on the finishing chunk; backend errors
// surface as a final chunk with FinishReason "error".
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	backendChunks, backendErrs := p.backend.CompletionStream(ctx, p.completionParams(req))

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		tracker := newToolCallTracker()

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			for i, tc := range choice.Delta.ToolCalls {
				tracker.absorb(i, tc.ID, tc.Function.Name, tc.Function.Arguments)
			}

			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			if choice.FinishReason != "" {
				out.ToolCalls = tracker.complete()
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		// The error channel resolves only after the chunk channel drains.
		if err := <-backendErrs; err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.completionParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	choice := resp.Choices[0]
	result := &llm.CompletionResponse{
		Content: choice.Message.ContentString(),
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

// CountTokens implements llm.Provider with a four-characters-per-token
// estimate plus per-message framing overhead. Close enough for history
// trimming across the model families any-llm reaches.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return capsFor(p.model)
}

// completionParams converts a CompletionRequest into any-llm params.
func (p *Provider) completionParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, toBackendMessage(m))
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	return params
}

// toBackendMessage converts one history message to the any-llm shape.
func toBackendMessage(m types.Message) anyllmlib.Message {
	msg := anyllmlib.Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: anyllmlib.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return msg
}

// capsRule matches model names by substring. Rules are checked in order, so
// more specific names sit above their family catch-alls.
type capsRule struct {
	substr string
	caps   types.ModelCapabilities
}

var capsRules = []capsRule{
	// OpenAI chat models.
	{"gpt-4o-mini", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 128_000, MaxOutputTokens: 16_384}},
	{"gpt-4o", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 128_000, MaxOutputTokens: 16_384}},
	{"gpt-4-turbo", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 128_000, MaxOutputTokens: 4_096}},
	{"gpt-4", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, ContextWindow: 8_192, MaxOutputTokens: 4_096}},
	{"gpt-3.5-turbo", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, ContextWindow: 16_385, MaxOutputTokens: 4_096}},

	// Anthropic. Opus 3 caps output lower than the rest of the family.
	{"claude-3-opus", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 200_000, MaxOutputTokens: 4_096}},
	{"claude", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 200_000, MaxOutputTokens: 8_192}},

	// Google Gemini.
	{"gemini-1.5-pro", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 2_097_152, MaxOutputTokens: 8_192}},
	{"gemini-1.5-flash", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 1_048_576, MaxOutputTokens: 8_192}},
	{"gemini-2.0-flash", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 1_048_576, MaxOutputTokens: 8_192}},
	{"gemini", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 128_000, MaxOutputTokens: 8_192}},

	// OpenAI o-series. o1-mini has no tool calling.
	{"o1-mini", types.ModelCapabilities{SupportsStreaming: true, ContextWindow: 128_000, MaxOutputTokens: 65_536}},
	{"o1", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 200_000, MaxOutputTokens: 100_000}},
	{"o3-mini", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, ContextWindow: 200_000, MaxOutputTokens: 100_000}},
	{"o3", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 200_000, MaxOutputTokens: 100_000}},
}

// capsFor resolves model capabilities, defaulting unknown names to a
// tool-capable 128k profile.
func capsFor(model string) types.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, r := range capsRules {
		if strings.Contains(lower, r.substr) {
			return r.caps
		}
	}
	return types.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}
}
