// Package openai implements [llm.Provider] on the official OpenAI Go SDK.
// It is the first-party chat path; OpenAI-compatible third parties go
// through the any-llm adapter instead.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/adagate/pkg/provider/llm"
	"github.com/MrWong99/adagate/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Token estimation constants for CountTokens. Roughly four characters per
// token for GPT-series tokenizers, plus a fixed per-message framing cost.
const (
	charsPerToken      = 4
	perMessageOverhead = 4
)

// Provider is an OpenAI-backed [llm.Provider] bound to a single model.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option configures a [Provider].
type Option func(*config)

// WithBaseURL points the client at an alternative API endpoint, e.g. an
// Azure OpenAI deployment or a proxy.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization attaches an OpenAI organization ID to every request.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout caps the duration of each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New creates a Provider. Both apiKey and model are required.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// toolCallTracker assembles tool calls from streamed delta fragments. The
// API spreads one call's ID, name and argument JSON across several chunks,
// keyed by index.
type toolCallTracker struct {
	calls map[int]*types.ToolCall
}

func newToolCallTracker() *toolCallTracker {
	return &toolCallTracker{calls: map[int]*types.ToolCall{}}
}

// absorb merges one fragment into the call at idx. ID and name arrive once,
// the argument JSON arrives in pieces.
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

// complete returns the assembled calls in index order.
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

// StreamCompletion implements llm.Provider. Tool call fragments are
// accumulated across chunks and delivered whole on the finishing chunk. A
// transport error mid-stream surfaces as a chunk with FinishReason "error".
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.chatParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		tracker := newToolCallTracker()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			for _, tc := range choice.Delta.ToolCalls {
				tracker.absorb(int(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)
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

		if err := stream.Err(); err != nil {
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
	params, err := p.chatParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	result := &llm.CompletionResponse{
		Content: choice.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
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

// CountTokens implements llm.Provider with a character-count estimate.
// TODO: swap in tiktoken-go for exact per-model counts once context-window
// budgeting needs them.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + charsPerToken - 1) / charsPerToken
		total += perMessageOverhead
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return capsFor(p.model)
}

// modelCaps pairs a model-name prefix with its capability profile. Matched
// in order, so longer prefixes must come before their shorter cousins.
type modelCaps struct {
	prefix string
	caps   types.ModelCapabilities
}

var knownModels = []modelCaps{
	{"gpt-4o-mini", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 128_000, MaxOutputTokens: 16_384}},
	{"gpt-4o", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 128_000, MaxOutputTokens: 16_384}},
	{"gpt-4.1", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 1_047_576, MaxOutputTokens: 32_768}},
	{"gpt-4-turbo", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 128_000, MaxOutputTokens: 4_096}},
	{"gpt-4", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, ContextWindow: 8_192, MaxOutputTokens: 4_096}},
	{"gpt-3.5-turbo", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, ContextWindow: 16_385, MaxOutputTokens: 4_096}},
	{"o1-mini", types.ModelCapabilities{SupportsStreaming: true, ContextWindow: 128_000, MaxOutputTokens: 65_536}},
	{"o1", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 200_000, MaxOutputTokens: 100_000}},
	{"o3-mini", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, ContextWindow: 200_000, MaxOutputTokens: 100_000}},
	{"o3", types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 200_000, MaxOutputTokens: 100_000}},
}

// capsFor resolves capabilities for a model name, falling back to a
// conservative tool-capable default for unrecognised names.
func capsFor(model string) types.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, m := range knownModels {
		if strings.HasPrefix(lower, m.prefix) {
			return m.caps
		}
	}
	return types.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}
}

// chatParams converts a CompletionRequest into SDK request params.
func (p *Provider) chatParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := toChatMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}
	return params, nil
}

// toChatMessage maps one history message onto the SDK's role unions.
func toChatMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil

	case "user":
		return oai.UserMessage(m.Content), nil

	case "assistant":
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		if m.Name != "" {
			asst.Name = oai.String(m.Name)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	case "tool":
		return oai.ToolMessage(m.Content, m.ToolCallID), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
