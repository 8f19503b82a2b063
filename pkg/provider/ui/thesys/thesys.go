// Package thesys provides a C1-style UI provider backed by an
// OpenAI-compatible visualization endpoint.
//
// The Thesys C1 API speaks the chat-completions wire protocol and streams a
// component-tree payload; the provider wraps the stream in the
// <content>…</content> envelope the client renderer expects. The same
// implementation serves the alternative C1 endpoints (google, tomorrow) which
// differ only in base URL and model.
//
// Importing this package registers factories for the thesys, google, and
// tomorrow provider types.
package thesys

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/adagate/pkg/provider/ui"
	"github.com/MrWong99/adagate/pkg/types"
)

// Endpoint defaults for the thesys provider type. The google and tomorrow
// types have no public default and require an explicit base URL.
const (
	DefaultBaseURL = "https://api.thesys.dev/v1/visualize"
	DefaultModel   = "c1-nightly"
)

// generation temperature for component output
const temperature = 0.3

const defaultSystemPrompt = `You are a UI generation assistant.
Convert text responses into appropriate visual components for display.
Prefer cards, lists, and tables that make data easy to scan.`

func init() {
	factory := func(cfg ui.Config) (ui.Provider, error) { return New(cfg) }
	ui.Register(ui.TypeThesys, factory)
	ui.Register(ui.TypeGoogle, factory)
	ui.Register(ui.TypeTomorrow, factory)
}

// Provider implements ui.Provider against a C1-style endpoint.
type Provider struct {
	client       oai.Client
	model        string
	systemPrompt string
	timeout      time.Duration
}

// New constructs a Provider from the connection configuration.
func New(cfg ui.Config) (*Provider, error) {
	apiKey, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	model := cfg.Model
	if cfg.ProviderType == ui.TypeThesys {
		if baseURL == "" {
			baseURL = DefaultBaseURL
		}
		if model == "" {
			model = DefaultModel
		}
	}
	if baseURL == "" {
		return nil, fmt.Errorf("thesys: provider type %q requires a base_url", cfg.ProviderType)
	}
	if model == "" {
		return nil, fmt.Errorf("thesys: provider type %q requires a model", cfg.ProviderType)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	}
	for k, v := range cfg.CustomHeaders {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	return &Provider{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		systemPrompt: prompt,
		timeout:      cfg.Timeout,
	}, nil
}

// Initialize implements ui.Provider. The endpoint is stateless; there is
// nothing to prepare.
func (p *Provider) Initialize(ctx context.Context) error {
	return ctx.Err()
}

// StreamResponse implements ui.Provider. The component payload is streamed
// inside a <content>…</content> envelope.
func (p *Provider) StreamResponse(ctx context.Context, messages []types.Message) (<-chan string, error) {
	params := oai.ChatCompletionNewParams{
		Model:       shared.ChatModel(p.model),
		Messages:    convertMessages(p.systemPrompt, messages),
		Temperature: param.NewOpt(temperature),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("thesys: start stream: %w", err)
	}

	ch := make(chan string, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		if !emit(ctx, ch, "<content>") {
			return
		}
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				if !emit(ctx, ch, text) {
					return
				}
			}
		}
		// Close the envelope even when the stream errored; the consumer logs
		// the partial payload rather than rendering a broken fragment.
		emit(ctx, ch, "</content>")
	}()
	return ch, nil
}

// emit sends one fragment, honouring cancellation.
func emit(ctx context.Context, ch chan<- string, fragment string) bool {
	select {
	case ch <- fragment:
		return true
	case <-ctx.Done():
		return false
	}
}

// SystemPrompt implements ui.Provider.
func (p *Provider) SystemPrompt(tools []types.ToolDefinition) string {
	return ui.AppendToolList(p.systemPrompt, tools)
}

// Cleanup implements ui.Provider.
func (p *Provider) Cleanup() error {
	return nil
}

// Kind implements ui.Provider.
func (p *Provider) Kind() string {
	return ui.KindC1
}

// convertMessages builds the wire transcript. A system message supplied by
// the caller wins; the provider's own prompt fills in only when the
// transcript carries none.
func convertMessages(systemPrompt string, messages []types.Message) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if len(messages) == 0 || messages[0].Role != "system" {
		out = append(out, oai.SystemMessage(systemPrompt))
	}
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			out = append(out, oai.AssistantMessage(m.Content))
		case "system":
			out = append(out, oai.SystemMessage(m.Content))
		default:
			out = append(out, oai.UserMessage(m.Content))
		}
	}
	return out
}

var _ ui.Provider = (*Provider)(nil)
