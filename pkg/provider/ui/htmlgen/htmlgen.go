// Package htmlgen provides an HTML-style UI provider backed by an
// OpenAI-compatible chat model.
//
// The model is prompted to return JSON with an htmlContent field; the provider
// extracts that field incrementally from the stream and yields markup
// fragments as soon as they are decodable, so the client renders progressively
// instead of waiting for the full document.
//
// Importing this package registers factories for the openai and anthropic
// provider types.
package htmlgen

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/adagate/internal/htmlui"
	"github.com/MrWong99/adagate/pkg/provider/ui"
	"github.com/MrWong99/adagate/pkg/types"
)

// DefaultModel is used when the configuration names none.
const DefaultModel = "gpt-4o-mini"

// anthropicBaseURL is the OpenAI-compatible endpoint for the anthropic type.
const anthropicBaseURL = "https://api.anthropic.com/v1"

// generation temperature for markup output
const temperature = 0.3

func init() {
	factory := func(cfg ui.Config) (ui.Provider, error) { return New(cfg) }
	ui.Register(ui.TypeOpenAI, factory)
	ui.Register(ui.TypeAnthropic, factory)
}

// Provider implements ui.Provider by generating framework HTML.
type Provider struct {
	client       oai.Client
	model        string
	framework    string
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
	if baseURL == "" && cfg.ProviderType == ui.TypeAnthropic {
		baseURL = anthropicBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	framework := cfg.Framework
	if !htmlui.KnownFramework(framework) {
		framework = htmlui.DefaultFramework
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	for k, v := range cfg.CustomHeaders {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = defaultPrompt(framework)
	}

	return &Provider{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		framework:    framework,
		systemPrompt: prompt,
		timeout:      cfg.Timeout,
	}, nil
}

// defaultPrompt returns a built-in generation prompt for the framework.
func defaultPrompt(framework string) string {
	switch framework {
	case htmlui.FrameworkShadcn:
		return "You are a ShadCN component generator that creates professional UI interfaces.\n" +
			"Use ShadCN/UI component patterns with Tailwind CSS and proper design system conventions.\n" +
			"Return JSON with an htmlContent field containing the complete HTML."
	case htmlui.FrameworkTailwind:
		return "You are a Tailwind CSS generator that creates modern web interfaces.\n" +
			"Use Tailwind utility classes for styling and responsive design.\n" +
			"Return JSON with an htmlContent field containing the complete HTML."
	default:
		return "You are an HTML generator that creates interactive web interfaces.\n" +
			"Create clean HTML with inline styles.\n" +
			"Return JSON with an htmlContent field containing the complete HTML."
	}
}

// Initialize implements ui.Provider.
func (p *Provider) Initialize(ctx context.Context) error {
	return ctx.Err()
}

// StreamResponse implements ui.Provider. Fragments are the incrementally
// decoded htmlContent value; if the model never produced that field, the raw
// accumulated text is emitted once at the end so the turn is not silently
// empty.
func (p *Provider) StreamResponse(ctx context.Context, messages []types.Message) (<-chan string, error) {
	params := oai.ChatCompletionNewParams{
		Model:       shared.ChatModel(p.model),
		Messages:    convertMessages(p.systemPrompt, messages),
		Temperature: param.NewOpt(temperature),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("htmlgen: start stream: %w", err)
	}

	ch := make(chan string, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		var ex extractor
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			if html := ex.Feed(text); html != "" {
				select {
				case ch <- html:
				case <-ctx.Done():
					return
				}
			}
		}

		if !ex.Started() && ex.Raw() != "" {
			select {
			case ch <- ex.Raw():
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
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
	return ui.KindHTML
}

// Framework reports the framework preference the provider generates for.
func (p *Provider) Framework() string {
	return p.framework
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
