// Package enhance implements the enhancement decider: the single streamed
// LLM pass that decides, for each assistant utterance, whether the slow path
// should render a visual artifact, and what text is displayed versus spoken.
//
// While the decision streams, the voiceOverText field is surfaced word by
// word through an injection callback so TTS can start before the decision
// completes. The decider may route through one tool round-trip; a tool call
// forces the enhanced path.
package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/adagate/internal/toolhost"
	"github.com/MrWong99/adagate/pkg/provider/llm"
	"github.com/MrWong99/adagate/pkg/types"
)

// Decision is the outcome of one enhancement pass.
type Decision struct {
	// Enhance reports whether the worker should stream a UI artifact.
	Enhance bool

	// DisplayText is fed to the UI generator, or shown verbatim when not
	// enhanced.
	DisplayText string

	// VoiceOverText is spoken via TTS; empty means nothing beyond what was
	// already injected.
	VoiceOverText string

	// ToolCalls lists the namespaced keys of tools invoked while deciding.
	ToolCalls []string
}

// InjectFunc receives complete voice-over words as they become available.
// Implementations are best-effort; errors are logged, never propagated.
type InjectFunc func(text string)

// Interstitial is spoken when the decider routes through a tool call.
const Interstitial = "I'm using tools to help answer your question. "

// DefaultTimeout bounds one full decision including any tool round-trip.
const DefaultTimeout = 30 * time.Second

// defaultHistoryLimit is how many trailing history items join the prompt.
const defaultHistoryLimit = 3

// decision temperature; the schema leaves little room for creativity
const temperature = 0.3

// wire shape of the model's decision JSON
type decisionWire struct {
	DisplayEnhancement  bool    `json:"displayEnhancement"`
	DisplayEnhancedText string  `json:"displayEnhancedText"`
	VoiceOverText       *string `json:"voiceOverText"`
}

// Decider produces enhancement decisions for a single connection.
type Decider struct {
	llm   llm.Provider
	tools toolhost.Host
	log   *slog.Logger

	systemPrompt string
	timeout      time.Duration
	historyLimit int
}

// Option configures a Decider.
type Option func(*Decider)

// WithLogger sets the logger; the default is slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(d *Decider) { d.log = log }
}

// WithTimeout overrides the per-decision hard timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Decider) { d.timeout = timeout }
}

// WithHistoryLimit overrides how many trailing history items join the prompt.
func WithHistoryLimit(n int) Option {
	return func(d *Decider) { d.historyLimit = n }
}

// New creates a Decider. systemPrompt may contain an {available_tools}
// placeholder which is substituted with the tool list on every decision.
func New(provider llm.Provider, tools toolhost.Host, systemPrompt string, opts ...Option) *Decider {
	d := &Decider{
		llm:          provider,
		tools:        tools,
		log:          slog.Default(),
		systemPrompt: systemPrompt,
		timeout:      DefaultTimeout,
		historyLimit: defaultHistoryLimit,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Bypass returns the decision used when the assistant turn came from the
// text path: a text turn renders UI by default and needs no voice-over.
func Bypass(utterance string) Decision {
	return Decision{Enhance: true, DisplayText: utterance}
}

// Fallback returns the decision used when the model could not produce one.
func Fallback(utterance string) Decision {
	return Decision{Enhance: false, DisplayText: utterance, VoiceOverText: utterance}
}

// Decide runs one enhancement pass for utterance. history is the recent
// conversation; only the trailing historyLimit items join the prompt. inject
// may be nil; when set it receives voice-over words as they stream.
//
// Decide never fails the turn: on parse failure it retries once with an
// explicit schema request, then falls back to the plain decision. The whole
// pass is bounded by the decider timeout.
func (d *Decider) Decide(ctx context.Context, utterance string, history []types.Message, inject InjectFunc) Decision {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	messages := d.buildMessages(utterance, history)
	available := d.tools.ListTools()

	raw, toolCalls, err := d.streamCall(ctx, llm.CompletionRequest{
		Messages:     messages,
		Tools:        available,
		Temperature:  temperature,
		SystemPrompt: d.renderSystemPrompt(available),
	}, inject)
	if err != nil {
		d.log.Warn("enhancement call failed, using fallback", "error", err)
		return Fallback(utterance)
	}

	if len(toolCalls) > 0 {
		return d.decideWithTools(ctx, utterance, messages, available, toolCalls, inject)
	}

	decision, err := d.parse(raw, utterance)
	if err != nil {
		d.log.Debug("decision parse failed, retrying with explicit schema", "error", err)
		decision, err = d.retryParse(ctx, raw, utterance)
		if err != nil {
			d.log.Warn("decision retry failed, using fallback", "error", err)
			return Fallback(utterance)
		}
	}
	return decision
}

// decideWithTools executes the requested tools, injects the interstitial
// voice-over, and issues the second call that must return the decision.
func (d *Decider) decideWithTools(
	ctx context.Context,
	utterance string,
	messages []types.Message,
	available []types.ToolDefinition,
	toolCalls []types.ToolCall,
	inject InjectFunc,
) Decision {
	d.inject(inject, Interstitial)

	messages = append(messages, types.Message{Role: "assistant", ToolCalls: toolCalls})

	var invoked []string
	for _, tc := range toolCalls {
		result, err := d.tools.Invoke(ctx, tc.Name, tc.Arguments)
		if err != nil {
			d.log.Warn("tool invocation failed", "tool", tc.Name, "error", err)
			result = fmt.Sprintf("tool error: %v", err)
		}
		invoked = append(invoked, tc.Name)
		messages = append(messages, types.Message{
			Role:       "tool",
			Content:    result,
			ToolCallID: tc.ID,
		})
	}

	raw, _, err := d.streamCall(ctx, llm.CompletionRequest{
		Messages:     messages,
		Temperature:  temperature,
		SystemPrompt: d.renderSystemPrompt(available),
	}, inject)

	decision := Fallback(utterance)
	if err == nil {
		if parsed, perr := d.parse(raw, utterance); perr == nil {
			decision = parsed
		} else if parsed, perr = d.retryParse(ctx, raw, utterance); perr == nil {
			decision = parsed
		} else {
			d.log.Warn("post-tool decision parse failed, using fallback", "error", perr)
		}
	} else {
		d.log.Warn("post-tool enhancement call failed, using fallback", "error", err)
	}

	// A tool round-trip always renders; the tool output is the artifact.
	decision.Enhance = true
	decision.ToolCalls = invoked
	if decision.VoiceOverText == "" && len(invoked) > 0 {
		decision.VoiceOverText = fmt.Sprintf("I used the %s tool to help answer your question.", invoked[0])
	}
	return decision
}

// streamCall issues one streamed completion, feeding the voice scanner and
// accumulating full text and tool calls.
func (d *Decider) streamCall(ctx context.Context, req llm.CompletionRequest, inject InjectFunc) (string, []types.ToolCall, error) {
	chunks, err := d.llm.StreamCompletion(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var (
		full      strings.Builder
		toolCalls []types.ToolCall
		scanner   voiceScanner
	)
	for chunk := range chunks {
		if chunk.FinishReason == "error" {
			return "", nil, fmt.Errorf("enhance: stream error: %s", chunk.Text)
		}
		if chunk.Text != "" {
			full.WriteString(chunk.Text)
			if words := scanner.Feed(chunk.Text); words != "" {
				d.inject(inject, words)
			}
		}
		if len(chunk.ToolCalls) > 0 {
			toolCalls = append(toolCalls, chunk.ToolCalls...)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", nil, fmt.Errorf("enhance: decision timed out: %w", err)
	}
	if rest := scanner.Flush(); rest != "" {
		d.inject(inject, rest)
	}
	return full.String(), toolCalls, nil
}

// inject delivers text to the callback, absorbing panics and nil callbacks.
func (d *Decider) inject(inject InjectFunc, text string) {
	if inject == nil || text == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Warn("voice-over injection panicked", "recovered", r)
		}
	}()
	inject(text)
}

// parse extracts the decision JSON from raw model output.
func (d *Decider) parse(raw, utterance string) (Decision, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return Decision{}, fmt.Errorf("enhance: no JSON object in output")
	}

	var wire decisionWire
	if err := json.Unmarshal([]byte(raw[start:end+1]), &wire); err != nil {
		return Decision{}, fmt.Errorf("enhance: decode decision: %w", err)
	}

	decision := Decision{
		Enhance:     wire.DisplayEnhancement,
		DisplayText: wire.DisplayEnhancedText,
	}
	if decision.DisplayText == "" {
		decision.DisplayText = utterance
	}
	if wire.VoiceOverText != nil {
		decision.VoiceOverText = *wire.VoiceOverText
	}
	return decision, nil
}

// retryParse asks the model to restate its output as raw JSON with the
// explicit schema, then parses the answer.
func (d *Decider) retryParse(ctx context.Context, raw, utterance string) (Decision, error) {
	resp, err := d.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []types.Message{
			{Role: "user", Content: "Restate the following as raw JSON only, no prose, with exactly the keys " +
				`displayEnhancement (boolean), displayEnhancedText (string), voiceOverText (string or null):` +
				"\n\n" + raw},
		},
		Temperature: temperature,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("enhance: retry call: %w", err)
	}
	return d.parse(resp.Content, utterance)
}

// renderSystemPrompt substitutes the tool list into the prompt template.
func (d *Decider) renderSystemPrompt(tools []types.ToolDefinition) string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	list := "none"
	if len(names) > 0 {
		list = strings.Join(names, ", ")
	}
	return strings.ReplaceAll(d.systemPrompt, "{available_tools}", list)
}

// buildMessages assembles the prompt transcript: trailing history, then the
// utterance to decide on.
func (d *Decider) buildMessages(utterance string, history []types.Message) []types.Message {
	start := len(history) - d.historyLimit
	if start < 0 {
		start = 0
	}
	messages := make([]types.Message, 0, d.historyLimit+1)
	messages = append(messages, history[start:]...)
	messages = append(messages, types.Message{
		Role:    "user",
		Content: "Assistant response to evaluate:\n" + utterance,
	})
	return messages
}
