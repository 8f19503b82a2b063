package control

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/adagate/internal/toolhost"
	"github.com/MrWong99/adagate/pkg/provider/llm"
	"github.com/MrWong99/adagate/pkg/types"
)

// maxToolRounds bounds the invoke-and-reprompt loop so a model that keeps
// requesting tools cannot spin forever.
const maxToolRounds = 3

// chatTemperature for text-path completions.
const chatTemperature = 0.7

// Agent is the tool-aware LLM wrapper behind the text chat path: it streams a
// completion, executes any requested tools, and repeats until the model
// produces text.
type Agent struct {
	llm          llm.Provider
	tools        toolhost.Host
	systemPrompt string
	log          *slog.Logger
}

// NewAgent builds an agent over the connection's LLM and tool host.
func NewAgent(provider llm.Provider, tools toolhost.Host, systemPrompt string, log *slog.Logger) *Agent {
	if log == nil {
		log = slog.Default()
	}
	return &Agent{llm: provider, tools: tools, systemPrompt: systemPrompt, log: log}
}

// Respond produces the assistant reply for userText given the conversation
// history. onToken, when non-nil, receives each streamed text fragment as it
// arrives; tool rounds produce no tokens until the final round streams.
func (a *Agent) Respond(ctx context.Context, history []types.Message, userText string, onToken func(string)) (string, error) {
	messages := make([]types.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, types.Message{Role: "user", Content: userText})

	available := a.tools.ListTools()

	for round := 0; ; round++ {
		text, toolCalls, err := a.stream(ctx, llm.CompletionRequest{
			Messages:     messages,
			Tools:        available,
			Temperature:  chatTemperature,
			SystemPrompt: a.systemPrompt,
		}, onToken)
		if err != nil {
			return "", fmt.Errorf("control: chat completion: %w", err)
		}
		if len(toolCalls) == 0 {
			return text, nil
		}
		if round >= maxToolRounds {
			a.log.Warn("tool round limit reached, returning partial text", "rounds", round)
			return text, nil
		}

		messages = append(messages, types.Message{Role: "assistant", Content: text, ToolCalls: toolCalls})
		for _, call := range toolCalls {
			result, err := a.tools.Invoke(ctx, call.Name, call.Arguments)
			if err != nil {
				a.log.Warn("tool invocation failed", "tool", call.Name, "error", err)
				result = fmt.Sprintf("tool error: %v", err)
			}
			messages = append(messages, types.Message{
				Role:       "tool",
				Content:    result,
				Name:       call.Name,
				ToolCallID: call.ID,
			})
		}
	}
}

// stream consumes one completion, forwarding text fragments and collecting
// tool calls.
func (a *Agent) stream(ctx context.Context, req llm.CompletionRequest, onToken func(string)) (string, []types.ToolCall, error) {
	ch, err := a.llm.StreamCompletion(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var toolCalls []types.ToolCall
	for chunk := range ch {
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if onToken != nil {
				onToken(chunk.Text)
			}
		}
		toolCalls = append(toolCalls, chunk.ToolCalls...)
		if chunk.FinishReason == "error" {
			return "", nil, fmt.Errorf("stream reported error finish")
		}
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	return text.String(), toolCalls, nil
}
