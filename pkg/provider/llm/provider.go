// Package llm defines the interface over chat model backends. The voice
// agent, the enhancement decider and the UI generators all talk to models
// through [Provider], so swapping OpenAI for Anthropic or a local server is
// a configuration change, not a code change.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion are closed by the implementation when the stream ends or
// the context is cancelled.
package llm

import (
	"context"

	"github.com/MrWong99/adagate/pkg/types"
)

// Usage is the backend's token accounting for one request. Counts are in the
// model's native token unit and differ between providers for the same text.
type Usage struct {
	// PromptTokens covers the input messages plus system prompt. Drives
	// billing and context-window budgeting.
	PromptTokens int

	// CompletionTokens generated in the response.
	CompletionTokens int

	// TotalTokens is the sum; some backends report it directly.
	TotalTokens int
}

// CompletionRequest carries everything the model needs for one response.
// Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the conversation in order; the last entry drives the
	// response.
	Messages []types.Message

	// Tools the model may call. Callers should check
	// Capabilities().SupportsToolCalling before offering any.
	Tools []types.ToolDefinition

	// Temperature in [0.0, 2.0]; zero requests the backend default, which
	// for most models means near-greedy decoding.
	Temperature float64

	// MaxTokens caps completion length. Zero means the provider default.
	MaxTokens int

	// SystemPrompt is injected ahead of the history. Backends with a native
	// system channel (OpenAI system role, Anthropic's system field) use it;
	// others prepend it as a system-role message.
	SystemPrompt string
}

// Chunk is one streamed fragment. Any combination of the three fields may be
// set on a single chunk.
type Chunk struct {
	// Text is the incremental content, possibly empty on chunks that only
	// carry a finish signal or tool calls.
	Text string

	// FinishReason is non-empty only on the final chunk: "stop", "length",
	// "tool_calls", or "error" when the stream died mid-flight.
	FinishReason string

	// ToolCalls the model requests. Providers deliver these fully assembled
	// on the finishing chunk.
	ToolCalls []types.ToolCall
}

// CompletionResponse is the non-streaming result.
type CompletionResponse struct {
	// Content is the assistant's full reply; empty when the model answered
	// only with tool calls.
	Content string

	// ToolCalls the caller must execute, appending results to the
	// conversation before the next request.
	ToolCalls []types.ToolCall

	// Usage for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over a chat model backend.
//
// Implementations must be safe for concurrent use and must honour context
// cancellation promptly on every method.
type Provider interface {
	// StreamCompletion starts a completion and returns the chunk channel,
	// which the implementation closes when generation finishes or ctx is
	// cancelled. Callers must drain it. Failures before the stream opens
	// come back as the error; failures after come back as a Chunk with
	// FinishReason "error". The channel is never nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete runs the request to completion and returns the whole
	// response, for callers that have no use for incremental output.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the context-window cost of messages, used to
	// trim history before a request. An approximation is fine; it should
	// err high rather than low.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities reports static model metadata, constant for the lifetime
	// of the Provider.
	Capabilities() types.ModelCapabilities
}
