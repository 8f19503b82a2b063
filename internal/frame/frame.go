// Package frame defines the message vocabulary of the control channel.
//
// Every message crossing the control channel in either direction is a Frame:
// a single JSON object tagged by its "type" field. Server-to-client frames
// carry streamed response tokens, state transitions, and errors; client-to-
// server frames carry the one-time configuration, chat turns, and UI
// interactions. Constructors exist for every server-side kind so call sites
// never assemble frames by hand.
package frame

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a frame variant on the wire.
type Kind string

// Server → client frame kinds.
const (
	KindConnectionEstablished Kind = "connection_established"
	KindConnectionState       Kind = "connection_state"
	KindUserTranscription     Kind = "user_transcription"
	KindChatToken             Kind = "chat_token"
	KindC1Token               Kind = "c1_token"
	KindHTMLToken             Kind = "html_token"
	KindEnhancementStarted    Kind = "enhancement_started"
	KindChatDone              Kind = "chat_done"
	KindVoiceResponse         Kind = "voice_response"
	KindImmediateVoice        Kind = "immediate_voice_response"
	KindTextChatResponse      Kind = "text_chat_response"
	KindError                 Kind = "error"
)

// Client → server frame kinds.
const (
	KindConnectionConfig Kind = "connection_config"
	KindChat             Kind = "chat"
	KindChatRequest      Kind = "chat_request"
	KindThesysBridge     Kind = "thesys_bridge"
	KindUserInteraction  Kind = "user_interaction"
)

// Machine-readable error codes carried by error frames.
const (
	CodeInvalidConfigFormat  = "INVALID_CONFIG_FORMAT"
	CodeConfigTimeout        = "CONFIG_TIMEOUT"
	CodeConfigError          = "CONFIG_ERROR"
	CodeToolServerInitFailed = "TOOL_SERVER_INIT_FAILED"
	CodeToolTimeout          = "TOOL_INVOCATION_TIMEOUT"
	CodeToolError            = "TOOL_INVOCATION_ERROR"
	CodeProviderInitFailed   = "UI_PROVIDER_INIT_FAILED"
	CodeProviderStreamError  = "UI_PROVIDER_STREAM_ERROR"
	CodeEnhancementTimeout   = "ENHANCEMENT_TIMEOUT"
	CodeChannelSendFailed    = "CHANNEL_SEND_FAILED"
	CodeSessionNotFound      = "SESSION_NOT_FOUND"
)

// ContentType distinguishes the payload dialect of a response frame.
const (
	ContentHTML = "html"
	ContentC1   = "c1"
)

// MaxInboundBytes is the largest client frame the gateway accepts.
const MaxInboundBytes = 10 * 1024

// Frame is a single control-channel message. Unused fields are omitted from
// the wire encoding, so one struct covers every kind.
type Frame struct {
	Type Kind `json:"type"`

	// ID is the message id that groups the token stream of one assistant
	// turn. Present on all token and response kinds.
	ID string `json:"id,omitempty"`

	// Role is "assistant" on complete response frames.
	Role string `json:"role,omitempty"`

	// Content carries the payload: transcription text, a streamed token,
	// or a complete UI artifact.
	Content string `json:"content,omitempty"`

	// VoiceText is the TTS text accompanying a voice_response when it
	// differs from the displayed content.
	VoiceText string `json:"voiceText,omitempty"`

	// ThreadID scopes the frame to one conversation thread.
	ThreadID string `json:"threadId,omitempty"`

	// ContentType is "html" or "c1" on complete response frames.
	ContentType string `json:"content_type,omitempty"`

	// Framework names the client-side UI framework of an HTML payload.
	Framework string `json:"framework,omitempty"`

	// Message is the human-readable text on state, error, and
	// enhancement_started frames.
	Message string `json:"message,omitempty"`

	// State is the connection state name on connection_state frames.
	State string `json:"state,omitempty"`

	// Progress is a 0-100 completion hint on connection_state frames.
	Progress *int `json:"progress,omitempty"`

	// ErrorCode is the machine code on error frames.
	ErrorCode string `json:"error_code,omitempty"`

	// ConnectionID routes the frame: on outbound frames it identifies the
	// sender's connection; on bus frames it names the recipient.
	ConnectionID string `json:"connection_id,omitempty"`

	// Metadata carries optional kind-specific extras.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Timestamp is POSIX seconds; set on state and error frames.
	Timestamp float64 `json:"timestamp,omitempty"`
}

// VoiceKinds is the set of kinds eligible for fan-out bus delivery.
var VoiceKinds = map[Kind]bool{
	KindUserTranscription: true,
	KindImmediateVoice:    true,
	KindVoiceResponse:     true,
}

// IsVoiceKind reports whether k is delivered over the fan-out bus.
func IsVoiceKind(k Kind) bool { return VoiceKinds[k] }

func now() float64 { return float64(time.Now().UnixNano()) / float64(time.Second) }

// NewConnectionEstablished is the first frame sent on a fresh control channel.
func NewConnectionEstablished(connectionID string) Frame {
	return Frame{
		Type:         KindConnectionEstablished,
		ConnectionID: connectionID,
		Message:      "Connected. Please send configuration.",
		Timestamp:    now(),
	}
}

// NewConnectionState announces a state-machine transition. progress < 0 omits
// the progress field.
func NewConnectionState(connectionID, state, message string, progress int) Frame {
	f := Frame{
		Type:         KindConnectionState,
		ConnectionID: connectionID,
		State:        state,
		Message:      message,
		Timestamp:    now(),
	}
	if progress >= 0 {
		p := progress
		f.Progress = &p
	}
	return f
}

// NewUserTranscription wraps a finalized user utterance transcript.
func NewUserTranscription(content string) Frame {
	return Frame{Type: KindUserTranscription, ID: uuid.NewString(), Content: content}
}

// NewChatToken wraps one incremental plain-text token of message id.
func NewChatToken(id, content string) Frame {
	return Frame{Type: KindChatToken, ID: id, Content: content}
}

// NewC1Token wraps one incremental component-tree token of message id.
func NewC1Token(id, content string) Frame {
	return Frame{Type: KindC1Token, ID: id, Content: content}
}

// NewHTMLToken wraps one incremental HTML token of message id.
func NewHTMLToken(id, content string) Frame {
	return Frame{Type: KindHTMLToken, ID: id, Content: content}
}

// NewEnhancementStarted signals that a richer UI artifact is being generated
// for message id.
func NewEnhancementStarted(id string) Frame {
	return Frame{Type: KindEnhancementStarted, ID: id, Message: "Generating enhanced visualization..."}
}

// NewChatDone terminates the token stream of message id.
func NewChatDone(id, content string) Frame {
	return Frame{Type: KindChatDone, ID: id, Content: content}
}

// NewVoiceResponse wraps a complete voice-turn UI payload. voiceText may be
// empty when the spoken text matches the display.
func NewVoiceResponse(content, voiceText, contentType, framework string) Frame {
	return Frame{
		Type:        KindVoiceResponse,
		ID:          uuid.NewString(),
		Role:        "assistant",
		Content:     content,
		VoiceText:   voiceText,
		ContentType: contentType,
		Framework:   framework,
	}
}

// NewTextChatResponse wraps a complete text-turn UI payload.
func NewTextChatResponse(content, threadID, contentType, framework string) Frame {
	return Frame{
		Type:        KindTextChatResponse,
		ID:          uuid.NewString(),
		Role:        "assistant",
		Content:     content,
		ThreadID:    threadID,
		ContentType: contentType,
		Framework:   framework,
	}
}

// NewError builds an error frame with a machine code.
func NewError(connectionID, code, message string) Frame {
	return Frame{
		Type:         KindError,
		ConnectionID: connectionID,
		ErrorCode:    code,
		Message:      message,
		Timestamp:    now(),
	}
}

// Inbound is a decoded client frame. Config and Interaction stay raw so the
// owning component decodes them with full validation.
type Inbound struct {
	Type         Kind            `json:"type"`
	Message      string          `json:"message,omitempty"`
	ThreadID     string          `json:"thread_id,omitempty"`
	ConnectionID string          `json:"connection_id,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
	Interaction  json.RawMessage `json:"interaction,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// DecodeInbound parses one client frame, enforcing the size limit.
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if len(data) > MaxInboundBytes {
		return in, fmt.Errorf("frame: message too long (%d bytes, max %d)", len(data), MaxInboundBytes)
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("frame: decode: %w", err)
	}
	if in.Type == "" {
		return in, fmt.Errorf("frame: missing type field")
	}
	return in, nil
}
