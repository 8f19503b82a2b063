// Package stt abstracts streaming speech-to-text backends such as Deepgram or
// an OpenAI-compatible transcription endpoint.
//
// The central type is [SessionHandle]: an open session accepts raw PCM frames
// and emits two transcript streams, low-latency partials for responsiveness
// and authoritative finals for the session log.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/adagate/pkg/types"
)

// StreamConfig describes the audio format and recognition hints for a new
// transcription session.
type StreamConfig struct {
	// SampleRate in Hz, typically 16000 for STT-optimized mono or 48000 for
	// WebRTC capture.
	SampleRate int

	// Channels per frame. Most backends want 1; implementations may downmix
	// stereo internally.
	Channels int

	// Language is the BCP-47 tag for recognition, e.g. "en-US". Empty lets
	// the backend auto-detect where supported.
	Language string

	// Keywords biases recognition toward uncommon vocabulary such as product
	// or tenant proper nouns. Boost semantics are per [types.KeywordBoost].
	Keywords []types.KeywordBoost
}

// SessionHandle is one open transcription session. The caller owns it and
// must Close it; leaking a handle leaks the backend connection and its
// goroutines.
//
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers one chunk of raw PCM in the format agreed in
	// StreamConfig. Errors after Close.
	SendAudio(chunk []byte) error

	// Partials emits interim guesses as the backend revises its hypothesis.
	// Good for UI feedback, never for the session log. Closed when the
	// session ends.
	Partials() <-chan types.Transcript

	// Finals emits committed recognition results, the ones that reach the
	// session log and the model. Closed when the session ends.
	Finals() <-chan types.Transcript

	// SetKeywords swaps the active boost list without restarting the
	// session. Best effort: audio already buffered may still be recognized
	// against the old list. Backends without mid-session updates return an
	// error.
	SetKeywords(keywords []types.KeywordBoost) error

	// Close flushes pending audio and tears the session down, closing both
	// transcript channels. Repeated calls return nil.
	Close() error
}

// Provider opens transcription sessions, one per active media channel.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// StartStream opens a session ready to accept audio. ctx bounds only the
	// session setup; the caller owns the returned handle.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
