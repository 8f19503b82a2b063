// Package vad defines the interface for voice activity detection. The media
// pipeline runs a detector per audio stream to gate what reaches STT and to
// fire barge-in when a speaker talks over active playback.
//
// Detection is synchronous: ProcessFrame classifies one frame and returns
// immediately, so it can sit inline in the frame pump without buffering.
package vad

import "github.com/MrWong99/adagate/pkg/types"

// Config parameterises one detection session.
type Config struct {
	// SampleRate of the PCM frames in Hz, typically 8000, 16000 or 48000.
	// Frames at any other rate produce undefined results.
	SampleRate int

	// FrameSizeMs is the fixed frame duration the detector expects, usually
	// 10, 20 or 30 ms. ProcessFrame rejects frames of any other size.
	FrameSizeMs int

	// SpeechThreshold is the probability at or above which a frame counts as
	// speech, in [0, 1]. Raising it trades speech-start latency for fewer
	// false triggers. Typical: 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which an active speech
	// segment ends, in [0, 1] and at most SpeechThreshold. Typical: 0.35.
	SilenceThreshold float64
}

// SessionHandle is one stream's detection state. Sessions are not safe for
// concurrent use unless the implementation says otherwise; the pipeline owns
// each session from a single goroutine.
type SessionHandle interface {
	// ProcessFrame classifies one raw little-endian PCM frame at the
	// configured rate and size. It must not block.
	ProcessFrame(frame []byte) (types.VADEvent, error)

	// Reset drops accumulated state (smoothing windows, speech-start
	// counters) without closing the session. Called when the stream restarts
	// so a stale segment cannot bleed into the new one.
	Reset()

	// Close releases the session. Safe to call more than once.
	Close() error
}

// Engine creates detection sessions. Implementations must be safe for
// concurrent NewSession calls; the gateway opens one session per connected
// media stream.
type Engine interface {
	// NewSession returns a session ready to accept frames, or an error for
	// an invalid config (unsupported rate, frame size, or threshold range).
	NewSession(cfg Config) (SessionHandle, error)
}
