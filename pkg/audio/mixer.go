package audio

import (
	"sync/atomic"
	"time"
)

// InterruptReason says why playback was cut short, so the mixer can decide
// what happens to the rest of the queue.
type InterruptReason int

const (
	// SystemOverride is a forced stop from the control side, typically to
	// make room for a priority voice-over. Queued segments survive.
	SystemOverride InterruptReason = iota

	// UserBargeIn means the user started talking over the assistant. The
	// user holds the floor, so the queue is flushed along with the current
	// segment.
	UserBargeIn
)

func (r InterruptReason) String() string {
	switch r {
	case SystemOverride:
		return "SYSTEM_OVERRIDE"
	case UserBargeIn:
		return "USER_BARGE_IN"
	default:
		return "UNKNOWN"
	}
}

// AudioSegment is one synthesized utterance handed to a [Mixer]. Audio
// arrives incrementally, so playback can start before synthesis finishes.
type AudioSegment struct {
	// StreamID ties the segment back to its origin, an assistant turn ID or
	// a voice-over injection.
	StreamID string

	// Audio carries the raw chunks. The producer closes it when the segment
	// ends; check [AudioSegment.Err] afterwards to tell a clean finish from
	// a mid-stream failure.
	Audio <-chan []byte

	// SampleRate of the chunks in Hz. Must be > 0.
	SampleRate int

	// Channels per frame, 1 mono or 2 stereo. Must be > 0.
	Channels int

	// Priority orders queued segments; higher preempts lower, equal is FIFO.
	Priority int

	streamErr atomic.Pointer[error]
}

// Err reports why the Audio channel closed early, nil on clean completion.
// Meaningful only after the channel is closed.
func (s *AudioSegment) Err() error {
	if p := s.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SetStreamErr records a mid-stream failure. Producers call it before
// closing Audio.
func (s *AudioSegment) SetStreamErr(err error) {
	s.streamErr.Store(&err)
}

// Mixer arbitrates the playback queue between competing segments: one
// segment plays at a time, higher priority preempts, and user barge-in is
// surfaced back to the pipeline.
//
// Implementations must be safe for concurrent use.
type Mixer interface {
	// Enqueue schedules a segment at the given priority, which overrides
	// segment.Priority so call sites can elevate or demote without mutating
	// the struct. A segment that outranks the one playing preempts it with
	// [SystemOverride] semantics; otherwise it waits its turn.
	Enqueue(segment *AudioSegment, priority int)

	// Interrupt stops the current segment for the given reason and moves on.
	// No-op when idle.
	Interrupt(reason InterruptReason)

	// OnBargeIn registers the callback fired when voice activity detection
	// catches the user speaking over playback; speakerID names the
	// interrupting participant. One handler at a time, replaced on each
	// call, invoked on an internal goroutine and must not block.
	OnBargeIn(handler func(speakerID string))

	// SetGap sets the silence inserted between consecutive segments. Zero
	// plays them back-to-back. Takes effect from the next segment.
	SetGap(d time.Duration)
}
