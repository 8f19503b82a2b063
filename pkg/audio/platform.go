// Package audio defines the contract between the gateway and whatever is
// carrying the media: [Platform] joins a voice channel, [Connection] exposes
// per-participant input, a mixed output stream and lifecycle events. The
// webrtc subpackage is the in-tree implementation; the interfaces live under
// pkg/ so out-of-tree transports can implement them too.
package audio

import (
	"context"
)

// EventType classifies participant lifecycle events.
type EventType int

const (
	// EventJoin fires when a participant enters the channel.
	EventJoin EventType = iota

	// EventLeave fires when a participant leaves.
	EventLeave
)

func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event is one participant change, delivered to the callback registered via
// [Connection.OnParticipantChange].
type Event struct {
	// Type says whether the participant joined or left.
	Type EventType

	// UserID is the transport's unique participant identifier.
	UserID string

	// Username is the participant's display name.
	Username string
}

// Connection is an active voice-channel session, obtained from
// [Platform.Connect] and valid until Disconnect. Channels handed out by its
// methods close when the connection ends.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// InputStreams snapshots the per-participant audio channels, keyed by
	// participant ID. Each channel delivers that participant's frames and
	// closes when they leave. Re-snapshot after an [EventJoin] to pick up
	// new participants.
	InputStreams() map[string]<-chan AudioFrame

	// OutputStream is the write side for mixed assistant audio, fanned out
	// to every participant. The caller owns the channel: the transport
	// never closes it, and writes after Disconnect drop frames rather than
	// panic.
	OutputStream() chan<- AudioFrame

	// OnParticipantChange registers the join/leave callback. One callback
	// at a time, replaced on each call, invoked on an internal goroutine
	// and must not block.
	OnParticipantChange(cb func(Event))

	// Disconnect tears the session down, draining pending frames and
	// closing the transport-owned channels. Safe to call repeatedly.
	Disconnect() error
}

// Platform joins voice channels for one transport (WebRTC stack, SIP
// gateway, ...).
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins channelID and returns the live [Connection]. ctx bounds
	// only the connection attempt; the session then lives until Disconnect.
	Connect(ctx context.Context, channelID string) (Connection, error)
}
