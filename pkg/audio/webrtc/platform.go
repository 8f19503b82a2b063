// Package webrtc provides an [audio.Platform] implementation for
// browser-based voice sessions. The platform answers inbound SDP offers from
// the signaling endpoint; each negotiated peer becomes a participant with its
// own input audio stream and a share of the mixed playback stream.
//
// Media transport is abstracted behind [PeerTransport], so the signaling and
// fan-out logic here is independent of the underlying WebRTC stack.
package webrtc

import (
	"context"

	"github.com/MrWong99/adagate/pkg/audio"
)

var (
	_ audio.Platform   = (*Platform)(nil)
	_ audio.Connection = (*Connection)(nil)
)

// Option configures a [Platform].
type Option func(*Platform)

// WithSTUNServers replaces the STUN URLs offered during ICE negotiation. The
// default is Google's public server.
func WithSTUNServers(servers ...string) Option {
	return func(p *Platform) {
		p.stunServers = servers
	}
}

// WithSampleRate sets the capture/playback sample rate in Hz. Defaults to
// 48000, the Opus native rate.
func WithSampleRate(rate int) Option {
	return func(p *Platform) {
		p.sampleRate = rate
	}
}

// Platform hands out WebRTC-backed voice rooms. Every [Platform.Connect]
// yields an independent [Connection] for the named room, even for repeated
// calls with the same channel ID.
//
// Safe for concurrent use; both fields are immutable after New.
type Platform struct {
	stunServers []string
	sampleRate  int
}

// New builds a [Platform] with the given options applied over the defaults.
func New(opts ...Option) *Platform {
	p := &Platform{
		stunServers: []string{"stun:stun.l.google.com:19302"},
		sampleRate:  48000,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect opens a [Connection] for the room channelID names. Room setup is
// purely local, so ctx is not consulted; the connection lives until
// [Connection.Disconnect].
func (p *Platform) Connect(_ context.Context, channelID string) (audio.Connection, error) {
	return newConnection(channelID, p.sampleRate, p.stunServers), nil
}
