package webrtc

import (
	"context"

	"github.com/MrWong99/adagate/pkg/audio"
)

// PeerTransport is the per-peer media transport. It isolates the connection
// and pipeline logic from the underlying WebRTC stack so the gateway can be
// tested without a browser on the other end, and so a pion/webrtc-backed
// transport can slot in without touching the signaling layer.
type PeerTransport interface {
	// CreateOffer produces a local SDP offer for a new peer.
	CreateOffer(ctx context.Context) (sdpOffer string, err error)

	// AcceptAnswer applies the remote peer's SDP answer.
	AcceptAnswer(ctx context.Context, sdpAnswer string) error

	// HandleOffer applies a remote SDP offer and returns the local answer.
	// Called both for the initial handshake and for renegotiation.
	HandleOffer(ctx context.Context, sdpOffer string) (sdpAnswer string, err error)

	// AddICECandidate registers a trickled remote ICE candidate.
	AddICECandidate(candidate string) error

	// AudioInput returns the channel delivering decoded frames from the peer.
	AudioInput() <-chan audio.AudioFrame

	// SendAudio delivers a frame to the peer.
	SendAudio(frame audio.AudioFrame) error

	// Close releases the transport.
	Close() error
}

// pipeTransport is an in-process [PeerTransport]. Tests feed audioIn to
// simulate the peer speaking and read audioOut to observe playback. It also
// serves as the default transport until a full WebRTC stack is wired in.
type pipeTransport struct {
	audioIn  chan audio.AudioFrame
	audioOut chan audio.AudioFrame
	closed   chan struct{}
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{
		audioIn:  make(chan audio.AudioFrame, 16),
		audioOut: make(chan audio.AudioFrame, 16),
		closed:   make(chan struct{}),
	}
}

func (p *pipeTransport) CreateOffer(_ context.Context) (string, error) {
	return "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=WebRTC Audio\r\n", nil
}

func (p *pipeTransport) AcceptAnswer(_ context.Context, _ string) error { return nil }

func (p *pipeTransport) HandleOffer(_ context.Context, _ string) (string, error) {
	return "v=0\r\no=- 0 1 IN IP4 127.0.0.1\r\ns=WebRTC Audio Answer\r\n", nil
}

func (p *pipeTransport) AddICECandidate(_ string) error { return nil }

func (p *pipeTransport) AudioInput() <-chan audio.AudioFrame { return p.audioIn }

func (p *pipeTransport) SendAudio(frame audio.AudioFrame) error {
	select {
	case p.audioOut <- frame:
	case <-p.closed:
	}
	return nil
}

func (p *pipeTransport) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}
