package webrtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/adagate/pkg/audio"
)

const outputChannelBuffer = 64

// OutputWriter is the lifecycle-aware way to feed playback audio into a
// [Connection]. Sends after Disconnect, or while the output buffer is full,
// drop the frame instead of blocking or panicking — the voice pipeline must
// never stall on a dead peer.
type OutputWriter struct {
	ch           chan<- audio.AudioFrame
	disconnected atomic.Bool
}

// Send queues frame for playback. It reports false when the frame was
// dropped, either because the connection is gone or the buffer is full.
func (w *OutputWriter) Send(frame audio.AudioFrame) bool {
	if w.disconnected.Load() {
		return false
	}
	select {
	case w.ch <- frame:
		return true
	default:
		return false
	}
}

// Close turns all further Sends into drops. The underlying channel stays
// open; the connection owns it.
func (w *OutputWriter) Close() {
	w.disconnected.Store(true)
}

// peer holds the runtime state for one connected participant.
type peer struct {
	userID    string
	username  string
	transport PeerTransport
	inputCh   chan audio.AudioFrame
	done      chan struct{}
}

// Connection manages the WebRTC peers of one media channel and implements
// [audio.Connection]. It is safe for concurrent use.
type Connection struct {
	channelID   string
	sampleRate  int
	stunServers []string

	mu           sync.RWMutex
	peers        map[string]*peer
	inputStreams map[string]chan audio.AudioFrame
	outputCh     chan audio.AudioFrame
	outputWriter *OutputWriter
	onChange     func(audio.Event)
	disconnected bool

	ctx          context.Context
	cancel       context.CancelFunc
	newTransport func(userID string) PeerTransport
}

func newConnection(channelID string, sampleRate int, stunServers []string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	outputCh := make(chan audio.AudioFrame, outputChannelBuffer)
	c := &Connection{
		channelID:    channelID,
		sampleRate:   sampleRate,
		stunServers:  stunServers,
		peers:        make(map[string]*peer),
		inputStreams: make(map[string]chan audio.AudioFrame),
		outputCh:     outputCh,
		outputWriter: &OutputWriter{ch: outputCh},
		ctx:          ctx,
		cancel:       cancel,
		newTransport: func(_ string) PeerTransport {
			return newPipeTransport()
		},
	}
	go c.fanOutPlayback()
	return c
}

// InputStreams returns a snapshot of the per-participant input channels,
// keyed by participant ID. Call again after an [audio.EventJoin] to pick up
// the new participant's channel.
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(map[string]<-chan audio.AudioFrame, len(c.inputStreams))
	for id, ch := range c.inputStreams {
		snap[id] = ch
	}
	return snap
}

// OutputStream returns the raw playback channel. Frames written here reach
// every connected peer. Prefer [Connection.OutputWriter], which handles the
// disconnected case.
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	return c.outputCh
}

// OutputWriter returns the lifecycle-aware writer for this connection's
// playback stream.
func (c *Connection) OutputWriter() *OutputWriter {
	return c.outputWriter
}

// OnParticipantChange registers cb for join/leave events. A later
// registration replaces the earlier one. cb runs on its own goroutine and
// must not block.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = cb
}

// Disconnect tears down every peer and stops the internal goroutines.
// Idempotent.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disconnected {
		return nil
	}
	c.disconnected = true

	c.outputWriter.Close()
	c.cancel()

	for userID := range c.peers {
		c.dropPeerLocked(userID)
	}
	return nil
}

// AddPeer registers a participant and starts pumping its transport audio.
// The signaling path normally goes through [Connection.Negotiate]; AddPeer is
// exposed for server-initiated joins and tests. It returns the read-only
// channel carrying audio from this peer.
func (c *Connection) AddPeer(userID, username string) (<-chan audio.AudioFrame, error) {
	c.mu.Lock()
	ch, err := c.addPeerLocked(userID, username)
	cb := c.onChange
	c.mu.Unlock()

	if err == nil && cb != nil {
		go cb(audio.Event{Type: audio.EventJoin, UserID: userID, Username: username})
	}
	return ch, err
}

func (c *Connection) addPeerLocked(userID, username string) (<-chan audio.AudioFrame, error) {
	if c.disconnected {
		return nil, fmt.Errorf("webrtc: connection %q is disconnected", c.channelID)
	}
	if _, exists := c.peers[userID]; exists {
		return nil, fmt.Errorf("webrtc: peer %q is already connected on channel %q", userID, c.channelID)
	}

	inputCh := make(chan audio.AudioFrame, 64)
	p := &peer{
		userID:    userID,
		username:  username,
		transport: c.newTransport(userID),
		inputCh:   inputCh,
		done:      make(chan struct{}),
	}
	c.peers[userID] = p
	c.inputStreams[userID] = inputCh

	go c.pumpPeerInput(p)
	return inputCh, nil
}

// Negotiate applies an SDP offer from userID and returns the local answer.
// The first offer creates the peer; later offers renegotiate the existing
// transport in place.
func (c *Connection) Negotiate(ctx context.Context, userID, sdpOffer string) (string, error) {
	c.mu.Lock()
	p, exists := c.peers[userID]
	var cb func(audio.Event)
	if !exists {
		if _, err := c.addPeerLocked(userID, userID); err != nil {
			c.mu.Unlock()
			return "", err
		}
		p = c.peers[userID]
		cb = c.onChange
	}
	c.mu.Unlock()

	if cb != nil {
		go cb(audio.Event{Type: audio.EventJoin, UserID: userID, Username: userID})
	}

	answer, err := p.transport.HandleOffer(ctx, sdpOffer)
	if err != nil {
		return "", fmt.Errorf("webrtc: handle offer for peer %q: %w", userID, err)
	}
	return answer, nil
}

// InputFor returns the audio input channel of the given participant.
func (c *Connection) InputFor(userID string) (<-chan audio.AudioFrame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.inputStreams[userID]
	return ch, ok
}

// RemovePeer disconnects the given participant and emits a leave event.
func (c *Connection) RemovePeer(userID string) error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return fmt.Errorf("webrtc: connection %q is disconnected", c.channelID)
	}
	p, exists := c.peers[userID]
	if !exists {
		c.mu.Unlock()
		return fmt.Errorf("webrtc: peer %q not found on channel %q", userID, c.channelID)
	}
	c.dropPeerLocked(userID)
	cb := c.onChange
	c.mu.Unlock()

	if cb != nil {
		go cb(audio.Event{Type: audio.EventLeave, UserID: userID, Username: p.username})
	}
	return nil
}

// dropPeerLocked stops the peer's pump goroutine and forgets it. Caller holds
// c.mu.
func (c *Connection) dropPeerLocked(userID string) {
	p := c.peers[userID]
	if p == nil {
		return
	}
	close(p.done)
	_ = p.transport.Close()
	delete(c.peers, userID)
	delete(c.inputStreams, userID)
}

// pumpPeerInput moves frames from the peer's transport onto its input channel
// until the peer is dropped or the connection closes. Closes inputCh on exit
// so downstream consumers see end-of-stream.
func (c *Connection) pumpPeerInput(p *peer) {
	defer close(p.inputCh)
	audioIn := p.transport.AudioInput()
	for {
		select {
		case <-p.done:
			return
		case <-c.ctx.Done():
			return
		case frame, ok := <-audioIn:
			if !ok {
				return
			}
			select {
			case p.inputCh <- frame:
			case <-p.done:
				return
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// snapshotPeers copies the peer set under the read lock so the fan-out loop
// never sends on transports while holding c.mu.
func (c *Connection) snapshotPeers() []*peer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	peers := make([]*peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	return peers
}

// fanOutPlayback delivers each playback frame to every connected peer.
func (c *Connection) fanOutPlayback() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame, ok := <-c.outputCh:
			if !ok {
				return
			}
			for _, p := range c.snapshotPeers() {
				_ = p.transport.SendAudio(frame)
			}
		}
	}
}
