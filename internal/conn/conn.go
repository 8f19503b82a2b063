// Package conn owns the per-connection state: the lifecycle state machine,
// the decoded client configuration, the connection context with its turn and
// frame queues, and the registry that tracks every live connection.
package conn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/adagate/internal/bus"
	"github.com/MrWong99/adagate/internal/frame"
	"github.com/MrWong99/adagate/internal/toolhost"
	"github.com/MrWong99/adagate/pkg/provider/ui"
)

// Turn source values.
const (
	SourceMedia = "media"
	SourceText  = "text"
)

// Queue capacities for the per-connection turn and frame channels.
const (
	InputQueueSize  = 100
	OutputQueueSize = 100
)

// teardownWait bounds how long Teardown waits for the worker to stop.
const teardownWait = 5 * time.Second

// Sweep thresholds: handshake-stalled connections go early, established ones
// only after a long silence.
const (
	HandshakeIdle = 5 * time.Minute
	ActiveIdle    = time.Hour
)

// Turn is one unit of work for the connection worker: a finalized user
// utterance or text message, ready for the enhancement pipeline.
type Turn struct {
	// Text is the user utterance or the assistant text to enhance.
	Text string

	// Source is [SourceMedia] or [SourceText]; media turns run the full
	// decision pipeline, text turns bypass it.
	Source string

	// ThreadID scopes the turn's history and response routing.
	ThreadID string

	// MessageID groups the streamed response tokens. Empty means the worker
	// assigns one.
	MessageID string
}

// InjectFunc pushes text into the connection's voice pipeline ahead of the
// pending response. Nil when no media channel is attached.
type InjectFunc func(text string)

// Context is the live state of one control-channel connection.
type Context struct {
	ID       string
	ClientID string

	mu    sync.Mutex
	state State

	// Cfg is immutable after the handshake validates it.
	Cfg Config

	// Tools is the per-connection tool host; nil until mcp_initializing.
	Tools *toolhost.Client

	// UI is the per-connection visualization provider; nil until
	// viz_initializing.
	UI ui.Provider

	// Input carries turns into the worker; Output carries frames to the
	// control-channel sender.
	Input  chan Turn
	Output chan frame.Frame

	// Inject is swapped in when a media channel attaches, guarded by mu.
	inject InjectFunc

	// mediaSessionID names the attached media session, empty when detached.
	mediaSessionID string
	mediaThreadID  string

	// cancelWorker stops the worker loop; done closes when it exits.
	cancelWorker context.CancelFunc
	done         chan struct{}

	createdAt    time.Time
	lastActivity time.Time
}

// NewContext creates a connection context in the connecting state.
func NewContext(id string) *Context {
	now := time.Now()
	return &Context{
		ID:           id,
		state:        StateConnecting,
		Input:        make(chan Turn, InputQueueSize),
		Output:       make(chan frame.Frame, OutputQueueSize),
		createdAt:    now,
		lastActivity: now,
	}
}

// State returns the current lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState applies a transition and publishes a connection_state frame on the
// output queue. Illegal transitions are rejected with an error and leave the
// state unchanged. A full output queue drops the announcement but the
// transition still applies.
func (c *Context) SetState(to State, message string) error {
	c.mu.Lock()
	from := c.state
	if !CanTransition(from, to) {
		c.mu.Unlock()
		return fmt.Errorf("conn: illegal transition %s -> %s", from, to)
	}
	c.state = to
	c.lastActivity = time.Now()
	c.mu.Unlock()

	f := frame.NewConnectionState(c.ID, string(to), message, Progress(to))
	select {
	case c.Output <- f:
	default:
		slog.Warn("connection output queue full, state frame dropped",
			"connection_id", c.ID, "state", to)
	}
	return nil
}

// Touch records client activity for idle sweeping.
func (c *Context) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// StartWorker records the worker's cancel handle and completion channel.
func (c *Context) StartWorker(cancel context.CancelFunc, done chan struct{}) {
	c.mu.Lock()
	c.cancelWorker = cancel
	c.done = done
	c.mu.Unlock()
}

// AttachMedia binds a media session to this connection and installs its voice
// injection hook.
func (c *Context) AttachMedia(sessionID, threadID string, inject InjectFunc) {
	c.mu.Lock()
	c.mediaSessionID = sessionID
	c.mediaThreadID = threadID
	c.inject = inject
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// DetachMedia clears the media binding. Reports whether one was attached.
func (c *Context) DetachMedia() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	had := c.mediaSessionID != ""
	c.mediaSessionID = ""
	c.mediaThreadID = ""
	c.inject = nil
	return had
}

// MediaSession returns the attached media session and thread ids.
func (c *Context) MediaSession() (sessionID, threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mediaSessionID, c.mediaThreadID
}

// Inject returns the current voice injection hook, nil when no media channel
// is attached.
func (c *Context) Inject() InjectFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inject
}

// Registry tracks every live connection. All methods are safe for concurrent
// use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Context
	bus   *bus.Bus
	log   *slog.Logger
}

// NewRegistry creates an empty registry. b may be nil when no fan-out bus is
// in play (tests).
func NewRegistry(b *bus.Bus, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{conns: make(map[string]*Context), bus: b, log: log}
}

// Register adds a connection. A duplicate id is rejected.
func (r *Registry) Register(c *Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID]; ok {
		return fmt.Errorf("conn: connection %s already registered", c.ID)
	}
	r.conns[c.ID] = c
	r.log.Info("connection registered", "connection_id", c.ID)
	return nil
}

// Get looks up a connection by id.
func (r *Registry) Get(id string) (*Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Remove drops a connection from the registry. Reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Teardown runs the ordered shutdown sequence for a connection. Every step is
// best-effort: a failing step is logged and the rest still run. Safe to call
// for connections in any state.
func (r *Registry) Teardown(c *Context) {
	log := r.log.With("connection_id", c.ID)

	// 1. Announce teardown.
	if err := c.SetState(StateDisconnecting, "Connection closing"); err != nil {
		log.Debug("disconnecting transition skipped", "error", err)
	}

	// 2. Stop the worker and wait briefly for it to drain.
	c.mu.Lock()
	cancel, done := c.cancelWorker, c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(teardownWait):
			log.Warn("worker did not stop in time")
		}
	}

	// 3. Drop the fan-out subscription and media binding.
	if r.bus != nil {
		r.bus.Unsubscribe(c.ID)
	}
	c.DetachMedia()

	// 4. Close the tool host.
	if c.Tools != nil {
		if err := c.Tools.Close(); err != nil {
			log.Warn("tool host close failed", "error", err)
		}
	}

	// 5. Release the UI provider.
	if c.UI != nil {
		if err := c.UI.Cleanup(); err != nil {
			log.Warn("ui provider cleanup failed", "error", err)
		}
	}

	// 6. Drain the queues so nothing blocks on them.
	drainTurns(c.Input)
	drainFrames(c.Output)

	// 7. Mark closed.
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	// 8. Forget the connection.
	r.Remove(c.ID)
	log.Info("connection torn down")
}

// Sweep tears down connections that stalled mid-handshake for longer than
// handshakeIdle, or sat fully idle for longer than activeIdle. Returns how
// many were removed.
func (r *Registry) Sweep(handshakeIdle, activeIdle time.Duration) int {
	now := time.Now()

	r.mu.RLock()
	var stale []*Context
	for _, c := range r.conns {
		c.mu.Lock()
		idle := now.Sub(c.lastActivity)
		established := c.state == StateReady || c.state == StateActive
		c.mu.Unlock()

		if established && idle > activeIdle {
			stale = append(stale, c)
		} else if !established && idle > handshakeIdle {
			stale = append(stale, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range stale {
		r.log.Info("sweeping idle connection", "connection_id", c.ID, "state", c.State())
		r.Teardown(c)
	}
	return len(stale)
}

// ConnectionStats describes one connection for the diagnostics endpoint.
type ConnectionStats struct {
	ConnectionID   string    `json:"connection_id"`
	ClientID       string    `json:"client_id,omitempty"`
	State          string    `json:"state"`
	MediaSessionID string    `json:"media_session_id,omitempty"`
	InputQueueLen  int       `json:"input_queue_len"`
	OutputQueueLen int       `json:"output_queue_len"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
}

// Stats returns a snapshot of every live connection.
func (r *Registry) Stats() []ConnectionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConnectionStats, 0, len(r.conns))
	for _, c := range r.conns {
		c.mu.Lock()
		out = append(out, ConnectionStats{
			ConnectionID:   c.ID,
			ClientID:       c.ClientID,
			State:          string(c.state),
			MediaSessionID: c.mediaSessionID,
			InputQueueLen:  len(c.Input),
			OutputQueueLen: len(c.Output),
			CreatedAt:      c.createdAt,
			LastActivity:   c.lastActivity,
		})
		c.mu.Unlock()
	}
	return out
}

func drainTurns(ch chan Turn) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func drainFrames(ch chan frame.Frame) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
