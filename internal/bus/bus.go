// Package bus implements the fan-out broadcaster for voice-originated frames.
//
// Media pipelines publish transcriptions and voice responses without knowing
// which control channel should render them; the bus resolves that by matching
// each frame against per-connection subscriptions. Delivery is non-blocking:
// a slow subscriber loses frames (counted, logged) rather than stalling the
// publisher or its peers.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/adagate/internal/frame"
)

// DefaultCapacity is the subscription queue size when the caller passes 0.
const DefaultCapacity = 100

// StaleAfter is how long a subscription may sit without deliveries before the
// sweep evicts it.
const StaleAfter = time.Hour

// subscription is one control channel's view of the bus.
type subscription struct {
	connectionID string
	threadID     string // empty matches every thread
	ch           chan frame.Frame
	createdAt    time.Time
	lastActivity time.Time
	delivered    int64
	dropped      int64
}

// matches applies the delivery predicate: voice kind, recipient connection id
// (when the frame names one), and thread id (when both sides name one).
func (s *subscription) matches(f frame.Frame) bool {
	if !frame.IsVoiceKind(f.Type) {
		return false
	}
	if f.ConnectionID != "" && f.ConnectionID != s.connectionID {
		return false
	}
	if f.ThreadID != "" && s.threadID != "" && f.ThreadID != s.threadID {
		return false
	}
	return true
}

// Bus broadcasts voice frames to subscribed control channels. All methods are
// safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]*subscription // keyed by connection id
	onDrop func(connectionID string)
}

// Option configures a [Bus].
type Option func(*Bus)

// WithDropHook installs a callback invoked once per dropped delivery, used to
// feed the queue-drop metric.
func WithDropHook(fn func(connectionID string)) Option {
	return func(b *Bus) { b.onDrop = fn }
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{subs: make(map[string]*subscription)}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers a control channel and returns its receive queue. A
// second subscribe for the same connection id replaces the first (the old
// queue is drained and abandoned). threadID filters deliveries to one thread;
// empty receives every thread addressed to the connection.
func (b *Bus) Subscribe(connectionID, threadID string, capacity int) <-chan frame.Frame {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subs[connectionID]; ok {
		drain(old.ch)
		slog.Warn("bus: replacing existing subscription", "connection_id", connectionID)
	}

	sub := &subscription{
		connectionID: connectionID,
		threadID:     threadID,
		ch:           make(chan frame.Frame, capacity),
		createdAt:    time.Now(),
		lastActivity: time.Now(),
	}
	b.subs[connectionID] = sub
	slog.Debug("bus: subscribed", "connection_id", connectionID, "thread_id", threadID)
	return sub.ch
}

// Unsubscribe removes a subscription and drains its queue. Reports whether
// the connection was subscribed.
func (b *Bus) Unsubscribe(connectionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[connectionID]
	if !ok {
		return false
	}
	delete(b.subs, connectionID)
	drain(sub.ch)
	slog.Debug("bus: unsubscribed", "connection_id", connectionID)
	return true
}

// UpdateThread changes a subscription's thread filter, typically when the
// media channel renegotiates onto a new thread.
func (b *Bus) UpdateThread(connectionID, threadID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[connectionID]
	if !ok {
		return false
	}
	sub.threadID = threadID
	sub.lastActivity = time.Now()
	return true
}

// Broadcast delivers f to every matching subscription and returns the number
// of successful deliveries. Full queues drop the frame for that subscriber
// only.
func (b *Bus) Broadcast(f frame.Frame) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for _, sub := range b.subs {
		if !sub.matches(f) {
			continue
		}
		select {
		case sub.ch <- f:
			sub.delivered++
			sub.lastActivity = time.Now()
			delivered++
		default:
			sub.dropped++
			if b.onDrop != nil {
				b.onDrop(sub.connectionID)
			}
			slog.Warn("bus: subscriber queue full, frame dropped",
				"connection_id", sub.connectionID, "kind", f.Type)
		}
	}
	return delivered
}

// SweepStale evicts subscriptions idle longer than idle and returns how many
// were removed.
func (b *Bus) SweepStale(idle time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	evicted := 0
	for id, sub := range b.subs {
		if sub.lastActivity.Before(cutoff) {
			delete(b.subs, id)
			drain(sub.ch)
			evicted++
			slog.Info("bus: evicted stale subscription", "connection_id", id)
		}
	}
	return evicted
}

// SubscriptionStats describes one subscription for the diagnostics endpoint.
type SubscriptionStats struct {
	ConnectionID string    `json:"connection_id"`
	ThreadID     string    `json:"thread_id,omitempty"`
	QueueLen     int       `json:"queue_len"`
	QueueCap     int       `json:"queue_cap"`
	Delivered    int64     `json:"delivered"`
	Dropped      int64     `json:"dropped"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Stats summarizes the bus.
type Stats struct {
	Subscriptions []SubscriptionStats `json:"subscriptions"`
	TotalDropped  int64               `json:"total_dropped"`
}

// Stats returns a snapshot of all subscriptions.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var st Stats
	for _, sub := range b.subs {
		st.Subscriptions = append(st.Subscriptions, SubscriptionStats{
			ConnectionID: sub.connectionID,
			ThreadID:     sub.threadID,
			QueueLen:     len(sub.ch),
			QueueCap:     cap(sub.ch),
			Delivered:    sub.delivered,
			Dropped:      sub.dropped,
			CreatedAt:    sub.createdAt,
			LastActivity: sub.lastActivity,
		})
		st.TotalDropped += sub.dropped
	}
	return st
}

// drain empties a subscription queue without blocking.
func drain(ch chan frame.Frame) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
