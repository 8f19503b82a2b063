// Package history holds per-connection conversation history.
//
// The in-memory manager is the source of truth for the LLM wrapper: entries
// are keyed "<connection_id>:<thread_id>" and live for the life of the
// connection. When a Postgres DSN is configured, an archiver additionally
// writes every turn behind the scenes and indexes it with pgvector so the
// enhancement decider can recall semantically related turns beyond the
// last-k window.
package history

import (
	"sync"

	"github.com/MrWong99/adagate/pkg/types"
)

// DefaultMaxTurns caps the per-thread history; oldest entries are trimmed.
const DefaultMaxTurns = 100

// Memory is the in-process conversation history manager.
// All methods are safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	entries  map[string][]types.Message // key: <conn>:<thread>
	maxTurns int
}

// NewMemory creates a Memory; maxTurns ≤ 0 uses [DefaultMaxTurns].
func NewMemory(maxTurns int) *Memory {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Memory{
		entries:  make(map[string][]types.Message),
		maxTurns: maxTurns,
	}
}

// Key builds the history key for a connection and thread.
func Key(connectionID, threadID string) string {
	return connectionID + ":" + threadID
}

// Append adds one message to the thread history, trimming the oldest entries
// past the turn cap.
func (m *Memory) Append(connectionID, threadID string, msg types.Message) {
	key := Key(connectionID, threadID)

	m.mu.Lock()
	defer m.mu.Unlock()

	entries := append(m.entries[key], msg)
	if len(entries) > m.maxTurns {
		entries = entries[len(entries)-m.maxTurns:]
	}
	m.entries[key] = entries
}

// Get returns a copy of the thread history, oldest first.
func (m *Memory) Get(connectionID, threadID string) []types.Message {
	key := Key(connectionID, threadID)

	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.entries[key]
	out := make([]types.Message, len(entries))
	copy(out, entries)
	return out
}

// ClearConnection drops every thread belonging to a connection. Called during
// teardown.
func (m *Memory) ClearConnection(connectionID string) {
	prefix := connectionID + ":"

	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.entries {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(m.entries, key)
		}
	}
}

// Threads returns the thread ids with history for a connection.
func (m *Memory) Threads(connectionID string) []string {
	prefix := connectionID + ":"

	m.mu.Lock()
	defer m.mu.Unlock()

	var threads []string
	for key := range m.entries {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			threads = append(threads, key[len(prefix):])
		}
	}
	return threads
}
