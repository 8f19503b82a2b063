// Package session tracks the persistent session identity that couples one
// control channel with one media channel.
//
// A session outlives its channels: the client reconnects the control channel
// or renegotiates the media channel and the session keeps routing between
// whichever pair is currently bound. The registry is the only cross-tenant
// view of that coupling; everything else resolves channel linkage through it.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long an idle session survives before the sweep evicts it.
const DefaultTTL = 24 * time.Hour

// Info is the registry's record of one session.
type Info struct {
	// SessionID is the client-supplied persistent identity.
	SessionID string

	// ThreadID is the conversation thread the session is currently on.
	ThreadID string

	// ControlID is the bound control-channel connection id, empty if none.
	ControlID string

	// MediaID is the bound media-channel id, empty if none.
	MediaID string

	// CreatedAt and LastActivity bound the session lifetime.
	CreatedAt    time.Time
	LastActivity time.Time

	// ThreadHistory lists every thread the session has visited, in order,
	// without duplicates.
	ThreadHistory []string
}

// Registry maps session ids to their current channel pair, with reverse
// indexes from each channel id back to its session. All methods are safe for
// concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Info
	byCtrl   map[string]string // control id -> session id
	byMedia  map[string]string // media id -> session id
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Info),
		byCtrl:   make(map[string]string),
		byMedia:  make(map[string]string),
	}
}

// BindControl binds a control channel to a session, creating the session on
// first use. A previous control binding for the same session is evicted and
// its reverse-index entry removed. Rebinding the same id is a no-op beyond
// the activity bump.
func (r *Registry) BindControl(sessionID, controlID, threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		s = &Info{SessionID: sessionID, CreatedAt: time.Now()}
		r.sessions[sessionID] = s
		slog.Info("session created", "session_id", sessionID)
	}

	if s.ControlID != "" && s.ControlID != controlID {
		delete(r.byCtrl, s.ControlID)
		slog.Info("session evicted old control channel",
			"session_id", sessionID, "old", s.ControlID, "new", controlID)
	}

	s.ControlID = controlID
	s.ThreadID = threadID
	s.LastActivity = time.Now()
	if !containsThread(s.ThreadHistory, threadID) {
		s.ThreadHistory = append(s.ThreadHistory, threadID)
	}
	r.byCtrl[controlID] = sessionID
}

// BindMedia binds a media channel to an existing session. A media channel may
// not create a session; binding to an unknown session returns an error. A
// thread mismatch updates the session's current thread rather than failing.
func (r *Registry) BindMedia(sessionID, mediaID, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session: unknown session %q for media bind", sessionID)
	}

	if threadID != "" && s.ThreadID != threadID {
		slog.Warn("session thread mismatch on media bind, following media thread",
			"session_id", sessionID, "session_thread", s.ThreadID, "media_thread", threadID)
		s.ThreadID = threadID
		if !containsThread(s.ThreadHistory, threadID) {
			s.ThreadHistory = append(s.ThreadHistory, threadID)
		}
	}

	if s.MediaID != "" && s.MediaID != mediaID {
		delete(r.byMedia, s.MediaID)
		slog.Info("session evicted old media channel",
			"session_id", sessionID, "old", s.MediaID, "new", mediaID)
	}

	s.MediaID = mediaID
	s.LastActivity = time.Now()
	r.byMedia[mediaID] = sessionID
	return nil
}

// UnbindControl removes a control-channel binding. Reports whether the id was
// currently bound.
func (r *Registry) UnbindControl(controlID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.byCtrl[controlID]
	if !ok {
		return false
	}
	delete(r.byCtrl, controlID)
	if s := r.sessions[sessionID]; s != nil && s.ControlID == controlID {
		s.ControlID = ""
		return true
	}
	return false
}

// UnbindMedia removes a media-channel binding. Reports whether the id was
// currently bound.
func (r *Registry) UnbindMedia(mediaID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.byMedia[mediaID]
	if !ok {
		return false
	}
	delete(r.byMedia, mediaID)
	if s := r.sessions[sessionID]; s != nil && s.MediaID == mediaID {
		s.MediaID = ""
		return true
	}
	return false
}

// ControlForMedia resolves the control-channel id linked to a media channel.
// Returns "" when the media channel is unknown or no control channel is bound.
func (r *Registry) ControlForMedia(mediaID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessionID, ok := r.byMedia[mediaID]; ok {
		if s := r.sessions[sessionID]; s != nil {
			return s.ControlID
		}
	}
	return ""
}

// MediaForControl resolves the media-channel id linked to a control channel.
func (r *Registry) MediaForControl(controlID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessionID, ok := r.byCtrl[controlID]; ok {
		if s := r.sessions[sessionID]; s != nil {
			return s.MediaID
		}
	}
	return ""
}

// SessionForControl returns a copy of the session bound to a control channel.
func (r *Registry) SessionForControl(controlID string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.byCtrl[controlID]
	if !ok {
		return Info{}, false
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		return Info{}, false
	}
	return copyInfo(s), true
}

// SessionForMedia returns a copy of the session bound to a media channel.
func (r *Registry) SessionForMedia(mediaID string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.byMedia[mediaID]
	if !ok {
		return Info{}, false
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		return Info{}, false
	}
	return copyInfo(s), true
}

// Channels returns the current (control id, media id) pair for a session.
func (r *Registry) Channels(sessionID string) (controlID, mediaID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.sessions[sessionID]; s != nil {
		return s.ControlID, s.MediaID
	}
	return "", ""
}

// Sweep evicts sessions idle longer than ttl and returns how many were
// removed. Intended to be called from a periodic task.
func (r *Registry) Sweep(ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	evicted := 0
	for id, s := range r.sessions {
		if s.LastActivity.Before(cutoff) {
			if s.ControlID != "" {
				delete(r.byCtrl, s.ControlID)
			}
			if s.MediaID != "" {
				delete(r.byMedia, s.MediaID)
			}
			delete(r.sessions, id)
			evicted++
			slog.Info("evicted stale session", "session_id", id)
		}
	}
	return evicted
}

// Stats summarizes the registry for the diagnostics endpoint.
type Stats struct {
	TotalSessions int    `json:"total_sessions"`
	ControlBound  int    `json:"active_control_channels"`
	MediaBound    int    `json:"active_media_channels"`
	Sessions      []Info `json:"sessions"`
}

// Stats returns a snapshot of all sessions.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{
		TotalSessions: len(r.sessions),
		ControlBound:  len(r.byCtrl),
		MediaBound:    len(r.byMedia),
	}
	for _, s := range r.sessions {
		st.Sessions = append(st.Sessions, copyInfo(s))
	}
	return st
}

func copyInfo(s *Info) Info {
	out := *s
	out.ThreadHistory = append([]string(nil), s.ThreadHistory...)
	return out
}

func containsThread(history []string, threadID string) bool {
	for _, t := range history {
		if t == threadID {
			return true
		}
	}
	return false
}
