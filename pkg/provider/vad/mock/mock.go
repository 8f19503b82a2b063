// Package mock provides test doubles for the vad interfaces. Engine hands
// out a scripted session and records configs; Session replays a scripted
// event sequence and records the frames it saw.
package mock

import (
	"sync"

	"github.com/MrWong99/adagate/pkg/provider/vad"
	"github.com/MrWong99/adagate/pkg/types"
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// NewSessionCall records one Engine.NewSession invocation.
type NewSessionCall struct {
	Cfg vad.Config
}

// Engine is a scripted vad.Engine. Leave Session nil to have NewSession mint
// a fresh default Session per call.
type Engine struct {
	mu sync.Mutex

	Session       vad.SessionHandle
	NewSessionErr error

	NewSessionCalls []NewSessionCall
}

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Reset clears the recorded calls.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = nil
}

// ProcessFrameCall holds a copy of one ProcessFrame input.
type ProcessFrameCall struct {
	Frame []byte
}

// Session is a scripted vad.SessionHandle. When Events is set, ProcessFrame
// replays them in order and repeats the last one; otherwise every call
// returns EventResult.
type Session struct {
	mu sync.Mutex

	Events      []types.VADEvent
	EventResult types.VADEvent

	ProcessFrameErr error
	CloseErr        error

	ProcessFrameCalls []ProcessFrameCall
	ResetCallCount    int
	CloseCallCount    int

	next int
}

func (s *Session) ProcessFrame(frame []byte) (types.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.ProcessFrameCalls = append(s.ProcessFrameCalls, ProcessFrameCall{Frame: cp})

	if len(s.Events) == 0 {
		return s.EventResult, s.ProcessFrameErr
	}
	ev := s.Events[s.next]
	if s.next < len(s.Events)-1 {
		s.next++
	}
	return ev, s.ProcessFrameErr
}

// Reset counts the call; scripted events keep replaying from where they were.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ResetCalls clears all recorded calls and rewinds the event script.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProcessFrameCalls = nil
	s.ResetCallCount = 0
	s.CloseCallCount = 0
	s.next = 0
}
