// Package mock provides test doubles for the stt interfaces. Provider hands
// out a scripted session and records StartStream configs; Session lets tests
// feed transcripts through PartialsCh/FinalsCh and inspect delivered audio.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/adagate/pkg/provider/stt"
	"github.com/MrWong99/adagate/pkg/types"
)

var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)

// StartStreamCall records one Provider.StartStream invocation.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a scripted stt.Provider. Leave Session nil to have StartStream
// mint a fresh Session with buffered channels per call.
type Provider struct {
	mu sync.Mutex

	Session        stt.SessionHandle
	StartStreamErr error

	StartStreamCalls []StartStreamCall
}

func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{
		PartialsCh: make(chan types.Transcript, 16),
		FinalsCh:   make(chan types.Transcript, 16),
	}, nil
}

// Reset clears the recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
}

// SendAudioCall holds a copy of one SendAudio chunk.
type SendAudioCall struct {
	Chunk []byte
}

// SetKeywordsCall holds a copy of one SetKeywords list.
type SetKeywordsCall struct {
	Keywords []types.KeywordBoost
}

// Session is a scripted stt.SessionHandle. The test owns PartialsCh and
// FinalsCh: initialise them before use, send the transcripts the consumer
// should see, and close them to end the stream.
type Session struct {
	mu sync.Mutex

	PartialsCh chan types.Transcript
	FinalsCh   chan types.Transcript

	SendAudioErr   error
	SetKeywordsErr error
	CloseErr       error

	SendAudioCalls   []SendAudioCall
	SetKeywordsCalls []SetKeywordsCall
	CloseCallCount   int
}

func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

func (s *Session) Partials() <-chan types.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PartialsCh
}

func (s *Session) Finals() <-chan types.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinalsCh
}

func (s *Session) SetKeywords(keywords []types.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kw := make([]types.KeywordBoost, len(keywords))
	copy(kw, keywords)
	s.SetKeywordsCalls = append(s.SetKeywordsCalls, SetKeywordsCall{Keywords: kw})
	return s.SetKeywordsErr
}

// SendAudioCallCount reports how many chunks were delivered.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ResetCalls clears all recorded calls.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = nil
	s.SetKeywordsCalls = nil
	s.CloseCallCount = 0
}
