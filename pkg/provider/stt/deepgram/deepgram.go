// Package deepgram implements [stt.Provider] on top of the Deepgram streaming
// WebSocket API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/adagate/pkg/provider/stt"
	"github.com/MrWong99/adagate/pkg/types"
	"github.com/coder/websocket"
)

const (
	listenEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

var (
	errNotSupported  = errors.New("mid-session keyword updates are not supported")
	errSessionClosed = errors.New("deepgram: session is closed")
)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the Deepgram model, e.g. "nova-3" or "base".
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default recognition language as a BCP-47 tag.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the fallback sample rate in Hz for sessions whose
// config leaves it zero.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// Provider is a Deepgram-backed [stt.Provider].
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials the listen endpoint and returns a live session. Session
// config overrides the provider defaults where set.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.streamURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:     conn,
		partials: make(chan types.Transcript, 64),
		finals:   make(chan types.Transcript, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// streamURL encodes the session parameters into the listen endpoint URL.
func (p *Provider) streamURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(listenEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	// Deepgram keyword hints are "word:boost" pairs, e.g. "Adagate:5".
	for _, kw := range cfg.Keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// resultsMessage is the subset of Deepgram's Results event the session needs.
type resultsMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// transcript converts the first alternative of a Results event. ok is false
// for non-Results messages and empty results.
func (m *resultsMessage) transcript() (types.Transcript, bool) {
	if m.Type != "Results" || len(m.Channel.Alternatives) == 0 {
		return types.Transcript{}, false
	}

	alt := m.Channel.Alternatives[0]
	words := make([]types.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, types.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}

	return types.Transcript{
		Text:       alt.Transcript,
		IsFinal:    m.IsFinal,
		Confidence: alt.Confidence,
		Words:      words,
	}, true
}

// session is one live transcription stream. It implements [stt.SessionHandle].
type session struct {
	conn     *websocket.Conn
	partials chan types.Transcript
	finals   chan types.Transcript
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	kwMu     sync.RWMutex
	keywords []types.KeywordBoost
}

// SendAudio queues a PCM chunk for delivery. Errors once the session is
// closed.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

func (s *session) Partials() <-chan types.Transcript { return s.partials }

func (s *session) Finals() <-chan types.Transcript { return s.finals }

// SetKeywords records the new list for reference but reports errNotSupported:
// Deepgram keyword hints are fixed at stream start.
func (s *session) SetKeywords(keywords []types.KeywordBoost) error {
	s.kwMu.Lock()
	s.keywords = keywords
	s.kwMu.Unlock()
	return fmt.Errorf("deepgram: %w", errNotSupported)
}

// Close asks Deepgram to flush buffered audio, waits for both loops, and
// closes the socket. Idempotent.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop forwards queued chunks to the socket as binary messages,
// draining what is already queued when shutdown starts.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop routes each Results event to the partials or finals channel. Both
// channels close when the socket read fails, which covers normal close and
// cancellation alike.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		var resp resultsMessage
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		t, ok := resp.transcript()
		if !ok {
			continue
		}

		out := s.partials
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- t:
		case <-s.done:
		}
	}
}
