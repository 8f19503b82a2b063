// Package media implements the media-channel side of the gateway: SDP offer
// negotiation, per-channel lifecycle, and the fast voice path that turns
// user speech into a spoken assistant reply.
//
// Each negotiated channel runs one [Pipeline]: captured audio is gated by VAD,
// streamed to the STT provider, finalized utterances drive the voice LLM, and
// the reply is synthesized sentence-by-sentence so playback starts before the
// completion finishes. Finalized transcripts and completed replies are handed
// to the owning control connection through the fan-out bus and the
// connection's input queue.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/adagate/internal/bus"
	"github.com/MrWong99/adagate/internal/conn"
	"github.com/MrWong99/adagate/internal/frame"
	"github.com/MrWong99/adagate/internal/history"
	"github.com/MrWong99/adagate/pkg/audio"
	"github.com/MrWong99/adagate/pkg/audio/mixer"
	"github.com/MrWong99/adagate/pkg/provider/llm"
	"github.com/MrWong99/adagate/pkg/provider/stt"
	"github.com/MrWong99/adagate/pkg/provider/tts"
	"github.com/MrWong99/adagate/pkg/provider/vad"
	"github.com/MrWong99/adagate/pkg/types"
)

const (
	// PriorityAssistant is the mixer priority for ordinary assistant speech.
	PriorityAssistant = 1

	// PriorityVoiceOver is the mixer priority for voice-overs injected from
	// the slow path. Voice-overs preempt assistant speech in progress.
	PriorityVoiceOver = 5

	// injectQueueSize bounds pending voice-over injections. Overflow drops
	// the injection rather than stalling the slow path.
	injectQueueSize = 8

	// voiceTemperature is the sampling temperature for the voice agent.
	voiceTemperature = 0.7
)

// Deps bundles the providers a [Pipeline] is built from.
type Deps struct {
	STT stt.Provider
	TTS tts.Provider
	LLM llm.Provider

	// VAD is optional. When nil, every captured frame is forwarded to the
	// STT provider and barge-in detection is disabled.
	VAD vad.Engine

	// Bus receives finalized user transcriptions addressed to the owning
	// control connection.
	Bus *bus.Bus

	// Hist is the shared conversation store. Optional; when nil the
	// pipeline keeps no conversational context between utterances.
	Hist *history.Memory
}

// PipelineConfig describes one media channel's voice path.
type PipelineConfig struct {
	// MediaID is the channel id (pc_id) this pipeline serves.
	MediaID string

	// ThreadID is the conversation thread voice turns belong to.
	ThreadID string

	// ControlID is the owning control connection, empty when unattached.
	ControlID string

	// CaptureSampleRate is the inbound audio rate in Hz. Defaults to 48000.
	CaptureSampleRate int

	// PlaybackSampleRate is the synthesized audio rate in Hz. Defaults to 16000.
	PlaybackSampleRate int

	// Language is the BCP-47 recognition language, empty for auto-detect.
	Language string

	// Keywords boosts recognition of tenant-specific vocabulary.
	Keywords []types.KeywordBoost

	// Voice selects the TTS voice.
	Voice types.VoiceProfile

	// SystemPrompt steers the voice agent.
	SystemPrompt string
}

// PipelineOption configures a [Pipeline].
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the pipeline logger. Defaults to slog.Default.
func WithPipelineLogger(log *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// Pipeline is the fast voice path for one media channel. Create it with
// [NewPipeline] and drive it with [Pipeline.Run]; inject voice-overs with
// [Pipeline.Inject].
type Pipeline struct {
	cfg  PipelineConfig
	deps Deps
	out  func(audio.AudioFrame) bool
	turn func(conn.Turn) bool
	log  *slog.Logger

	mix      *mixer.PriorityMixer
	injectCh chan string

	mu         sync.Mutex
	cancelTurn context.CancelFunc // in-flight respond, nil when idle
}

// NewPipeline assembles a voice pipeline. out receives synthesized playback
// frames (typically [webrtc.OutputWriter.Send]); turn enqueues the finished
// assistant reply on the owning connection and may be nil when no control
// channel is attached.
func NewPipeline(cfg PipelineConfig, deps Deps, out func(audio.AudioFrame) bool, turn func(conn.Turn) bool, opts ...PipelineOption) *Pipeline {
	if cfg.CaptureSampleRate <= 0 {
		cfg.CaptureSampleRate = 48000
	}
	if cfg.PlaybackSampleRate <= 0 {
		cfg.PlaybackSampleRate = 16000
	}
	p := &Pipeline{
		cfg:      cfg,
		deps:     deps,
		out:      out,
		turn:     turn,
		log:      slog.Default(),
		injectCh: make(chan string, injectQueueSize),
	}
	for _, o := range opts {
		o(p)
	}
	p.mix = mixer.New(func(chunk []byte) {
		if out != nil {
			out(audio.AudioFrame{Data: chunk, SampleRate: cfg.PlaybackSampleRate, Channels: 1})
		}
	})
	return p
}

// ThreadID returns the conversation thread this pipeline speaks on.
func (p *Pipeline) ThreadID() string { return p.cfg.ThreadID }

// Inject schedules text to be spoken ahead of queued assistant speech. It is
// safe to call from any goroutine and never blocks; when the injection queue
// is full the text is dropped with a warning.
func (p *Pipeline) Inject(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	select {
	case p.injectCh <- text:
	default:
		p.log.Warn("media: injection queue full, voice-over dropped",
			"media_id", p.cfg.MediaID)
	}
}

// Run drives the pipeline until ctx is cancelled or the input channel closes.
// It owns the STT session, the optional VAD session, and the mixer; all three
// are released before Run returns.
func (p *Pipeline) Run(ctx context.Context, input <-chan audio.AudioFrame) error {
	defer p.mix.Close()

	sess, err := p.deps.STT.StartStream(ctx, stt.StreamConfig{
		SampleRate: p.cfg.CaptureSampleRate,
		Channels:   1,
		Language:   p.cfg.Language,
		Keywords:   p.cfg.Keywords,
	})
	if err != nil {
		return fmt.Errorf("media: start stt stream: %w", err)
	}
	defer sess.Close()

	var vadSess vad.SessionHandle
	if p.deps.VAD != nil {
		vadSess, err = p.deps.VAD.NewSession(vad.Config{
			SampleRate:       p.cfg.CaptureSampleRate,
			FrameSizeMs:      20,
			SpeechThreshold:  0.5,
			SilenceThreshold: 0.35,
		})
		if err != nil {
			return fmt.Errorf("media: start vad session: %w", err)
		}
		defer vadSess.Close()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.pumpAudio(ctx, input, sess, vadSess) })
	g.Go(func() error { return p.consumeFinals(ctx, sess) })
	g.Go(func() error { return p.consumeInjections(ctx) })
	g.Go(func() error { return drainPartials(ctx, sess) })
	return g.Wait()
}

// pumpAudio forwards captured frames to the STT session, optionally gated by
// VAD. Frames that arrive in a different format than the negotiated capture
// format are converted to mono at the capture rate first. A speech start while
// the assistant is talking triggers barge-in.
func (p *Pipeline) pumpAudio(ctx context.Context, input <-chan audio.AudioFrame, sess stt.SessionHandle, vadSess vad.SessionHandle) error {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: p.cfg.CaptureSampleRate, Channels: 1}}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fr, ok := <-input:
			if !ok {
				return nil
			}
			fr = conv.Convert(fr)
			if len(fr.Data) == 0 {
				continue
			}
			if vadSess != nil {
				ev, err := vadSess.ProcessFrame(fr.Data)
				if err != nil {
					p.log.Warn("media: vad frame error", "media_id", p.cfg.MediaID, "error", err)
				} else {
					switch ev.Type {
					case types.VADSpeechStart:
						p.interruptAssistant()
					case types.VADSilence:
						continue // gate: keep silence away from the STT provider
					}
				}
			}
			if err := sess.SendAudio(fr.Data); err != nil {
				return fmt.Errorf("media: send audio: %w", err)
			}
		}
	}
}

// consumeFinals turns each finalized transcript into a broadcast transcription
// and a spoken assistant reply. Utterances are handled serially so replies
// keep conversation order.
func (p *Pipeline) consumeFinals(ctx context.Context, sess stt.SessionHandle) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-sess.Finals():
			if !ok {
				return nil
			}
			text := strings.TrimSpace(t.Text)
			if text == "" {
				continue
			}
			p.broadcastTranscription(text)
			if err := p.respond(ctx, text); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.log.Error("media: voice turn failed",
					"media_id", p.cfg.MediaID, "error", err)
			}
		}
	}
}

// broadcastTranscription publishes the user's words to the owning control
// connection so the UI can display them.
func (p *Pipeline) broadcastTranscription(text string) {
	if p.deps.Bus == nil || p.cfg.ControlID == "" {
		return
	}
	f := frame.NewUserTranscription(text)
	f.ConnectionID = p.cfg.ControlID
	f.ThreadID = p.cfg.ThreadID
	p.deps.Bus.Broadcast(f)
}

// respond streams a voice-agent completion for text, feeding sentences into
// TTS as they complete, and hands the full reply to the owning connection's
// worker when the stream ends.
func (p *Pipeline) respond(ctx context.Context, text string) error {
	tctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.mu.Lock()
	p.cancelTurn = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.cancelTurn = nil
		p.mu.Unlock()
	}()

	messageID := uuid.NewString()
	userMsg := types.Message{Role: "user", Content: text}
	messages := append(p.pastMessages(), userMsg)
	p.record(userMsg)

	chunks, err := p.deps.LLM.StreamCompletion(tctx, llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: p.cfg.SystemPrompt,
		Temperature:  voiceTemperature,
	})
	if err != nil {
		return fmt.Errorf("media: voice completion: %w", err)
	}

	textCh := make(chan string, 8)
	audioCh, err := p.deps.TTS.SynthesizeStream(tctx, textCh, p.cfg.Voice)
	if err != nil {
		go drainChunks(chunks)
		return fmt.Errorf("media: synthesize: %w", err)
	}
	p.mix.Enqueue(&audio.AudioSegment{
		StreamID:   messageID,
		Audio:      audioCh,
		SampleRate: p.cfg.PlaybackSampleRate,
		Channels:   1,
		Priority:   PriorityAssistant,
	}, PriorityAssistant)

	reply, err := forwardSentences(tctx, chunks, textCh)
	close(textCh)
	if err != nil {
		if tctx.Err() != nil && ctx.Err() == nil {
			// Barge-in cancelled the turn; not a failure.
			p.log.Debug("media: voice turn interrupted", "media_id", p.cfg.MediaID)
			return nil
		}
		return err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil
	}

	p.record(types.Message{Role: "assistant", Content: reply})
	p.enqueueTurn(reply, messageID)
	return nil
}

// enqueueTurn hands the finished reply to the owning connection's worker for
// the enhancement decision. Delivery blocks until the worker makes room; a
// false return means the channel shut down mid hand-off. Without an attached
// control channel the reply was already spoken and there is nothing left to
// render.
func (p *Pipeline) enqueueTurn(reply, messageID string) {
	if p.turn == nil {
		return
	}
	if !p.turn(conn.Turn{
		Text:      reply,
		Source:    conn.SourceMedia,
		ThreadID:  p.cfg.ThreadID,
		MessageID: messageID,
	}) {
		p.log.Warn("media: channel closing, voice turn abandoned",
			"media_id", p.cfg.MediaID, "control_id", p.cfg.ControlID)
	}
}

// consumeInjections synthesizes queued voice-overs at elevated priority.
func (p *Pipeline) consumeInjections(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text := <-p.injectCh:
			textCh := make(chan string, 1)
			textCh <- text
			close(textCh)
			audioCh, err := p.deps.TTS.SynthesizeStream(ctx, textCh, p.cfg.Voice)
			if err != nil {
				p.log.Error("media: voice-over synthesis failed",
					"media_id", p.cfg.MediaID, "error", err)
				continue
			}
			p.mix.Enqueue(&audio.AudioSegment{
				StreamID:   "voice-over-" + uuid.NewString(),
				Audio:      audioCh,
				SampleRate: p.cfg.PlaybackSampleRate,
				Channels:   1,
				Priority:   PriorityVoiceOver,
			}, PriorityVoiceOver)
		}
	}
}

// interruptAssistant stops playback and cancels the in-flight completion when
// the user starts talking over the assistant.
func (p *Pipeline) interruptAssistant() {
	p.mix.BargeIn(p.cfg.MediaID)
	p.mu.Lock()
	cancel := p.cancelTurn
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// pastMessages returns the stored conversation context for this channel.
func (p *Pipeline) pastMessages() []types.Message {
	if p.deps.Hist == nil {
		return nil
	}
	return p.deps.Hist.Get(p.historyKey(), p.cfg.ThreadID)
}

// record appends msg to the shared conversation store.
func (p *Pipeline) record(msg types.Message) {
	if p.deps.Hist == nil {
		return
	}
	p.deps.Hist.Append(p.historyKey(), p.cfg.ThreadID, msg)
}

// historyKey scopes stored context to the control connection when one is
// attached, so voice and text turns share a transcript.
func (p *Pipeline) historyKey() string {
	if p.cfg.ControlID != "" {
		return p.cfg.ControlID
	}
	return p.cfg.MediaID
}

// forwardSentences reads completion chunks, flushes each complete sentence to
// textCh for low-latency synthesis, and returns the accumulated reply. Any
// trailing partial sentence is flushed when the stream ends.
func forwardSentences(ctx context.Context, chunks <-chan llm.Chunk, textCh chan<- string) (string, error) {
	var full strings.Builder
	var buf strings.Builder

	flush := func(s string) bool {
		select {
		case textCh <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return full.String(), ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				if buf.Len() > 0 {
					flush(buf.String())
				}
				return full.String(), nil
			}
			if chunk.FinishReason == "error" {
				go drainChunks(chunks)
				return full.String(), fmt.Errorf("media: voice completion stream reported an error")
			}
			if chunk.Text != "" {
				full.WriteString(chunk.Text)
				buf.WriteString(chunk.Text)
			}

			for {
				idx := firstSentenceBoundary(buf.String())
				if idx < 0 {
					break
				}
				sentence := buf.String()[:idx+1]
				rest := strings.TrimLeft(buf.String()[idx+1:], " \t\n\r")
				buf.Reset()
				buf.WriteString(rest)
				if !flush(sentence) {
					return full.String(), ctx.Err()
				}
			}

			if chunk.FinishReason != "" {
				if buf.Len() > 0 {
					flush(buf.String())
				}
				return full.String(), nil
			}
		}
	}
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// immediately followed by whitespace, or -1 when no boundary exists in s.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// drainChunks discards remaining chunks so the provider's stream goroutine
// does not block after an early exit.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}

// drainPartials discards interim transcripts. Partials are latency hints only;
// the authoritative path consumes finals.
func drainPartials(ctx context.Context, sess stt.SessionHandle) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-sess.Partials():
			if !ok {
				return nil
			}
		}
	}
}
