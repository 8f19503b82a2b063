package media

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/adagate/internal/bus"
	"github.com/MrWong99/adagate/internal/conn"
	"github.com/MrWong99/adagate/internal/frame"
	"github.com/MrWong99/adagate/internal/history"
	"github.com/MrWong99/adagate/pkg/audio"
	"github.com/MrWong99/adagate/pkg/provider/llm"
	llmmock "github.com/MrWong99/adagate/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/adagate/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/adagate/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/adagate/pkg/provider/vad/mock"
	"github.com/MrWong99/adagate/pkg/types"
)

// frameSink collects playback frames concurrently.
type frameSink struct {
	mu     sync.Mutex
	frames []audio.AudioFrame
}

func (s *frameSink) send(f audio.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return true
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type testPipeline struct {
	pipe    *Pipeline
	sttSess *sttmock.Session
	tts     *ttsmock.Provider
	bus     *bus.Bus
	hist    *history.Memory
	sink    *frameSink
	turns   chan conn.Turn
	input   chan audio.AudioFrame
	sub     <-chan frame.Frame
}

func newTestPipeline(t *testing.T, cfg PipelineConfig, deps Deps) *testPipeline {
	t.Helper()

	tp := &testPipeline{
		sttSess: &sttmock.Session{
			PartialsCh: make(chan types.Transcript, 16),
			FinalsCh:   make(chan types.Transcript, 16),
		},
		sink:  &frameSink{},
		turns: make(chan conn.Turn, 4),
		input: make(chan audio.AudioFrame, 16),
	}

	if deps.STT == nil {
		deps.STT = &sttmock.Provider{Session: tp.sttSess}
	}
	if deps.TTS == nil {
		tp.tts = &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("pcm-a"), []byte("pcm-b")}}
		deps.TTS = tp.tts
	}
	if deps.LLM == nil {
		deps.LLM = &llmmock.Provider{StreamChunks: []llm.Chunk{
			{Text: "Sure thing. "}, {Text: "Here it is.", FinishReason: "stop"},
		}}
	}
	if deps.Bus == nil {
		deps.Bus = bus.New()
	}
	tp.bus = deps.Bus
	tp.hist = deps.Hist

	if cfg.ControlID != "" {
		tp.sub = tp.bus.Subscribe(cfg.ControlID, cfg.ThreadID, 16)
	}

	turn := func(tn conn.Turn) bool {
		select {
		case tp.turns <- tn:
			return true
		default:
			return false
		}
	}

	tp.pipe = NewPipeline(cfg, deps, tp.sink.send, turn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tp.pipe.Run(ctx, tp.input)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("pipeline did not stop")
		}
	})
	return tp
}

// await polls cond until it holds or the deadline passes.
func await(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPipeline_FinalTranscriptDrivesVoiceTurn(t *testing.T) {
	hist := history.NewMemory(0)
	tp := newTestPipeline(t, PipelineConfig{
		MediaID:   "pc-1",
		ThreadID:  "T",
		ControlID: "ctrl-1",
	}, Deps{Hist: hist})

	tp.sttSess.FinalsCh <- types.Transcript{Text: "what is the weather?", IsFinal: true}

	// The user's words reach the control channel over the bus.
	var transcription frame.Frame
	select {
	case transcription = <-tp.sub:
	case <-time.After(3 * time.Second):
		t.Fatal("no transcription on the bus")
	}
	if transcription.Type != frame.KindUserTranscription ||
		transcription.Content != "what is the weather?" ||
		transcription.ConnectionID != "ctrl-1" || transcription.ThreadID != "T" {
		t.Errorf("transcription = %+v", transcription)
	}

	// The finished reply is queued for the slow path.
	var turn conn.Turn
	select {
	case turn = <-tp.turns:
	case <-time.After(3 * time.Second):
		t.Fatal("no turn enqueued")
	}
	if turn.Source != conn.SourceMedia || turn.ThreadID != "T" {
		t.Errorf("turn = %+v", turn)
	}
	if turn.Text != "Sure thing. Here it is." {
		t.Errorf("turn text = %q", turn.Text)
	}

	// Synthesized audio reaches the playback sink.
	await(t, "playback frames", func() bool { return tp.sink.count() >= 2 })

	// Both sides of the exchange are recorded under the control connection.
	msgs := hist.Get("ctrl-1", "T")
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("history = %+v", msgs)
	}
}

func TestPipeline_EmptyFinalIgnored(t *testing.T) {
	tp := newTestPipeline(t, PipelineConfig{
		MediaID:   "pc-2",
		ThreadID:  "T",
		ControlID: "ctrl-2",
	}, Deps{})

	tp.sttSess.FinalsCh <- types.Transcript{Text: "   ", IsFinal: true}
	tp.sttSess.FinalsCh <- types.Transcript{Text: "real question.", IsFinal: true}

	turn := <-tp.turns
	if turn.Text == "" {
		t.Errorf("turn = %+v", turn)
	}
	select {
	case extra := <-tp.turns:
		t.Errorf("unexpected extra turn: %+v", extra)
	default:
	}
}

func TestPipeline_InjectSpeaksVoiceOver(t *testing.T) {
	tp := newTestPipeline(t, PipelineConfig{
		MediaID:  "pc-3",
		ThreadID: "T",
	}, Deps{})

	tp.pipe.Inject("Heads up, the report is ready.")

	await(t, "voice-over playback", func() bool {
		return tp.sink.count() >= 1
	})
	if len(tp.tts.SynthesizeStreamCalls) == 0 {
		t.Error("no synthesis call recorded")
	}
}

func TestPipeline_VADGatesSilence(t *testing.T) {
	vadSess := &vadmock.Session{Events: []types.VADEvent{
		{Type: types.VADSilence},
		{Type: types.VADSilence},
		{Type: types.VADSpeechStart, Probability: 0.9},
		{Type: types.VADSpeechContinue, Probability: 0.9},
	}}
	tp := newTestPipeline(t, PipelineConfig{
		MediaID:  "pc-4",
		ThreadID: "T",
	}, Deps{VAD: &vadmock.Engine{Session: vadSess}})

	for range 4 {
		tp.input <- audio.AudioFrame{Data: []byte{0x01}, SampleRate: 48000, Channels: 1}
	}

	// Two silent frames are gated; the speech frames pass through.
	await(t, "speech frames forwarded", func() bool {
		return tp.sttSess.SendAudioCallCount() == 2
	})
}

func TestForwardSentences(t *testing.T) {
	chunks := make(chan llm.Chunk, 8)
	chunks <- llm.Chunk{Text: "One. Two"}
	chunks <- llm.Chunk{Text: " and three! Tail"}
	close(chunks)

	textCh := make(chan string, 8)
	full, err := forwardSentences(context.Background(), chunks, textCh)
	close(textCh)
	if err != nil {
		t.Fatalf("forwardSentences: %v", err)
	}
	if full != "One. Two and three! Tail" {
		t.Errorf("full = %q", full)
	}

	var sentences []string
	for s := range textCh {
		sentences = append(sentences, s)
	}
	want := []string{"One.", "Two and three!", "Tail"}
	if len(sentences) != len(want) {
		t.Fatalf("sentences = %q, want %q", sentences, want)
	}
	for i := range want {
		if sentences[i] != want[i] {
			t.Errorf("sentence[%d] = %q, want %q", i, sentences[i], want[i])
		}
	}
}

func TestForwardSentences_ErrorFinish(t *testing.T) {
	chunks := make(chan llm.Chunk, 2)
	chunks <- llm.Chunk{Text: "partial"}
	chunks <- llm.Chunk{FinishReason: "error"}
	close(chunks)

	textCh := make(chan string, 8)
	_, err := forwardSentences(context.Background(), chunks, textCh)
	if err == nil || !strings.Contains(err.Error(), "voice completion") {
		t.Errorf("err = %v", err)
	}
}

func TestFirstSentenceBoundary(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"Hello there. More", 11},
		{"No boundary here", -1},
		{"Really?! Yes", 7},
		{"Trailing dot.", -1},
		{"", -1},
	}
	for _, tc := range cases {
		if got := firstSentenceBoundary(tc.in); got != tc.want {
			t.Errorf("firstSentenceBoundary(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
