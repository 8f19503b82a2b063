package worker

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/adagate/internal/conn"
	"github.com/MrWong99/adagate/internal/enhance"
	"github.com/MrWong99/adagate/internal/frame"
	"github.com/MrWong99/adagate/internal/history"
	"github.com/MrWong99/adagate/internal/observe"
	toolmock "github.com/MrWong99/adagate/internal/toolhost/mock"
	"github.com/MrWong99/adagate/pkg/provider/llm"
	llmmock "github.com/MrWong99/adagate/pkg/provider/llm/mock"
	"github.com/MrWong99/adagate/pkg/provider/ui"
	uimock "github.com/MrWong99/adagate/pkg/provider/ui/mock"
	"github.com/MrWong99/adagate/pkg/types"
)

// drainOutput collects everything currently queued on the connection output.
func drainOutput(c *conn.Context) []frame.Frame {
	var out []frame.Frame
	for {
		select {
		case f := <-c.Output:
			out = append(out, f)
		default:
			return out
		}
	}
}

func kinds(frames []frame.Frame) []frame.Kind {
	out := make([]frame.Kind, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func newTestWorker(t *testing.T, llmProv *llmmock.Provider, uiProv ui.Provider, opts ...Option) (*Worker, *conn.Context, *history.Memory) {
	t.Helper()
	c := conn.NewContext("conn-1")
	c.UI = uiProv
	decider := enhance.New(llmProv, &toolmock.Host{}, "decide")
	hist := history.NewMemory(0)
	return New(c, decider, hist, opts...), c, hist
}

func TestWorker_TextTurnStreamsUI(t *testing.T) {
	uiProv := &uimock.Provider{Fragments: []string{"<div>", "hello", "</div>"}}
	w, c, _ := newTestWorker(t, &llmmock.Provider{}, uiProv)

	w.process(context.Background(), conn.Turn{
		Text:     "show a chart",
		Source:   conn.SourceText,
		ThreadID: "t1",
	})

	frames := drainOutput(c)
	got := kinds(frames)
	want := []frame.Kind{
		frame.KindEnhancementStarted,
		frame.KindHTMLToken, frame.KindHTMLToken, frame.KindHTMLToken,
		frame.KindChatDone,
		frame.KindTextChatResponse,
	}
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", got, want)
		}
	}

	final := frames[len(frames)-1]
	if final.ThreadID != "t1" || final.ContentType != frame.ContentHTML {
		t.Errorf("final = %+v", final)
	}
	if !strings.Contains(final.Content, "<div>hello</div>") {
		t.Errorf("content = %q", final.Content)
	}
}

func TestWorker_MediaTurnPlainDecision(t *testing.T) {
	llmProv := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: `{"displayEnhancement": false, "displayEnhancedText": "The answer is 42.", "voiceOverText": "Forty two."}`},
	}}
	w, c, _ := newTestWorker(t, llmProv, &uimock.Provider{})

	w.process(context.Background(), conn.Turn{Text: "The answer is 42.", Source: conn.SourceMedia})

	frames := drainOutput(c)
	if len(frames) != 1 || frames[0].Type != frame.KindVoiceResponse {
		t.Fatalf("frames = %v", kinds(frames))
	}
	f := frames[0]
	if f.VoiceText != "Forty two." {
		t.Errorf("voiceText = %q", f.VoiceText)
	}
	if f.ContentType != frame.ContentHTML || !strings.Contains(f.Content, "The answer is 42.") {
		t.Errorf("frame = %+v", f)
	}
}

func TestWorker_MediaTurnEnhancedDecision(t *testing.T) {
	llmProv := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: `{"displayEnhancement": true, "displayEnhancedText": "Chart data", "voiceOverText": "Here is your chart."}`},
	}}
	uiProv := &uimock.Provider{Fragments: []string{"<table>", "</table>"}}
	w, c, _ := newTestWorker(t, llmProv, uiProv)

	w.process(context.Background(), conn.Turn{Text: "chart it", Source: conn.SourceMedia})

	frames := drainOutput(c)
	final := frames[len(frames)-1]
	if final.Type != frame.KindVoiceResponse {
		t.Fatalf("final = %+v", final)
	}
	if final.VoiceText != "Here is your chart." {
		t.Errorf("voiceText = %q", final.VoiceText)
	}
	if len(uiProv.StreamCalls) != 1 {
		t.Fatalf("StreamCalls = %d", len(uiProv.StreamCalls))
	}
	msgs := uiProv.StreamCalls[0].Messages
	if msgs[len(msgs)-1].Content != "Chart data" {
		t.Errorf("provider saw %q", msgs[len(msgs)-1].Content)
	}
}

func TestWorker_C1ProviderTokens(t *testing.T) {
	uiProv := &uimock.Provider{
		Fragments:    []string{"<content>", "{}", "</content>"},
		ProviderKind: ui.KindC1,
	}
	w, c, _ := newTestWorker(t, &llmmock.Provider{}, uiProv)

	w.process(context.Background(), conn.Turn{Text: "hi", Source: conn.SourceText, ThreadID: "t1"})

	frames := drainOutput(c)
	sawC1 := false
	for _, f := range frames {
		if f.Type == frame.KindC1Token {
			sawC1 = true
		}
		if f.Type == frame.KindHTMLToken {
			t.Error("html token from c1 provider")
		}
	}
	if !sawC1 {
		t.Error("no c1 tokens emitted")
	}
	final := frames[len(frames)-1]
	if final.ContentType != frame.ContentC1 {
		t.Errorf("content_type = %q", final.ContentType)
	}
}

func TestWorker_StreamErrorFallsBack(t *testing.T) {
	uiProv := &uimock.Provider{StreamErr: streamError("backend down")}
	w, c, _ := newTestWorker(t, &llmmock.Provider{}, uiProv)

	errCount := 0
	w.onError = func() { errCount++ }

	w.process(context.Background(), conn.Turn{Text: "hello", Source: conn.SourceText, ThreadID: "t1"})

	frames := drainOutput(c)
	got := kinds(frames)
	want := []frame.Kind{frame.KindEnhancementStarted, frame.KindError, frame.KindTextChatResponse}
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", got, want)
		}
	}
	if frames[1].ErrorCode != frame.CodeProviderStreamError {
		t.Errorf("code = %q", frames[1].ErrorCode)
	}
	if errCount != 1 {
		t.Errorf("error hook fired %d times", errCount)
	}
	final := frames[2]
	if !strings.Contains(final.Content, "Processing Error") ||
		!strings.Contains(final.Content, "Failed to process your message: backend down") {
		t.Errorf("error card = %q", final.Content)
	}
	if final.ContentType != frame.ContentHTML {
		t.Errorf("content_type = %q", final.ContentType)
	}
}

func TestWorker_PlainResponseEscapesMarkup(t *testing.T) {
	llmProv := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: `{"displayEnhancement": false, "displayEnhancedText": "Use <script>alert(1)</script> here.", "voiceOverText": "Careful."}`},
	}}
	w, c, _ := newTestWorker(t, llmProv, &uimock.Provider{})

	w.process(context.Background(), conn.Turn{Text: "show me", Source: conn.SourceMedia})

	frames := drainOutput(c)
	if len(frames) != 1 {
		t.Fatalf("frames = %v", kinds(frames))
	}
	f := frames[0]
	if strings.Contains(f.Content, "<script>") {
		t.Errorf("unescaped markup in card: %q", f.Content)
	}
	if !strings.Contains(f.Content, "&lt;script&gt;") {
		t.Errorf("escaped text missing from card: %q", f.Content)
	}
}

func TestWorker_C1PlainCard(t *testing.T) {
	llmProv := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: `{"displayEnhancement": false, "displayEnhancedText": "The answer is 42.", "voiceOverText": "Forty two."}`},
	}}
	uiProv := &uimock.Provider{ProviderKind: ui.KindC1}
	w, c, _ := newTestWorker(t, llmProv, uiProv)

	w.process(context.Background(), conn.Turn{Text: "answer", Source: conn.SourceMedia})

	frames := drainOutput(c)
	if len(frames) != 1 {
		t.Fatalf("frames = %v", kinds(frames))
	}
	f := frames[0]
	if f.ContentType != frame.ContentC1 {
		t.Errorf("content_type = %q", f.ContentType)
	}
	if !strings.HasPrefix(f.Content, "<content>") || !strings.HasSuffix(f.Content, "</content>") {
		t.Errorf("card not wrapped: %q", f.Content)
	}
	if !strings.Contains(f.Content, `"textMarkdown":"The answer is 42."`) {
		t.Errorf("card = %q", f.Content)
	}
	if strings.Contains(f.Content, "<div") {
		t.Errorf("html leaked into c1 card: %q", f.Content)
	}
}

func TestWorker_C1ErrorCard(t *testing.T) {
	uiProv := &uimock.Provider{
		StreamErr:    streamError("backend down"),
		ProviderKind: ui.KindC1,
	}
	w, c, _ := newTestWorker(t, &llmmock.Provider{}, uiProv)

	w.process(context.Background(), conn.Turn{Text: "hello", Source: conn.SourceText, ThreadID: "t1"})

	frames := drainOutput(c)
	final := frames[len(frames)-1]
	if final.Type != frame.KindTextChatResponse || final.ContentType != frame.ContentC1 {
		t.Fatalf("final = %+v", final)
	}
	if !strings.Contains(final.Content, `"Callout"`) ||
		!strings.Contains(final.Content, "Processing Error") ||
		!strings.Contains(final.Content, "Failed to process your message: backend down") {
		t.Errorf("error card = %q", final.Content)
	}
}

func TestWorker_PromptChainWindowsHistory(t *testing.T) {
	uiProv := &uimock.Provider{
		Fragments: []string{"<p>x</p>"},
		Prompt:    "generate markup",
	}
	w, c, hist := newTestWorker(t, &llmmock.Provider{}, uiProv)
	for i := 0; i < 5; i++ {
		hist.Append("conn-1", "t1", types.Message{Role: "assistant", Content: fmt.Sprintf("turn %d", i)})
	}
	hist.Append("conn-1", "t1", types.Message{Role: "tool", Content: "ignored"})

	w.process(context.Background(), conn.Turn{Text: "newest", Source: conn.SourceText, ThreadID: "t1"})
	drainOutput(c)

	if len(uiProv.StreamCalls) != 1 {
		t.Fatalf("StreamCalls = %d", len(uiProv.StreamCalls))
	}
	msgs := uiProv.StreamCalls[0].Messages
	// System prompt, three trailing history turns, and the current display text.
	if len(msgs) != 5 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Role != "system" || msgs[0].Content != "generate markup" {
		t.Errorf("system message = %+v", msgs[0])
	}
	if msgs[1].Content != "turn 2" || msgs[3].Content != "turn 4" {
		t.Errorf("history window = %+v", msgs[1:4])
	}
	last := msgs[len(msgs)-1]
	if last.Role != "assistant" || last.Content != "newest" {
		t.Errorf("final message = %+v", last)
	}
}

func TestWorker_OutputBackpressureBlocks(t *testing.T) {
	uiProv := &uimock.Provider{Fragments: []string{"<p>a</p>"}}
	w, c, _ := newTestWorker(t, &llmmock.Provider{}, uiProv)

	for i := 0; i < conn.OutputQueueSize; i++ {
		c.Output <- frame.NewChatDone("fill", "filler")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.process(context.Background(), conn.Turn{Text: "hi", Source: conn.SourceText, ThreadID: "t1"})
	}()

	select {
	case <-done:
		t.Fatal("process completed against a full output queue")
	case <-time.After(50 * time.Millisecond):
	}

	// Drain the queue; every frame of the turn must arrive once room opens up.
	var got []frame.Kind
	deadline := time.After(2 * time.Second)
collect:
	for {
		select {
		case f := <-c.Output:
			if f.ID == "fill" {
				continue
			}
			got = append(got, f.Type)
			if f.Type == frame.KindTextChatResponse {
				break collect
			}
		case <-deadline:
			t.Fatalf("turn frames never arrived, got %v", got)
		}
	}
	<-done

	want := []frame.Kind{
		frame.KindEnhancementStarted, frame.KindHTMLToken,
		frame.KindChatDone, frame.KindTextChatResponse,
	}
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", got, want)
		}
	}
}

func TestWorker_BreakerStopsDeadProvider(t *testing.T) {
	uiProv := &uimock.Provider{StreamErr: streamError("backend down")}
	w, c, _ := newTestWorker(t, &llmmock.Provider{}, uiProv)

	var last []frame.Frame
	for i := 0; i < 6; i++ {
		w.process(context.Background(), conn.Turn{Text: "hi", Source: conn.SourceText, ThreadID: "t1"})
		last = drainOutput(c)
	}

	if len(uiProv.StreamCalls) != 5 {
		t.Errorf("provider called %d times, want 5 before the breaker opens", len(uiProv.StreamCalls))
	}

	// With the breaker open the turn still fails loudly with an error card.
	got := kinds(last)
	want := []frame.Kind{frame.KindEnhancementStarted, frame.KindError, frame.KindTextChatResponse}
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", got, want)
		}
	}
	if !strings.Contains(last[2].Content, "Processing Error") {
		t.Errorf("final frame = %q", last[2].Content)
	}
}

func TestWorker_RecordsTurnMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	uiProv := &uimock.Provider{Fragments: []string{"<p>x</p>"}}
	w, c, _ := newTestWorker(t, &llmmock.Provider{}, uiProv, WithMetrics(met))

	w.process(context.Background(), conn.Turn{Text: "hi", Source: conn.SourceText, ThreadID: "t1"})
	drainOutput(c)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := counterWithAttr(t, rm, "adagate.voice.turns", attribute.String("source", "text")); got != 1 {
		t.Errorf("voice turns = %d, want 1", got)
	}
	if got := counterWithAttr(t, rm, "adagate.provider.requests", attribute.String("status", "ok")); got != 1 {
		t.Errorf("provider requests = %d, want 1", got)
	}
}

// counterWithAttr sums the data points of the named counter that carry attr.
func counterWithAttr(t *testing.T, rm metricdata.ResourceMetrics, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data type %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attr.Key); ok && v == attr.Value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestWorker_EmptyTurnDropped(t *testing.T) {
	w, c, _ := newTestWorker(t, &llmmock.Provider{}, &uimock.Provider{})
	w.process(context.Background(), conn.Turn{Text: "   \n", Source: conn.SourceText})
	if frames := drainOutput(c); len(frames) != 0 {
		t.Errorf("frames = %v", kinds(frames))
	}
}

func TestWorker_ReadyBecomesActive(t *testing.T) {
	uiProv := &uimock.Provider{Fragments: []string{"<p>x</p>"}}
	w, c, _ := newTestWorker(t, &llmmock.Provider{}, uiProv)
	forceState(c, conn.StateReady)

	w.process(context.Background(), conn.Turn{Text: "hi", Source: conn.SourceText})

	if c.State() != conn.StateActive {
		t.Errorf("state = %s", c.State())
	}
	frames := drainOutput(c)
	if frames[0].Type != frame.KindConnectionState || frames[0].State != "active" {
		t.Errorf("first frame = %+v", frames[0])
	}
}

func TestWorker_RecordsHistory(t *testing.T) {
	uiProv := &uimock.Provider{Fragments: []string{"<p>x</p>"}}
	w, c, hist := newTestWorker(t, &llmmock.Provider{}, uiProv)

	w.process(context.Background(), conn.Turn{Text: "first answer", Source: conn.SourceText, ThreadID: "t1"})
	drainOutput(c)

	got := hist.Get("conn-1", "t1")
	if len(got) != 1 || got[0].Role != "assistant" || got[0].Content != "first answer" {
		t.Errorf("history = %+v", got)
	}
}

func TestWorker_StartStop(t *testing.T) {
	uiProv := &uimock.Provider{Fragments: []string{"<p>ok</p>"}}
	w, c, _ := newTestWorker(t, &llmmock.Provider{}, uiProv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	c.Input <- conn.Turn{Text: "hi", Source: conn.SourceText, ThreadID: "t1"}

	deadline := time.After(2 * time.Second)
	for {
		frames := drainOutput(c)
		done := false
		for _, f := range frames {
			if f.Type == frame.KindTextChatResponse {
				done = true
			}
		}
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no response before deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// forceState walks the happy path until the context reaches want.
func forceState(c *conn.Context, want conn.State) {
	order := []conn.State{
		conn.StateConfigReceived, conn.StateValidating, conn.StateMCPInitializing,
		conn.StateVizInitializing, conn.StateReady, conn.StateActive,
	}
	for _, s := range order {
		if c.State() == want {
			return
		}
		_ = c.SetState(s, "")
		// SetState queues a frame per transition; drop them so tests only
		// see frames from the code under test.
		drainOutput(c)
		if s == want {
			return
		}
	}
}
