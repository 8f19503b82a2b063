package media

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/adagate/internal/bus"
	"github.com/MrWong99/adagate/internal/conn"
	"github.com/MrWong99/adagate/internal/frame"
	"github.com/MrWong99/adagate/internal/session"
	"github.com/MrWong99/adagate/pkg/audio/webrtc"
	"github.com/MrWong99/adagate/pkg/provider/llm"
	llmmock "github.com/MrWong99/adagate/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/adagate/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/adagate/pkg/provider/tts/mock"
)

type offerEnv struct {
	handler  *Handler
	sessions *session.Registry
	conns    *conn.Registry
	cc       *conn.Context
}

// newOfferEnv stands up a handler with one registered control connection
// bound to session "S".
func newOfferEnv(t *testing.T) *offerEnv {
	t.Helper()

	b := bus.New()
	sessions := session.NewRegistry()
	conns := conn.NewRegistry(b, nil)

	cc := conn.NewContext("ctrl-1")
	if err := conns.Register(cc); err != nil {
		t.Fatalf("register: %v", err)
	}
	sessions.BindControl("S", "ctrl-1", "T")

	h := NewHandler(sessions, conns, b, webrtc.New(), Deps{
		STT: &sttmock.Provider{},
		TTS: &ttsmock.Provider{},
		LLM: &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "ok", FinishReason: "stop"}}},
		Bus: b,
	})
	t.Cleanup(h.CloseAll)

	return &offerEnv{handler: h, sessions: sessions, conns: conns, cc: cc}
}

func (e *offerEnv) post(t *testing.T, req OfferRequest) (*httptest.ResponseRecorder, OfferResponse) {
	t.Helper()
	body, _ := json.Marshal(req)
	r := httptest.NewRequest(http.MethodPost, "/api/offer", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, r)

	var resp OfferResponse
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestHandler_OpenChannel(t *testing.T) {
	env := newOfferEnv(t)

	rec, resp := env.post(t, OfferRequest{SDP: "v=0\r\n", Type: "offer", SessionID: "S", ThreadID: "T"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Type != "answer" || resp.SDP == "" || resp.PCID == "" {
		t.Fatalf("response = %+v", resp)
	}

	// The channel is bound to the session and attached to the control conn.
	if got := env.sessions.MediaForControl("ctrl-1"); got != resp.PCID {
		t.Errorf("MediaForControl = %q, want %q", got, resp.PCID)
	}
	sessID, threadID := env.cc.MediaSession()
	if sessID != resp.PCID || threadID != "T" {
		t.Errorf("MediaSession = %q, %q", sessID, threadID)
	}
	if env.cc.Inject() == nil {
		t.Error("no inject hook attached")
	}

	stats := env.handler.Stats()
	if len(stats) != 1 || stats[0].ControlID != "ctrl-1" || stats[0].SessionID != "S" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHandler_Renegotiate(t *testing.T) {
	env := newOfferEnv(t)

	_, first := env.post(t, OfferRequest{SDP: "v=0\r\n", Type: "offer", SessionID: "S"})

	rec, second := env.post(t, OfferRequest{SDP: "v=0\r\n", Type: "offer", PCID: first.PCID, ThreadID: "T2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if second.PCID != first.PCID {
		t.Errorf("pc_id changed on renegotiation: %q -> %q", first.PCID, second.PCID)
	}

	// The thread change follows through to the attached connection.
	if _, threadID := env.cc.MediaSession(); threadID != "T2" {
		t.Errorf("thread after renegotiation = %q, want T2", threadID)
	}
	if len(env.handler.Stats()) != 1 {
		t.Errorf("stats = %+v", env.handler.Stats())
	}
}

func TestHandler_RestartPC(t *testing.T) {
	env := newOfferEnv(t)

	_, first := env.post(t, OfferRequest{SDP: "v=0\r\n", Type: "offer", SessionID: "S"})
	rec, second := env.post(t, OfferRequest{SDP: "v=0\r\n", Type: "offer", PCID: first.PCID, RestartPC: true, SessionID: "S"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if second.PCID == first.PCID {
		t.Error("restart_pc kept the old pc_id")
	}
	if len(env.handler.Stats()) != 1 {
		t.Errorf("stats = %+v", env.handler.Stats())
	}
}

func TestHandler_UnknownSession(t *testing.T) {
	env := newOfferEnv(t)

	rec, _ := env.post(t, OfferRequest{SDP: "v=0\r\n", Type: "offer", SessionID: "missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != frame.CodeSessionNotFound {
		t.Errorf("code = %q", body["code"])
	}
}

func TestHandler_RejectsBadOffer(t *testing.T) {
	env := newOfferEnv(t)

	rec, _ := env.post(t, OfferRequest{SDP: "", Type: "offer"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing sdp: status = %d", rec.Code)
	}
	rec, _ = env.post(t, OfferRequest{SDP: "v=0\r\n", Type: "answer"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("wrong type: status = %d", rec.Code)
	}
}

func TestHandler_UnattachedWithoutSession(t *testing.T) {
	env := newOfferEnv(t)

	rec, resp := env.post(t, OfferRequest{SDP: "v=0\r\n", Type: "offer"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	// No session, no control linkage; the channel still runs.
	stats := env.handler.Stats()
	if len(stats) != 1 || stats[0].ControlID != "" {
		t.Errorf("stats = %+v", stats)
	}
	if got := env.sessions.ControlForMedia(resp.PCID); got != "" {
		t.Errorf("ControlForMedia = %q, want empty", got)
	}
}

func TestHandler_TurnDeliveryBlocksOnFullQueue(t *testing.T) {
	env := newOfferEnv(t)
	_, resp := env.post(t, OfferRequest{SDP: "v=0\r\n", Type: "offer", SessionID: "S", ThreadID: "T"})

	env.handler.mu.Lock()
	ch := env.handler.channels[resp.PCID]
	env.handler.mu.Unlock()

	for i := 0; i < conn.InputQueueSize; i++ {
		env.cc.Input <- conn.Turn{Text: "fill"}
	}

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		ch.pipe.enqueueTurn("the reply", "m1")
	}()

	select {
	case <-delivered:
		t.Fatal("enqueue returned against a full input queue")
	case <-time.After(50 * time.Millisecond):
	}

	<-env.cc.Input
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("turn never delivered after drain")
	}

	// The delivered turn sits last in the queue.
	var got conn.Turn
	for len(env.cc.Input) > 0 {
		got = <-env.cc.Input
	}
	if got.Text != "the reply" || got.Source != conn.SourceMedia || got.ThreadID != "T" {
		t.Errorf("turn = %+v", got)
	}
}

func TestHandler_TurnDeliveryAbandonedOnClose(t *testing.T) {
	env := newOfferEnv(t)
	_, resp := env.post(t, OfferRequest{SDP: "v=0\r\n", Type: "offer", SessionID: "S", ThreadID: "T"})

	env.handler.mu.Lock()
	ch := env.handler.channels[resp.PCID]
	env.handler.mu.Unlock()

	for i := 0; i < conn.InputQueueSize; i++ {
		env.cc.Input <- conn.Turn{Text: "fill"}
	}

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		ch.pipe.enqueueTurn("the reply", "m1")
	}()

	env.handler.Close(resp.PCID)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue still blocked after channel close")
	}
}

func TestHandler_CloseChannel(t *testing.T) {
	env := newOfferEnv(t)

	_, resp := env.post(t, OfferRequest{SDP: "v=0\r\n", Type: "offer", SessionID: "S", ThreadID: "T"})

	r := httptest.NewRequest(http.MethodDelete, "/api/offer?pc_id="+resp.PCID, nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}

	if len(env.handler.Stats()) != 0 {
		t.Errorf("stats = %+v", env.handler.Stats())
	}
	if got := env.sessions.MediaForControl("ctrl-1"); got != "" {
		t.Errorf("media still bound: %q", got)
	}
	if sessID, _ := env.cc.MediaSession(); sessID != "" {
		t.Errorf("media still attached: %q", sessID)
	}

	// Closing again reports not found.
	r = httptest.NewRequest(http.MethodDelete, "/api/offer?pc_id="+resp.PCID, nil)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second close: status = %d", rec.Code)
	}
}
