package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/adagate/internal/bus"
	"github.com/MrWong99/adagate/internal/conn"
	"github.com/MrWong99/adagate/internal/frame"
	"github.com/MrWong99/adagate/internal/history"
	"github.com/MrWong99/adagate/internal/prompts"
	"github.com/MrWong99/adagate/internal/session"
	"github.com/MrWong99/adagate/pkg/provider/llm"
	llmmock "github.com/MrWong99/adagate/pkg/provider/llm/mock"
	"github.com/MrWong99/adagate/pkg/provider/ui"
	uimock "github.com/MrWong99/adagate/pkg/provider/ui/mock"
)

type testEnv struct {
	handler  *Handler
	registry *conn.Registry
	hist     *history.Memory
	server   *httptest.Server
}

// newTestEnv stands up a handler with mock LLM and UI backends.
func newTestEnv(t *testing.T, llmProv llm.Provider, opts ...Option) *testEnv {
	t.Helper()

	ui.Register(ui.TypeOpenAI, func(cfg ui.Config) (ui.Provider, error) {
		return &uimock.Provider{Fragments: []string{"<p>", "rendered", "</p>"}}, nil
	})
	t.Cleanup(func() { ui.Register(ui.TypeOpenAI, nil) })

	b := bus.New()
	registry := conn.NewRegistry(b, nil)
	hist := history.NewMemory(0)
	h := NewHandler(registry, b, hist, prompts.NewStore(""), func(model, apiKeyEnv string) (llm.Provider, error) {
		return llmProv, nil
	}, opts...)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testEnv{handler: h, registry: registry, hist: hist, server: srv}
}

func (e *testEnv) dial(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func readFrame(t *testing.T, ctx context.Context, ws *websocket.Conn) frame.Frame {
	t.Helper()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return f
}

func sendJSON(t *testing.T, ctx context.Context, ws *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func testConfig() map[string]any {
	return map[string]any{
		"type": "connection_config",
		"config": map[string]any{
			"client_id": "tenant-1",
			"mcp_config": map[string]any{
				"model":   "gpt-4o-mini",
				"servers": []any{},
			},
			"visualization_provider": map[string]any{"provider_type": "openai"},
			"preferences":            map[string]any{"ui_framework": "tailwind"},
		},
	}
}

// awaitState reads frames until the named connection state arrives.
func awaitState(t *testing.T, ctx context.Context, ws *websocket.Conn, state string) {
	t.Helper()
	for {
		f := readFrame(t, ctx, ws)
		if f.Type == frame.KindError {
			t.Fatalf("error frame during handshake: %+v", f)
		}
		if f.Type == frame.KindConnectionState && f.State == state {
			return
		}
	}
}

func TestHandler_HandshakeAndChatTurn(t *testing.T) {
	llmProv := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Hello "}, {Text: "there!"},
	}}
	env := newTestEnv(t, llmProv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ws := env.dial(t, ctx)

	first := readFrame(t, ctx, ws)
	if first.Type != frame.KindConnectionEstablished || first.ConnectionID == "" {
		t.Fatalf("first frame = %+v", first)
	}
	connID := first.ConnectionID

	sendJSON(t, ctx, ws, testConfig())
	awaitState(t, ctx, ws, "ready")

	if cc, ok := env.registry.Get(connID); !ok || cc.ClientID != "tenant-1" {
		t.Fatalf("registry: %v, %v", cc, ok)
	}

	sendJSON(t, ctx, ws, map[string]any{"type": "chat", "message": "hi", "thread_id": "T"})

	var sawToken, sawDone bool
	for {
		f := readFrame(t, ctx, ws)
		switch f.Type {
		case frame.KindChatToken:
			sawToken = true
		case frame.KindChatDone:
			sawDone = true
		case frame.KindTextChatResponse:
			if !sawToken {
				t.Error("no chat tokens before the response")
			}
			if !sawDone {
				t.Error("no chat_done before the response")
			}
			if f.ThreadID != "T" || f.ContentType != frame.ContentHTML || f.Framework != "tailwind" {
				t.Errorf("response = %+v", f)
			}
			if !strings.Contains(f.Content, "rendered") {
				t.Errorf("content = %q", f.Content)
			}
			hist := env.hist.Get(connID, "T")
			if len(hist) == 0 || hist[len(hist)-1].Role != "assistant" {
				t.Errorf("history = %+v", hist)
			}
			return
		}
	}
}

func TestHandler_BindsSessionOnReady(t *testing.T) {
	sessions := session.NewRegistry()
	env := newTestEnv(t, &llmmock.Provider{}, WithSessions(sessions))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ws := env.dial(t, ctx)

	first := readFrame(t, ctx, ws)
	connID := first.ConnectionID

	sendJSON(t, ctx, ws, testConfig())
	awaitState(t, ctx, ws, "ready")

	info, ok := sessions.SessionForControl(connID)
	if !ok || info.SessionID != "tenant-1" {
		t.Fatalf("session for %q = %+v, %v", connID, info, ok)
	}

	ws.Close(websocket.StatusNormalClosure, "")
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := sessions.SessionForControl(connID); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session still bound after disconnect")
}

func TestHandler_ChatModelFallsBack(t *testing.T) {
	primary := &llmmock.Provider{StreamErr: errors.New("model overloaded")}
	backup := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "from backup"}}}
	models := map[string]llm.Provider{"gpt-4o-mini": primary, "gpt-4o": backup}

	newLLM := func(model, apiKeyEnv string) (llm.Provider, error) {
		p, ok := models[model]
		if !ok {
			return nil, fmt.Errorf("unknown model %q", model)
		}
		return p, nil
	}
	b := bus.New()
	h := NewHandler(conn.NewRegistry(b, nil), b, history.NewMemory(0), prompts.NewStore(""), newLLM,
		WithFallbackModels("no-such-model", "gpt-4o"))

	var cfg conn.Config
	cfg.MCP.Model = "gpt-4o-mini"

	chat, err := h.chatModel(cfg, slog.Default())
	if err != nil {
		t.Fatalf("chatModel: %v", err)
	}

	// The primary fails to open a stream, so the backup answers.
	ch, err := chat.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	var text string
	for c := range ch {
		text += c.Text
	}
	if text != "from backup" {
		t.Errorf("text = %q", text)
	}
	if len(primary.StreamCalls) != 1 || len(backup.StreamCalls) != 1 {
		t.Errorf("calls: primary = %d, backup = %d", len(primary.StreamCalls), len(backup.StreamCalls))
	}
}

func TestHandler_ChatModelWithoutFallbacks(t *testing.T) {
	primary := &llmmock.Provider{}
	b := bus.New()
	h := NewHandler(conn.NewRegistry(b, nil), b, history.NewMemory(0), prompts.NewStore(""),
		func(model, apiKeyEnv string) (llm.Provider, error) { return primary, nil })

	var cfg conn.Config
	cfg.MCP.Model = "gpt-4o-mini"

	chat, err := h.chatModel(cfg, slog.Default())
	if err != nil {
		t.Fatalf("chatModel: %v", err)
	}
	if chat != llm.Provider(primary) {
		t.Errorf("chat = %T, want the factory's provider unwrapped", chat)
	}
}

func TestHandler_RejectsBadConfig(t *testing.T) {
	env := newTestEnv(t, &llmmock.Provider{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws := env.dial(t, ctx)
	readFrame(t, ctx, ws) // connection_established

	sendJSON(t, ctx, ws, map[string]any{"type": "chat", "message": "too early"})

	f := readFrame(t, ctx, ws)
	if f.Type != frame.KindError || f.ErrorCode != frame.CodeInvalidConfigFormat {
		t.Fatalf("frame = %+v", f)
	}
}

func TestHandler_RejectsInvalidClientID(t *testing.T) {
	env := newTestEnv(t, &llmmock.Provider{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws := env.dial(t, ctx)
	readFrame(t, ctx, ws)

	cfg := testConfig()
	cfg["config"].(map[string]any)["client_id"] = ""
	sendJSON(t, ctx, ws, cfg)

	for {
		f := readFrame(t, ctx, ws)
		if f.Type == frame.KindError {
			if f.ErrorCode != frame.CodeConfigError {
				t.Fatalf("code = %q", f.ErrorCode)
			}
			return
		}
	}
}

func TestHandler_DuplicateInteractionSuppressed(t *testing.T) {
	llmProv := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Submitted."}}}
	env := newTestEnv(t, llmProv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ws := env.dial(t, ctx)
	readFrame(t, ctx, ws)
	sendJSON(t, ctx, ws, testConfig())
	awaitState(t, ctx, ws, "ready")

	interaction := map[string]any{
		"type": "user_interaction",
		"interaction": map[string]any{
			"interaction_type": "form_submit",
			"context":          map[string]any{"formId": "F", "formData": map[string]any{"a": 1}},
			"thread_id":        "T",
		},
	}
	sendJSON(t, ctx, ws, interaction)
	sendJSON(t, ctx, ws, interaction)

	// The duplicate is dropped, so exactly one displayed user message and one
	// AI turn come back.
	transcripts := 0
	for {
		f := readFrame(t, ctx, ws)
		if f.Type == frame.KindUserTranscription {
			transcripts++
		}
		if f.Type == frame.KindTextChatResponse {
			break
		}
	}
	if transcripts != 1 {
		t.Errorf("user transcripts = %d, want 1", transcripts)
	}

	// Nothing further should arrive for the suppressed duplicate.
	readCtx, cancelRead := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancelRead()
	if _, data, err := ws.Read(readCtx); err == nil {
		t.Errorf("unexpected extra frame: %s", data)
	}
}
