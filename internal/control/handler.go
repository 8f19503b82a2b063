// Package control implements the WebSocket control channel: the config
// handshake, the per-connection sender/receiver/bus-bridge tasks, and the
// text chat path through the tool-aware LLM wrapper.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/adagate/internal/bus"
	"github.com/MrWong99/adagate/internal/conn"
	"github.com/MrWong99/adagate/internal/enhance"
	"github.com/MrWong99/adagate/internal/frame"
	"github.com/MrWong99/adagate/internal/history"
	"github.com/MrWong99/adagate/internal/interact"
	"github.com/MrWong99/adagate/internal/prompts"
	"github.com/MrWong99/adagate/internal/resilience"
	"github.com/MrWong99/adagate/internal/session"
	"github.com/MrWong99/adagate/internal/toolhost"
	"github.com/MrWong99/adagate/internal/worker"
	"github.com/MrWong99/adagate/pkg/provider/llm"
	"github.com/MrWong99/adagate/pkg/provider/ui"
)

// HandshakeTimeout is how long the client has to send its configuration
// after connection_established.
const HandshakeTimeout = 30 * time.Second

// writeTimeout bounds a single channel write.
const writeTimeout = 10 * time.Second

// LLMFactory builds the per-connection chat model from the client
// configuration.
type LLMFactory func(model, apiKeyEnv string) (llm.Provider, error)

// Handler serves the control channel. One Handler serves every tenant; all
// per-connection state lives in the registry.
type Handler struct {
	registry *conn.Registry
	bus      *bus.Bus
	hist     *history.Memory
	prompts  *prompts.Store
	newLLM   LLMFactory
	log      *slog.Logger

	archiver       *history.Archiver
	sessions       *session.Registry
	maxServers     int
	onTurnErr      func()
	fallbackModels []string
}

// Option configures a [Handler].
type Option func(*Handler)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithArchiver enables durable write-behind history for every connection.
func WithArchiver(a *history.Archiver) Option {
	return func(h *Handler) { h.archiver = a }
}

// WithSessions binds every ready connection to a session keyed by its client
// id, so media channels can resolve the owning control connection.
func WithSessions(s *session.Registry) Option {
	return func(h *Handler) { h.sessions = s }
}

// WithMaxServers caps the tool-server list a tenant may configure.
func WithMaxServers(n int) Option {
	return func(h *Handler) { h.maxServers = n }
}

// WithTurnErrorHook installs the failed-turn metric callback passed to every
// worker.
func WithTurnErrorHook(fn func()) Option {
	return func(h *Handler) { h.onTurnErr = fn }
}

// WithFallbackModels names models tried, in order, when the configured chat
// model fails.
func WithFallbackModels(models ...string) Option {
	return func(h *Handler) { h.fallbackModels = models }
}

// NewHandler wires the control channel over the shared registries.
func NewHandler(registry *conn.Registry, b *bus.Bus, hist *history.Memory, store *prompts.Store, newLLM LLMFactory, opts ...Option) *Handler {
	h := &Handler{
		registry: registry,
		bus:      b,
		hist:     hist,
		prompts:  store,
		newLLM:   newLLM,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request and runs the connection to completion.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(frame.MaxInboundBytes)

	connID := uuid.NewString()
	cc := conn.NewContext(connID)
	if err := h.registry.Register(cc); err != nil {
		h.log.Error("connection registration failed", "error", err)
		ws.Close(websocket.StatusInternalError, "registration failed")
		return
	}
	log := h.log.With("connection_id", connID)
	log.Info("control channel accepted", "remote", r.RemoteAddr)

	defer func() {
		if h.sessions != nil {
			h.sessions.UnbindControl(cc.ID)
		}
		h.registry.Teardown(cc)
		ws.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	if err := h.writeFrame(ctx, ws, frame.NewConnectionEstablished(connID)); err != nil {
		log.Warn("failed to send connection_established", "error", err)
		return
	}

	live, err := h.handshake(ctx, ws, cc, log)
	if err != nil {
		log.Warn("handshake failed", "error", err)
		return
	}
	h.serve(ctx, ws, live, log)
}

// liveConn bundles the per-connection collaborators built by the handshake.
type liveConn struct {
	cc     *conn.Context
	agent  *Agent
	dedupe *interact.Deduper
	log    *slog.Logger
}

// handshake awaits the configuration frame, validates it, and runs the state
// machine through ready, including tool host and UI provider initialization
// and the worker spawn.
func (h *Handler) handshake(ctx context.Context, ws *websocket.Conn, cc *conn.Context, log *slog.Logger) (*liveConn, error) {
	readCtx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	_, data, err := ws.Read(readCtx)
	if err != nil {
		code := frame.CodeConfigError
		if readCtx.Err() == context.DeadlineExceeded {
			code = frame.CodeConfigTimeout
		}
		h.sendError(ctx, ws, cc.ID, code, "configuration not received")
		return nil, fmt.Errorf("control: read config: %w", err)
	}

	in, err := frame.DecodeInbound(data)
	if err != nil || in.Type != frame.KindConnectionConfig {
		h.sendError(ctx, ws, cc.ID, frame.CodeInvalidConfigFormat, "expected a connection_config frame")
		return nil, fmt.Errorf("control: bad config frame: %v", err)
	}

	cfg, err := conn.DecodeConfig(in.Config)
	if err != nil {
		h.sendError(ctx, ws, cc.ID, frame.CodeInvalidConfigFormat, err.Error())
		return nil, err
	}
	_ = cc.SetState(conn.StateConfigReceived, "Configuration received")

	_ = cc.SetState(conn.StateValidating, "Validating configuration")
	if err := cfg.Validate(h.maxServers); err != nil {
		h.sendError(ctx, ws, cc.ID, frame.CodeConfigError, err.Error())
		_ = cc.SetState(conn.StateError, err.Error())
		return nil, err
	}
	cc.Cfg = cfg
	cc.ClientID = cfg.ClientID

	_ = cc.SetState(conn.StateMCPInitializing, "Connecting tool servers")
	tools := toolhost.New(toolhost.WithLogger(log))
	plannerDef, plannerFn := toolhost.PlannerTool()
	if err := tools.RegisterBuiltin(plannerDef, plannerFn); err != nil {
		log.Warn("planner registration failed", "error", err)
	}
	if err := tools.Initialize(ctx, cfg.ToolServers()); err != nil {
		h.sendError(ctx, ws, cc.ID, frame.CodeToolServerInitFailed, err.Error())
		_ = cc.SetState(conn.StateError, err.Error())
		return nil, err
	}
	cc.Tools = tools

	_ = cc.SetState(conn.StateVizInitializing, "Starting visualization provider")
	uiCfg := cfg.UIConfig(h.prompts.ForFramework(providerPromptKey(cfg)))
	provider, err := ui.New(uiCfg)
	if err == nil {
		err = provider.Initialize(ctx)
	}
	if err != nil {
		h.sendError(ctx, ws, cc.ID, frame.CodeProviderInitFailed, err.Error())
		_ = cc.SetState(conn.StateError, err.Error())
		return nil, err
	}
	cc.UI = provider

	chatLLM, err := h.chatModel(cfg, log)
	if err != nil {
		h.sendError(ctx, ws, cc.ID, frame.CodeConfigError, err.Error())
		_ = cc.SetState(conn.StateError, err.Error())
		return nil, err
	}

	decider := enhance.New(chatLLM, tools, h.prompts.Load(prompts.Enhancement), enhance.WithLogger(log))
	opts := []worker.Option{worker.WithLogger(log)}
	if h.archiver != nil {
		opts = append(opts, worker.WithArchiver(h.archiver))
	}
	if h.onTurnErr != nil {
		opts = append(opts, worker.WithErrorHook(h.onTurnErr))
	}
	worker.New(cc, decider, h.hist, opts...).Start(ctx)

	if err := cc.SetState(conn.StateReady, "Connection ready"); err != nil {
		return nil, err
	}
	if h.sessions != nil {
		h.sessions.BindControl(cfg.ClientID, cc.ID, "")
	}
	return &liveConn{
		cc:     cc,
		agent:  NewAgent(chatLLM, tools, h.prompts.Load(prompts.VoiceAgent), log),
		dedupe: interact.NewDeduper(interact.DefaultWindow),
		log:    log,
	}, nil
}

// chatModel builds the connection's chat backend: the configured model wrapped
// in a fallback chain over the server's fallback models. A fallback model that
// fails to construct is skipped with a warning so one bad entry never blocks
// the handshake.
func (h *Handler) chatModel(cfg conn.Config, log *slog.Logger) (llm.Provider, error) {
	primary, err := h.newLLM(cfg.MCP.Model, cfg.MCP.APIKeyEnv)
	if err != nil {
		return nil, err
	}
	if len(h.fallbackModels) == 0 {
		return primary, nil
	}

	chain := resilience.NewLLMFallback(primary, cfg.MCP.Model, resilience.FallbackConfig{})
	for _, model := range h.fallbackModels {
		if model == cfg.MCP.Model {
			continue
		}
		fb, err := h.newLLM(model, cfg.MCP.APIKeyEnv)
		if err != nil {
			log.Warn("fallback model unavailable", "model", model, "error", err)
			continue
		}
		chain.AddFallback(model, fb)
	}
	return chain, nil
}

// providerPromptKey picks the prompt family for the configured provider.
func providerPromptKey(cfg conn.Config) string {
	switch cfg.Visualization.ProviderType {
	case ui.TypeThesys, ui.TypeGoogle, ui.TypeTomorrow:
		return "c1"
	}
	return cfg.Framework()
}

// serve runs the sender, receiver, and bus-bridge until one of them stops;
// the shared errgroup context then cancels the siblings.
func (h *Handler) serve(parent context.Context, ws *websocket.Conn, live *liveConn, log *slog.Logger) {
	g, ctx := errgroup.WithContext(parent)

	g.Go(func() error { return h.sender(ctx, ws, live.cc) })
	g.Go(func() error { return h.receiver(ctx, ws, live) })
	g.Go(func() error { return h.busBridge(ctx, live.cc, log) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Info("connection loop ended", "error", err)
	}
}

// sender drains the output queue onto the channel in FIFO order. A write
// failure ends the connection.
func (h *Handler) sender(ctx context.Context, ws *websocket.Conn, cc *conn.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-cc.Output:
			if err := h.writeFrame(ctx, ws, f); err != nil {
				return fmt.Errorf("control: write frame: %w", err)
			}
		}
	}
}

// receiver reads client frames and dispatches them strictly sequentially.
func (h *Handler) receiver(ctx context.Context, ws *websocket.Conn, live *liveConn) error {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("control: read: %w", err)
		}
		live.cc.Touch()

		in, err := frame.DecodeInbound(data)
		if err != nil {
			live.log.Warn("undecodable client frame", "error", err)
			continue
		}
		h.dispatch(ctx, live, in)
	}
}

// busBridge forwards broadcast voice frames into the output queue without
// blocking; a full queue drops the frame.
func (h *Handler) busBridge(ctx context.Context, cc *conn.Context, log *slog.Logger) error {
	_, threadID := cc.MediaSession()
	ch := h.bus.Subscribe(cc.ID, threadID, conn.OutputQueueSize)
	defer h.bus.Unsubscribe(cc.ID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-ch:
			select {
			case cc.Output <- f:
			default:
				log.Warn("output queue full, bus frame dropped", "kind", f.Type)
			}
		}
	}
}

func (h *Handler) writeFrame(ctx context.Context, ws *websocket.Conn, f frame.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("control: marshal frame: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}

func (h *Handler) sendError(ctx context.Context, ws *websocket.Conn, connID, code, message string) {
	if err := h.writeFrame(ctx, ws, frame.NewError(connID, code, message)); err != nil {
		h.log.Debug("error frame not delivered", "code", code, "error", err)
	}
}
