package media

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/adagate/internal/bus"
	"github.com/MrWong99/adagate/internal/conn"
	"github.com/MrWong99/adagate/internal/frame"
	"github.com/MrWong99/adagate/internal/session"
	"github.com/MrWong99/adagate/pkg/audio/webrtc"
	"github.com/MrWong99/adagate/pkg/types"
)

// OfferRequest is the body of the media negotiation endpoint. A request
// without a pc_id opens a new channel; a known pc_id renegotiates it unless
// restart_pc asks for a fresh one.
type OfferRequest struct {
	SDP       string `json:"sdp"`
	Type      string `json:"type"`
	PCID      string `json:"pc_id,omitempty"`
	RestartPC bool   `json:"restart_pc,omitempty"`

	// SessionID links the channel to a persistent session so the gateway can
	// resolve the owning control connection.
	SessionID string `json:"session_id,omitempty"`

	// ThreadID pins voice turns to a conversation thread. A new thread id is
	// minted when absent.
	ThreadID string `json:"thread_id,omitempty"`

	// BackendConnectionID names the control connection explicitly, bypassing
	// session resolution.
	BackendConnectionID string `json:"backend_connection_id,omitempty"`
}

// OfferResponse answers an [OfferRequest].
type OfferResponse struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
	PCID string `json:"pc_id"`
}

// Channel is one live media channel.
type Channel struct {
	PCID      string
	SessionID string
	ThreadID  string
	ControlID string

	conn      *webrtc.Connection
	pipe      *Pipeline
	cancel    context.CancelFunc
	createdAt time.Time
}

// Option configures a [Handler].
type Option func(*Handler)

// WithLogger sets the handler logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithVoice sets the TTS voice used for every channel.
func WithVoice(v types.VoiceProfile) Option {
	return func(h *Handler) { h.voice = v }
}

// WithSystemPrompt sets the voice-agent system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(h *Handler) { h.systemPrompt = prompt }
}

// WithSampleRates sets the capture and playback sample rates in Hz.
func WithSampleRates(capture, playback int) Option {
	return func(h *Handler) {
		h.captureRate = capture
		h.playbackRate = playback
	}
}

// WithKeywords sets the STT keyword boosts applied to every channel.
func WithKeywords(kw []types.KeywordBoost) Option {
	return func(h *Handler) { h.keywords = kw }
}

// Handler negotiates media channels and owns their pipelines. It serves:
//
//	POST   — SDP offer in, SDP answer out (open or renegotiate a channel)
//	DELETE — ?pc_id=… closes a channel
//
// All methods are safe for concurrent use.
type Handler struct {
	sessions *session.Registry
	conns    *conn.Registry
	b        *bus.Bus
	platform *webrtc.Platform
	deps     Deps
	log      *slog.Logger

	voice        types.VoiceProfile
	systemPrompt string
	keywords     []types.KeywordBoost
	captureRate  int
	playbackRate int

	mu       sync.Mutex
	channels map[string]*Channel
}

// pipelineDefaults snapshots the per-channel defaults under the lock.
func (h *Handler) pipelineDefaults() (types.VoiceProfile, string, []types.KeywordBoost) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.voice, h.systemPrompt, h.keywords
}

// SetVoice replaces the default TTS voice. Channels opened afterwards use the
// new voice; established channels keep the one they were opened with.
func (h *Handler) SetVoice(v types.VoiceProfile) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.voice = v
}

// SetSystemPrompt replaces the voice-agent system prompt for new channels.
func (h *Handler) SetSystemPrompt(prompt string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.systemPrompt = prompt
}

// SetKeywords replaces the STT keyword boosts for new channels.
func (h *Handler) SetKeywords(kw []types.KeywordBoost) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.keywords = kw
}

// NewHandler creates a media handler. sessions and conns resolve channel
// ownership; deps supplies the pipeline providers.
func NewHandler(sessions *session.Registry, conns *conn.Registry, b *bus.Bus, platform *webrtc.Platform, deps Deps, opts ...Option) *Handler {
	h := &Handler{
		sessions:     sessions,
		conns:        conns,
		b:            b,
		platform:     platform,
		deps:         deps,
		log:          slog.Default(),
		captureRate:  48000,
		playbackRate: 16000,
		channels:     make(map[string]*Channel),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleOffer(w, r)
	case http.MethodDelete:
		h.handleClose(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
	}
}

// handleOffer negotiates a channel. Known pc_ids renegotiate in place;
// restart_pc tears the old channel down and opens a new one.
func (h *Handler) handleOffer(w http.ResponseWriter, r *http.Request) {
	var req OfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	if req.SDP == "" || req.Type != "offer" {
		writeError(w, http.StatusBadRequest, "", "sdp and type=offer are required")
		return
	}

	if req.PCID != "" {
		h.mu.Lock()
		ch, known := h.channels[req.PCID]
		h.mu.Unlock()

		switch {
		case known && !req.RestartPC:
			h.renegotiate(w, r, ch, req)
			return
		case known && req.RestartPC:
			h.closeChannel(ch)
		default:
			// Stale pc_id from a previous gateway run; fall through and
			// open a fresh channel.
			h.log.Info("media: unknown pc_id on offer, opening new channel", "pc_id", req.PCID)
		}
	}

	h.open(w, r, req)
}

// renegotiate answers a repeat offer on a live channel, following any thread
// change the client requests.
func (h *Handler) renegotiate(w http.ResponseWriter, r *http.Request, ch *Channel, req OfferRequest) {
	answer, err := ch.conn.Negotiate(r.Context(), ch.PCID, req.SDP)
	if err != nil {
		h.log.Error("media: renegotiation failed", "pc_id", ch.PCID, "error", err)
		writeError(w, http.StatusInternalServerError, "", "renegotiation failed")
		return
	}

	if req.ThreadID != "" && req.ThreadID != ch.ThreadID {
		h.mu.Lock()
		ch.ThreadID = req.ThreadID
		h.mu.Unlock()
		if ch.SessionID != "" {
			_ = h.sessions.BindMedia(ch.SessionID, ch.PCID, req.ThreadID)
		}
		if ch.ControlID != "" {
			h.b.UpdateThread(ch.ControlID, req.ThreadID)
			if cc, ok := h.conns.Get(ch.ControlID); ok {
				cc.AttachMedia(ch.PCID, req.ThreadID, ch.pipe.Inject)
			}
		}
		h.log.Info("media: channel moved thread", "pc_id", ch.PCID, "thread_id", req.ThreadID)
	}

	writeJSON(w, OfferResponse{SDP: answer, Type: "answer", PCID: ch.PCID})
}

// open creates a channel, binds it into the session registry, attaches the
// owning control connection when one resolves, and starts the pipeline.
func (h *Handler) open(w http.ResponseWriter, r *http.Request, req OfferRequest) {
	pcID := uuid.NewString()
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	controlID := req.BackendConnectionID
	if req.SessionID != "" {
		if err := h.sessions.BindMedia(req.SessionID, pcID, threadID); err != nil {
			writeError(w, http.StatusNotFound, frame.CodeSessionNotFound, "unknown session")
			return
		}
		if controlID == "" {
			controlID = h.sessions.ControlForMedia(pcID)
		}
	}

	raw, err := h.platform.Connect(r.Context(), pcID)
	if err != nil {
		h.sessions.UnbindMedia(pcID)
		writeError(w, http.StatusInternalServerError, "", "media platform unavailable")
		return
	}
	wc := raw.(*webrtc.Connection)

	answer, err := wc.Negotiate(r.Context(), pcID, req.SDP)
	if err != nil {
		_ = wc.Disconnect()
		h.sessions.UnbindMedia(pcID)
		h.log.Error("media: negotiation failed", "pc_id", pcID, "error", err)
		writeError(w, http.StatusInternalServerError, "", "negotiation failed")
		return
	}

	var cc *conn.Context
	if controlID != "" {
		var ok bool
		if cc, ok = h.conns.Get(controlID); !ok {
			h.log.Warn("media: control connection not found, channel runs unattached",
				"pc_id", pcID, "control_id", controlID)
			cc = nil
			controlID = ""
		}
	}

	pctx, cancel := context.WithCancel(context.Background())

	// Turn delivery blocks on a full input queue so no finalized utterance is
	// lost; only channel teardown abandons the hand-off.
	var turn func(conn.Turn) bool
	if cc != nil {
		input := cc.Input
		turn = func(t conn.Turn) bool {
			select {
			case input <- t:
				return true
			case <-pctx.Done():
				return false
			}
		}
	}

	voice, prompt, keywords := h.pipelineDefaults()
	pipe := NewPipeline(PipelineConfig{
		MediaID:            pcID,
		ThreadID:           threadID,
		ControlID:          controlID,
		CaptureSampleRate:  h.captureRate,
		PlaybackSampleRate: h.playbackRate,
		Keywords:           keywords,
		Voice:              voice,
		SystemPrompt:       prompt,
	}, h.deps, wc.OutputWriter().Send, turn, WithPipelineLogger(h.log))

	if cc != nil {
		cc.AttachMedia(pcID, threadID, pipe.Inject)
		h.b.UpdateThread(controlID, threadID)
	}

	input, ok := wc.InputFor(pcID)
	if !ok {
		cancel()
		_ = wc.Disconnect()
		h.sessions.UnbindMedia(pcID)
		writeError(w, http.StatusInternalServerError, "", "negotiation failed")
		return
	}

	ch := &Channel{
		PCID:      pcID,
		SessionID: req.SessionID,
		ThreadID:  threadID,
		ControlID: controlID,
		conn:      wc,
		pipe:      pipe,
		cancel:    cancel,
		createdAt: time.Now(),
	}
	h.mu.Lock()
	h.channels[pcID] = ch
	h.mu.Unlock()

	go func() {
		if err := pipe.Run(pctx, input); err != nil && pctx.Err() == nil {
			h.log.Error("media: pipeline stopped", "pc_id", pcID, "error", err)
		}
	}()

	h.log.Info("media: channel opened",
		"pc_id", pcID, "session_id", req.SessionID, "thread_id", threadID, "control_id", controlID)
	writeJSON(w, OfferResponse{SDP: answer, Type: "answer", PCID: pcID})
}

// handleClose tears down the channel named by the pc_id query parameter.
func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	pcID := r.URL.Query().Get("pc_id")
	if pcID == "" {
		writeError(w, http.StatusBadRequest, "", "pc_id is required")
		return
	}
	if !h.Close(pcID) {
		writeError(w, http.StatusNotFound, "", "unknown pc_id")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Close tears down one channel. Reports whether the pc_id was known.
func (h *Handler) Close(pcID string) bool {
	h.mu.Lock()
	ch, ok := h.channels[pcID]
	delete(h.channels, pcID)
	h.mu.Unlock()
	if !ok {
		return false
	}
	h.closeChannel(ch)
	return true
}

// CloseAll tears down every channel; used on shutdown.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	chans := make([]*Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		chans = append(chans, ch)
	}
	h.channels = make(map[string]*Channel)
	h.mu.Unlock()

	for _, ch := range chans {
		h.closeChannel(ch)
	}
}

// closeChannel stops the pipeline, releases the transport, and unbinds the
// channel from its session and control connection.
func (h *Handler) closeChannel(ch *Channel) {
	ch.cancel()
	_ = ch.conn.Disconnect()
	h.sessions.UnbindMedia(ch.PCID)
	if ch.ControlID != "" {
		if cc, ok := h.conns.Get(ch.ControlID); ok {
			cc.DetachMedia()
		}
	}
	h.mu.Lock()
	delete(h.channels, ch.PCID)
	h.mu.Unlock()
	h.log.Info("media: channel closed", "pc_id", ch.PCID)
}

// ChannelStats describes one live channel for the diagnostics endpoint.
type ChannelStats struct {
	PCID      string    `json:"pc_id"`
	SessionID string    `json:"session_id,omitempty"`
	ThreadID  string    `json:"thread_id"`
	ControlID string    `json:"control_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats returns a snapshot of all live channels.
func (h *Handler) Stats() []ChannelStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ChannelStats, 0, len(h.channels))
	for _, ch := range h.channels {
		out = append(out, ChannelStats{
			PCID:      ch.PCID,
			SessionID: ch.SessionID,
			ThreadID:  ch.ThreadID,
			ControlID: ch.ControlID,
			CreatedAt: ch.createdAt,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"error": msg}
	if code != "" {
		body["code"] = code
	}
	_ = json.NewEncoder(w).Encode(body)
}
