// Package app wires all Adagate subsystems into a running gateway.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in reverse order.
//
// For testing, inject mock providers through the [Providers] struct and
// override subsystems with functional options.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/adagate/internal/bus"
	"github.com/MrWong99/adagate/internal/config"
	"github.com/MrWong99/adagate/internal/conn"
	"github.com/MrWong99/adagate/internal/control"
	"github.com/MrWong99/adagate/internal/health"
	"github.com/MrWong99/adagate/internal/history"
	"github.com/MrWong99/adagate/internal/media"
	"github.com/MrWong99/adagate/internal/observe"
	"github.com/MrWong99/adagate/internal/prompts"
	"github.com/MrWong99/adagate/internal/session"
	"github.com/MrWong99/adagate/pkg/audio/webrtc"
	"github.com/MrWong99/adagate/pkg/provider/embeddings"
	"github.com/MrWong99/adagate/pkg/provider/llm"
	"github.com/MrWong99/adagate/pkg/provider/stt"
	"github.com/MrWong99/adagate/pkg/provider/tts"
	"github.com/MrWong99/adagate/pkg/provider/vad"
	"github.com/MrWong99/adagate/pkg/types"
)

// sweepInterval is how often the background sweep evicts idle connections,
// stale bus subscriptions, and expired sessions.
const sweepInterval = 5 * time.Minute

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
	VAD        vad.Engine
}

// App owns all subsystem lifetimes and serves the gateway's HTTP surface.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics

	bus      *bus.Bus
	sessions *session.Registry
	conns    *conn.Registry
	hist     *history.Memory
	store    *history.Store
	archiver *history.Archiver
	prompts  *prompts.Store
	control  *control.Handler
	media    *media.Handler
	mux      *http.ServeMux
	srv      *http.Server

	newLLM control.LLMFactory

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *App) {
		if log != nil {
			a.log = log
		}
	}
}

// WithMetrics injects a Metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithPrompts injects a prompt store instead of the built-in defaults.
func WithPrompts(s *prompts.Store) Option {
	return func(a *App) { a.prompts = s }
}

// WithLLMFactory overrides the per-connection chat model factory.
func WithLLMFactory(f control.LLMFactory) Option {
	return func(a *App) { a.newLLM = f }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (populated via the config registry).
//
// The media endpoint is only mounted when the STT, TTS, and LLM providers are
// all configured; a control-channel-only deployment is valid.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.prompts == nil {
		a.prompts = prompts.NewStore("")
	}
	if a.newLLM == nil {
		a.newLLM = DefaultLLMFactory(providers.LLM)
	}

	// Shared registries. Every dropped bus frame feeds the queue metric.
	a.bus = bus.New(bus.WithDropHook(func(connectionID string) {
		a.metrics.RecordQueueDrop(context.Background(), "bus")
	}))
	a.sessions = session.NewRegistry()
	a.conns = conn.NewRegistry(a.bus, a.log)
	a.hist = history.NewMemory(0)

	if err := a.initHistoryStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init history store: %w", err)
	}
	a.initControl()
	a.initMedia()
	a.initMux()

	return a, nil
}

// initHistoryStore connects the optional durable transcript store and its
// write-behind archiver.
func (a *App) initHistoryStore(ctx context.Context) error {
	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		return nil
	}

	dims := a.cfg.Memory.EmbeddingDimensions
	if dims == 0 {
		dims = 1536 // default for OpenAI text-embedding-3-small
	}

	store, err := history.NewStore(ctx, dsn, dims)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})

	a.archiver = history.NewArchiver(store, a.providers.Embeddings, a.log)
	a.closers = append(a.closers, func() error {
		a.archiver.Close()
		return nil
	})
	return nil
}

// initControl builds the control-channel handler.
func (a *App) initControl() {
	opts := []control.Option{
		control.WithLogger(a.log),
		control.WithSessions(a.sessions),
		control.WithTurnErrorHook(func() {
			a.metrics.RecordProviderError(context.Background(), "worker", "turn")
		}),
	}
	if a.archiver != nil {
		opts = append(opts, control.WithArchiver(a.archiver))
	}
	if fb := a.cfg.Providers.LLM.FallbackModels; len(fb) > 0 {
		opts = append(opts, control.WithFallbackModels(fb...))
	}
	a.control = control.NewHandler(a.conns, a.bus, a.hist, a.prompts, a.newLLM, opts...)
}

// initMedia builds the media-channel handler when the voice path is viable.
func (a *App) initMedia() {
	p := a.providers
	if p.STT == nil || p.TTS == nil || p.LLM == nil {
		a.log.Warn("media channel disabled; stt, tts, and llm providers are all required")
		return
	}

	m := a.cfg.Media
	a.media = media.NewHandler(a.sessions, a.conns, a.bus, webrtc.New(), media.Deps{
		STT:  p.STT,
		TTS:  p.TTS,
		LLM:  p.LLM,
		VAD:  p.VAD,
		Bus:  a.bus,
		Hist: a.hist,
	},
		media.WithLogger(a.log),
		media.WithVoice(voiceProfile(m.Voice)),
		media.WithSystemPrompt(m.SystemPrompt),
		media.WithSampleRates(m.CaptureSampleRate, m.PlaybackSampleRate),
		media.WithKeywords(keywordBoosts(m.Keywords)),
	)
}

// initMux assembles the HTTP surface.
func (a *App) initMux() {
	mux := http.NewServeMux()

	mux.Handle("GET /ws", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.metrics.ActiveConnections.Add(r.Context(), 1)
		defer a.metrics.ActiveConnections.Add(context.Background(), -1)
		a.control.ServeHTTP(w, r)
	}))

	if a.media != nil {
		mux.Handle("/api/offer", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			before := len(a.media.Stats())
			a.media.ServeHTTP(w, r)
			if delta := len(a.media.Stats()) - before; delta != 0 {
				a.metrics.ActiveMediaChannels.Add(r.Context(), int64(delta))
			}
		}))
	}

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/connections", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.conns.Stats())
	})
	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.sessions.Stats())
	})
	mux.HandleFunc("GET /api/voice-bus", func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]any{"bus": a.bus.Stats()}
		if a.media != nil {
			resp["channels"] = a.media.Stats()
		}
		writeJSON(w, resp)
	})

	var checkers []health.Checker
	if a.store != nil {
		checkers = append(checkers, health.Checker{Name: "history", Check: a.store.Ping})
	}
	health.New(checkers...).Register(mux)

	a.mux = mux
}

// Handler returns the gateway's full HTTP surface, wrapped in the metrics
// middleware. Useful for tests that serve the app through httptest.
func (a *App) Handler() http.Handler {
	return observe.Middleware(a.metrics)(a.mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and runs the background sweep until ctx is cancelled, then
// returns ctx.Err(). Server failures surface immediately.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.srv = &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			a.log.Info("listening", "addr", addr, "tls", true)
			err = a.srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			a.log.Info("listening", "addr", addr)
			err = a.srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return fmt.Errorf("app: serve: %w", err)
		case <-ticker.C:
			a.sweep()
		}
	}
}

// sweep evicts idle connections, stale bus subscriptions, and expired
// sessions.
func (a *App) sweep() {
	if n := a.conns.Sweep(conn.HandshakeIdle, conn.ActiveIdle); n > 0 {
		a.log.Info("swept idle connections", "count", n)
	}
	if n := a.bus.SweepStale(bus.StaleAfter); n > 0 {
		a.log.Info("swept stale bus subscriptions", "count", n)
	}
	if n := a.sessions.Sweep(session.DefaultTTL); n > 0 {
		a.log.Info("swept expired sessions", "count", n)
	}
}

// ApplyConfig applies a hot-reload diff. Only fields the running gateway can
// change safely are honored; everything else requires a restart.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if a.media != nil {
		if d.VoiceChanged {
			a.media.SetVoice(voiceProfile(d.NewVoice))
			a.log.Info("default voice updated", "voice_id", d.NewVoice.VoiceID)
		}
		if d.PromptChanged {
			a.media.SetSystemPrompt(d.NewPrompt)
			a.log.Info("voice system prompt updated")
		}
		if d.KeywordsChanged {
			a.media.SetKeywords(keywordBoosts(d.NewKeywords))
			a.log.Info("keyword boosts updated", "count", len(d.NewKeywords))
		}
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, closes every media channel, and tears down
// all subsystems in reverse-init order. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if a.srv != nil {
			if err := a.srv.Shutdown(ctx); err != nil {
				a.log.Warn("http shutdown error", "error", err)
			}
		}
		if a.media != nil {
			a.media.CloseAll()
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// voiceProfile converts a config.VoiceConfig to the provider form.
func voiceProfile(vc config.VoiceConfig) types.VoiceProfile {
	return types.VoiceProfile{
		ID:          vc.VoiceID,
		Provider:    vc.Provider,
		PitchShift:  vc.PitchShift,
		SpeedFactor: vc.SpeedFactor,
	}
}

// keywordBoosts converts config keyword entries to the provider form.
func keywordBoosts(kws []config.KeywordConfig) []types.KeywordBoost {
	if len(kws) == 0 {
		return nil
	}
	out := make([]types.KeywordBoost, len(kws))
	for i, kw := range kws {
		out[i] = types.KeywordBoost{Keyword: kw.Phrase, Boost: kw.Boost}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
