// Package worker runs the per-connection turn loop: it drains the input
// queue, makes the enhancement decision, and streams the resulting UI payload
// onto the connection's output queue. One worker goroutine per connection is
// the ordering guarantee: responses leave in the order turns arrived.
package worker

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/adagate/internal/conn"
	"github.com/MrWong99/adagate/internal/enhance"
	"github.com/MrWong99/adagate/internal/frame"
	"github.com/MrWong99/adagate/internal/history"
	"github.com/MrWong99/adagate/internal/htmlui"
	"github.com/MrWong99/adagate/internal/observe"
	"github.com/MrWong99/adagate/internal/resilience"
	"github.com/MrWong99/adagate/pkg/provider/ui"
	"github.com/MrWong99/adagate/pkg/types"
)

// promptWindow is how many trailing history items join the generation prompt.
const promptWindow = 3

// Worker processes the turns of one connection.
type Worker struct {
	conn    *conn.Context
	decider *enhance.Decider
	hist    *history.Memory
	arch    *history.Archiver
	log     *slog.Logger
	met     *observe.Metrics

	// breaker guards the UI provider so a dead backend fails fast instead of
	// burning a full timeout on every turn.
	breaker *resilience.CircuitBreaker

	// onError is invoked once per failed turn, for metrics.
	onError func()
}

// Option configures a [Worker].
type Option func(*Worker)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) { w.log = log }
}

// WithArchiver enables durable write-behind history.
func WithArchiver(a *history.Archiver) Option {
	return func(w *Worker) { w.arch = a }
}

// WithErrorHook installs a callback fired when a turn fails.
func WithErrorHook(fn func()) Option {
	return func(w *Worker) { w.onError = fn }
}

// WithMetrics overrides the package-default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Worker) { w.met = m }
}

// New builds a worker for c. decider makes the enhancement decision; hist is
// the in-memory conversation history shared with the channel handlers.
func New(c *conn.Context, decider *enhance.Decider, hist *history.Memory, opts ...Option) *Worker {
	w := &Worker{
		conn:    c,
		decider: decider,
		hist:    hist,
		log:     slog.Default().With("connection_id", c.ID),
		met:     observe.DefaultMetrics(),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "ui-provider",
		}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start launches the worker loop and registers its lifecycle with the
// connection context.
func (w *Worker) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	w.conn.StartWorker(cancel, done)
	go func() {
		defer close(done)
		w.run(ctx)
	}()
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case turn := <-w.conn.Input:
			w.process(ctx, turn)
		}
	}
}

// process handles one turn end to end. It never panics the loop and never
// fails silently: every error path emits an error frame.
func (w *Worker) process(ctx context.Context, turn conn.Turn) {
	text := strings.TrimSpace(turn.Text)
	if text == "" {
		w.log.Debug("dropping empty turn", "source", turn.Source)
		return
	}
	if w.conn.State() == conn.StateReady {
		if err := w.conn.SetState(conn.StateActive, "Processing first turn"); err != nil {
			w.log.Debug("active transition skipped", "error", err)
		}
	}
	w.conn.Touch()
	started := time.Now()

	messageID := turn.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	prior := w.history(turn.ThreadID)

	var decision enhance.Decision
	if turn.Source == conn.SourceText {
		decision = enhance.Bypass(text)
	} else {
		decision = w.decider.Decide(ctx, text, prior, enhance.InjectFunc(w.conn.Inject()))
	}

	w.record(turn.ThreadID, decision.DisplayText)

	if !decision.Enhance {
		w.sendPlain(ctx, turn, decision)
	} else {
		w.sendEnhanced(ctx, turn, messageID, decision, prior)
	}

	w.met.RecordVoiceTurn(ctx, turn.Source)
	w.met.EnhancementDuration.Record(ctx, time.Since(started).Seconds())
}

// history returns the recent turns of the thread, oldest first.
func (w *Worker) history(threadID string) []types.Message {
	if w.hist == nil {
		return nil
	}
	return w.hist.Get(w.conn.ID, threadID)
}

// record appends the assistant turn to in-memory history and, when durable
// history is enabled, queues it for archival.
func (w *Worker) record(threadID, content string) {
	msg := types.Message{Role: "assistant", Content: content}
	if w.hist != nil {
		w.hist.Append(w.conn.ID, threadID, msg)
	}
	if w.arch != nil {
		w.arch.Record(w.conn.ID, threadID, msg)
	}
}

// sendPlain emits the non-enhanced response as one complete frame: a simple
// card in the payload style of the connection's provider.
func (w *Worker) sendPlain(ctx context.Context, turn conn.Turn, decision enhance.Decision) {
	content, contentType := w.simpleCard(decision.DisplayText)
	w.send(ctx, w.responseFrame(turn, content, decision.VoiceOverText, contentType))
}

// simpleCard renders text as a complete card: a component tree for c1
// providers, an escaped framework-styled card otherwise.
func (w *Worker) simpleCard(text string) (content, contentType string) {
	if w.providerKind() == ui.KindC1 {
		return c1TextCard(text), frame.ContentC1
	}
	framework := w.conn.Cfg.Framework()
	card := htmlui.SimpleMessage(htmlui.EscapeHTML(text), framework)
	return htmlui.EnsureWrapped(card, framework), frame.ContentHTML
}

// providerKind reports the payload style of the connection's UI provider.
// Without a provider the local HTML rendering applies.
func (w *Worker) providerKind() string {
	if w.conn.UI == nil {
		return ui.KindHTML
	}
	return w.conn.UI.Kind()
}

// sendEnhanced streams the provider's UI payload as tokens, then closes the
// turn with chat_done and the complete response frame. prior is the thread
// history before the current turn was recorded.
func (w *Worker) sendEnhanced(ctx context.Context, turn conn.Turn, messageID string, decision enhance.Decision, prior []types.Message) {
	provider := w.conn.UI
	if provider == nil {
		w.log.Warn("no ui provider, falling back to plain response")
		w.sendPlain(ctx, turn, decision)
		return
	}

	w.send(ctx, frame.NewEnhancementStarted(messageID))

	messages := w.promptMessages(provider, prior, decision.DisplayText)

	var stream <-chan string
	err := w.breaker.Execute(func() error {
		var startErr error
		stream, startErr = provider.StreamResponse(ctx, messages)
		return startErr
	})
	providerType := w.conn.Cfg.Visualization.ProviderType
	if err != nil {
		w.met.RecordProviderRequest(ctx, providerType, "ui", "error")
		w.fail(ctx, turn, decision, frame.CodeProviderStreamError, err)
		return
	}
	w.met.RecordProviderRequest(ctx, providerType, "ui", "ok")

	token := frame.NewHTMLToken
	contentType := frame.ContentHTML
	if provider.Kind() == ui.KindC1 {
		token = frame.NewC1Token
		contentType = frame.ContentC1
	}

	var full strings.Builder
	for fragment := range stream {
		full.WriteString(fragment)
		w.send(ctx, token(messageID, fragment))
	}
	if full.Len() == 0 {
		w.fail(ctx, turn, decision, frame.CodeProviderStreamError, errEmptyStream)
		return
	}

	content := full.String()
	if contentType == frame.ContentHTML {
		content = htmlui.EnsureWrapped(content, w.conn.Cfg.Framework())
	}
	w.send(ctx, frame.NewChatDone(messageID, content))
	w.send(ctx, w.responseFrame(turn, content, decision.VoiceOverText, contentType))
}

// promptMessages assembles the generation transcript: the provider's system
// prompt with the tool list, the trailing user and assistant history of the
// thread, and the display text as the assistant turn to visualize.
func (w *Worker) promptMessages(provider ui.Provider, prior []types.Message, displayText string) []types.Message {
	recent := make([]types.Message, 0, promptWindow)
	for _, m := range prior {
		if m.Role == "user" || m.Role == "assistant" {
			recent = append(recent, m)
		}
	}
	if len(recent) > promptWindow {
		recent = recent[len(recent)-promptWindow:]
	}

	messages := make([]types.Message, 0, len(recent)+2)
	messages = append(messages, types.Message{Role: "system", Content: provider.SystemPrompt(w.tools())})
	messages = append(messages, recent...)
	messages = append(messages, types.Message{Role: "assistant", Content: displayText})
	return messages
}

// tools returns the connection's tool descriptors, nil before the tool host
// is attached.
func (w *Worker) tools() []types.ToolDefinition {
	if w.conn.Tools == nil {
		return nil
	}
	return w.conn.Tools.ListTools()
}

// fail reports a turn failure and renders an error card in the provider's
// payload style so the client sees the failure in a normal response frame.
func (w *Worker) fail(ctx context.Context, turn conn.Turn, decision enhance.Decision, code string, err error) {
	w.log.Error("turn failed", "error", err, "code", code)
	if w.onError != nil {
		w.onError()
	}
	w.send(ctx, frame.NewError(w.conn.ID, code, err.Error()))

	detail := "Failed to process your message: " + err.Error()
	var content, contentType string
	if w.providerKind() == ui.KindC1 {
		content, contentType = c1ErrorCard(detail), frame.ContentC1
	} else {
		content = htmlui.ErrorMessage(htmlui.EscapeHTML(detail), w.conn.Cfg.Framework())
		contentType = frame.ContentHTML
	}
	w.send(ctx, w.responseFrame(turn, content, decision.VoiceOverText, contentType))
}

// responseFrame builds the complete response for the turn's source: media
// turns produce a voice_response, text turns a thread-scoped
// text_chat_response.
func (w *Worker) responseFrame(turn conn.Turn, content, voiceText, contentType string) frame.Frame {
	framework := w.conn.Cfg.Framework()
	if turn.Source == conn.SourceText {
		return frame.NewTextChatResponse(content, turn.ThreadID, contentType, framework)
	}
	return frame.NewVoiceResponse(content, voiceText, contentType, framework)
}

// send places a frame on the output queue, blocking until the sender makes
// room. Response ordering relies on this path never skipping a frame; only
// worker shutdown abandons the send.
func (w *Worker) send(ctx context.Context, f frame.Frame) {
	select {
	case w.conn.Output <- f:
	case <-ctx.Done():
		w.log.Warn("worker stopping, frame dropped", "kind", f.Type)
	}
}

type streamError string

func (e streamError) Error() string { return string(e) }

const errEmptyStream = streamError("ui provider stream produced no content")
