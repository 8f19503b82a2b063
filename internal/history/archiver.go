package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/adagate/pkg/provider/embeddings"
	"github.com/MrWong99/adagate/pkg/types"
)

// archiveQueueSize bounds the write-behind queue; overflow drops the oldest
// pending turn rather than blocking the hot path.
const archiveQueueSize = 256

// archiveTimeout bounds one embed + insert round-trip.
const archiveTimeout = 10 * time.Second

// Sink is the durable side of the archiver, implemented by [Store].
type Sink interface {
	AppendTurn(ctx context.Context, connectionID, threadID, role, content string, embedding []float32) error
}

// Archiver persists turns write-behind: Record never blocks on the database,
// and failures are logged, never surfaced to the turn pipeline.
type Archiver struct {
	sink     Sink
	embedder embeddings.Provider // may be nil; turns are stored unembedded
	log      *slog.Logger

	queue chan archivedTurn
	done  chan struct{}
	once  sync.Once
}

type archivedTurn struct {
	connectionID string
	threadID     string
	msg          types.Message
}

// NewArchiver starts the background writer. embedder may be nil.
func NewArchiver(sink Sink, embedder embeddings.Provider, log *slog.Logger) *Archiver {
	if log == nil {
		log = slog.Default()
	}
	a := &Archiver{
		sink:     sink,
		embedder: embedder,
		log:      log,
		queue:    make(chan archivedTurn, archiveQueueSize),
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

// Record enqueues one turn for archival. When the queue is full the turn is
// dropped with a log line; durable history is best-effort.
func (a *Archiver) Record(connectionID, threadID string, msg types.Message) {
	select {
	case a.queue <- archivedTurn{connectionID: connectionID, threadID: threadID, msg: msg}:
	default:
		a.log.Warn("history archive queue full, dropping turn",
			"connection_id", connectionID, "thread_id", threadID)
	}
}

// Close stops the writer after draining pending turns.
func (a *Archiver) Close() {
	a.once.Do(func() {
		close(a.queue)
		<-a.done
	})
}

func (a *Archiver) run() {
	defer close(a.done)
	for turn := range a.queue {
		a.archive(turn)
	}
}

func (a *Archiver) archive(turn archivedTurn) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	var embedding []float32
	if a.embedder != nil && turn.msg.Content != "" {
		var err error
		embedding, err = a.embedder.Embed(ctx, turn.msg.Content)
		if err != nil {
			a.log.Warn("turn embedding failed, archiving without vector",
				"connection_id", turn.connectionID, "error", err)
			embedding = nil
		}
	}

	err := a.sink.AppendTurn(ctx, turn.connectionID, turn.threadID, turn.msg.Role, turn.msg.Content, embedding)
	if err != nil {
		a.log.Warn("turn archive failed",
			"connection_id", turn.connectionID, "thread_id", turn.threadID, "error", err)
	}
}
