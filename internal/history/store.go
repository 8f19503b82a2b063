package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Store is the PostgreSQL-backed durable transcript with a pgvector index
// for semantic recall. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// RecalledTurn is one semantic-recall hit.
type RecalledTurn struct {
	ThreadID string
	Role     string
	Content  string
	Distance float64
	At       time.Time
}

// NewStore connects to the database at dsn, registers pgvector types on every
// connection, and ensures the transcript schema exists.
//
// embeddingDimensions must match the embedding model in use (e.g., 1536 for
// OpenAI text-embedding-3-small). Changing it after the first migration
// requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}
	if err := migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// ddl returns the transcript DDL with the embedding dimension substituted.
// The dimension is baked into the column type at schema creation time.
func ddl(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS turns (
    id             BIGSERIAL    PRIMARY KEY,
    connection_id  TEXT         NOT NULL,
    thread_id      TEXT         NOT NULL,
    role           TEXT         NOT NULL,
    content        TEXT         NOT NULL,
    embedding      vector(%d),
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_turns_connection_thread
    ON turns (connection_id, thread_id);

CREATE INDEX IF NOT EXISTS idx_turns_created_at
    ON turns (created_at);

CREATE INDEX IF NOT EXISTS idx_turns_embedding
    ON turns USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// migrate is idempotent and safe to run on every start.
func migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddl(embeddingDimensions)); err != nil {
		return fmt.Errorf("history migrate: %w", err)
	}
	return nil
}

// AppendTurn persists one turn. embedding may be nil for turns that were not
// embedded (they are excluded from recall but kept in the transcript).
func (s *Store) AppendTurn(ctx context.Context, connectionID, threadID, role, content string, embedding []float32) error {
	const q = `
		INSERT INTO turns (connection_id, thread_id, role, content, embedding)
		VALUES ($1, $2, $3, $4, $5)`

	var vec any
	if embedding != nil {
		vec = pgvector.NewVector(embedding)
	}
	if _, err := s.pool.Exec(ctx, q, connectionID, threadID, role, content, vec); err != nil {
		return fmt.Errorf("history store: append turn: %w", err)
	}
	return nil
}

// Recall returns the topK turns of a connection closest (cosine distance) to
// the query embedding, most similar first.
func (s *Store) Recall(ctx context.Context, connectionID string, embedding []float32, topK int) ([]RecalledTurn, error) {
	const q = `
		SELECT thread_id, role, content, embedding <=> $2 AS distance, created_at
		FROM   turns
		WHERE  connection_id = $1 AND embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, connectionID, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("history store: recall: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RecalledTurn, error) {
		var rt RecalledTurn
		err := row.Scan(&rt.ThreadID, &rt.Role, &rt.Content, &rt.Distance, &rt.At)
		return rt, err
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan rows: %w", err)
	}
	return results, nil
}

// Ping probes database connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
