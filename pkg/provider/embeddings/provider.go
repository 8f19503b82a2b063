// Package embeddings defines the interface for text-to-vector backends. The
// long-term memory layer uses these vectors for semantic recall over past
// interactions, and keyword extraction uses them for similarity ranking.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// Every vector from one Provider instance has the same length, reported by
// Dimensions. Vectors from different instances live in different spaces and
// must not be compared unless model and space are known to match.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the vector for a single text, of length Dimensions().
	// Text passes through verbatim; any model-specific prefixing (e.g.
	// "query: ") is the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one backend call. The result is parallel to
	// texts. On any failure the whole result is nil, never partial.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector length for this provider instance.
	Dimensions() int

	// ModelID names the underlying model, e.g. "text-embedding-3-small".
	ModelID() string
}
