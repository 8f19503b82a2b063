package toolhost

import (
	"context"

	"github.com/MrWong99/adagate/pkg/types"
)

// Host is the read-and-invoke surface of a tool client, implemented by
// [Client]. The enhancement decider and the per-connection worker depend on
// this interface so tests can substitute a fake without any transport.
type Host interface {
	// ListTools returns every registered tool descriptor.
	ListTools() []types.ToolDefinition

	// Invoke calls the tool identified by its namespaced key with a
	// JSON-encoded args object and returns the text content of the result.
	Invoke(ctx context.Context, key string, args string) (string, error)
}

var _ Host = (*Client)(nil)
