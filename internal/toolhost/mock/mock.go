// Package mock provides a test double for the toolhost.Host interface.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/adagate/pkg/types"
)

// InvokeCall records a single invocation of Invoke.
type InvokeCall struct {
	// Key is the namespaced tool key passed to Invoke.
	Key string
	// Args is the JSON args string passed to Invoke.
	Args string
}

// Host is a mock implementation of toolhost.Host.
// Zero values cause methods to return empty results and nil errors.
type Host struct {
	mu sync.Mutex

	// Tools is returned by ListTools.
	Tools []types.ToolDefinition

	// Results maps tool keys to the string returned by Invoke.
	Results map[string]string

	// Errs maps tool keys to an error returned by Invoke instead of a result.
	Errs map[string]error

	// InvokeCalls records every invocation of Invoke in order.
	InvokeCalls []InvokeCall
}

// ListTools returns Tools.
func (h *Host) ListTools() []types.ToolDefinition {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.ToolDefinition, len(h.Tools))
	copy(out, h.Tools)
	return out
}

// Invoke records the call and returns the configured result or error.
// An unconfigured key returns a "not found" error, matching the real client.
func (h *Host) Invoke(_ context.Context, key string, args string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.InvokeCalls = append(h.InvokeCalls, InvokeCall{Key: key, Args: args})

	if err, ok := h.Errs[key]; ok {
		return "", err
	}
	if result, ok := h.Results[key]; ok {
		return result, nil
	}
	return "", fmt.Errorf("toolhost mock: tool %q not found", key)
}
