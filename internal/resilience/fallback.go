package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [FallbackGroup] failed or
// had an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig holds the breaker settings cloned for each member of a
// [FallbackGroup]; the member name overrides CircuitBreaker.Name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// member pairs one provider with its dedicated breaker.
type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup chains a primary and any number of fallbacks of the same
// provider type. Calls try each member in registration order, skipping open
// breakers, until one succeeds.
//
// Members are registered before the group is shared; Execute and
// ExecuteWithResult are then safe for concurrent use.
type FallbackGroup[T any] struct {
	members []member[T]
	cbCfg   CircuitBreakerConfig
}

// NewFallbackGroup creates a group with primary as its first member.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cbCfg: cfg.CircuitBreaker}
	fg.add(primaryName, primary)
	return fg
}

// AddFallback appends a member tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, value T) {
	cbCfg := fg.cbCfg
	cbCfg.Name = name
	fg.members = append(fg.members, member[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute tries fn against each member in order until one succeeds, wrapping
// the last error in [ErrAllFailed] when none does.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each member until one succeeds and
// returns its result. A package-level function because methods cannot carry
// their own type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.members {
		m := &fg.members[i]
		var result R
		err := m.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(m.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("provider skipped, circuit open", "provider", m.name)
		} else {
			slog.Warn("provider failed, falling back",
				"provider", m.name, "error", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
