package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/callcore/internal/observe"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or had
// an open circuit breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig configures the breaker created for each entry of a
// [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallback values of one
// backend type. Calls go to the first entry whose breaker admits them and
// move on to the next entry when it fails.
//
// Entries must be added before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry. Entries are tried in the order they were
// added.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cb),
	})
}

// Primary returns the first entry's value.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.entries[0].value
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int {
	return len(fg.entries)
}

// State returns the breaker state of the named entry and whether it exists.
func (fg *FallbackGroup[T]) State(name string) (State, bool) {
	for i := range fg.entries {
		if fg.entries[i].name == name {
			return fg.entries[i].breaker.State(), true
		}
	}
	return StateClosed, false
}

// ErrUnavailable is returned by [FallbackGroup.Healthy] when every entry's
// circuit is open.
var ErrUnavailable = errors.New("resilience: every backend circuit is open")

// Healthy returns nil while at least one entry would admit a call.
func (fg *FallbackGroup[T]) Healthy() error {
	for i := range fg.entries {
		if fg.entries[i].breaker.State() != StateOpen {
			return nil
		}
	}
	return ErrUnavailable
}

// Execute tries fn against each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry of fg in order and returns the
// first successful result. Failover stops as soon as ctx is done; the
// context error is returned as is. When every entry fails the error wraps
// [ErrAllFailed] and the last backend error.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	log := observe.Logger(ctx)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			result, err = fn(ctx, entry.value)
			return err
		})
		if err == nil {
			if i > 0 {
				log.Info("resilience: served by fallback", "backend", entry.name)
			}
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			log.Debug("resilience: skipping backend with open circuit", "backend", entry.name)
			continue
		}
		log.Warn("resilience: backend failed, trying next", "backend", entry.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
