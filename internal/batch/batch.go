// Package batch provides the bounded-batch, retry and checkpointed-loop
// primitives shared by the pipeline stages.
package batch

import (
	"context"
	"fmt"
	"time"

	"clustertalk/internal/logger"
)

// Batches splits items into consecutive slices of at most size elements.
// The returned slices alias the input.
func Batches[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

// Backoff selects how the delay grows between retry attempts.
type Backoff int

const (
	// Linear keeps the delay constant across attempts.
	Linear Backoff = iota
	// Exponential doubles the delay after each failed attempt.
	Exponential
)

// Retry runs fn up to attempts times, waiting delay between failures.
// Each failed attempt is logged with the attempt number and next delay.
// The context is checked before every attempt and during the wait.
func Retry(ctx context.Context, attempts int, delay time.Duration, backoff Backoff, fn func() error) error {
	var err error
	wait := delay
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		logger.Warn("attempt failed, retrying",
			"attempt", attempt, "max_attempts", attempts, "delay", wait.String(), "error", err.Error())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if backoff == Exponential {
			wait *= 2
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, err)
}

// Checkpointer persists and restores loop progress. Implementations must
// write atomically; readers see either the previous or the new state.
type Checkpointer[S any] interface {
	Save(state S) error
	Load() (S, bool, error)
}

// CheckpointedLoop runs step for every item not yet completed according to
// the checkpoint state, persisting the state after each successful step.
// On a step error the state is persisted before the error is returned, so
// a restarted run resumes at the failed item.
func CheckpointedLoop[T any, S any](
	ctx context.Context,
	items []T,
	cp Checkpointer[S],
	initial S,
	done func(state S, index int, item T) bool,
	step func(state *S, index int, item T) error,
) (S, error) {
	state := initial
	if loaded, ok, err := cp.Load(); err != nil {
		return state, fmt.Errorf("loading checkpoint: %w", err)
	} else if ok {
		state = loaded
	}

	for i, item := range items {
		if ctx.Err() != nil {
			return state, ctx.Err()
		}
		if done(state, i, item) {
			continue
		}
		if err := step(&state, i, item); err != nil {
			if saveErr := cp.Save(state); saveErr != nil {
				logger.Error("saving checkpoint after step failure", saveErr)
			}
			return state, err
		}
		if err := cp.Save(state); err != nil {
			return state, fmt.Errorf("saving checkpoint: %w", err)
		}
	}
	return state, nil
}
