package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrIndexUnavailable is returned when the underlying index fails, times out, or the breaker is open.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// ResilientConfig configures the circuit breaker around an index.
type ResilientConfig struct {
	Name             string
	CallTimeout      time.Duration
	MaxRequests      uint32
	Interval         time.Duration
	OpenTimeout      time.Duration
	FailureThreshold uint32
	// OnStateChange is invoked after the breaker changes state.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultResilientConfig returns production defaults.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Name:             "vector-index",
		CallTimeout:      5 * time.Second,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		OpenTimeout:      15 * time.Second,
		FailureThreshold: 5,
	}
}

// ResilientIndex bounds every call to an index with a timeout and a circuit breaker.
// All backend failures are reported as ErrIndexUnavailable.
type ResilientIndex struct {
	inner   Index
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[any]
}

// NewResilientIndex wraps inner.
func NewResilientIndex(inner Index, cfg ResilientConfig) *ResilientIndex {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultResilientConfig().FailureThreshold
	}
	threshold := cfg.FailureThreshold

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("vector index circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
		// Caller mistakes and cancellations say nothing about backend health.
		IsExcluded: func(err error) bool {
			return errors.Is(err, ErrInvalidMetadata) || errors.Is(err, context.Canceled)
		},
	}

	return &ResilientIndex{
		inner:   inner,
		timeout: cfg.CallTimeout,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

// State reports the breaker state.
func (r *ResilientIndex) State() gobreaker.State {
	return r.breaker.State()
}

func (r *ResilientIndex) call(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	result, err := r.breaker.Execute(func() (any, error) {
		callCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		return fn(callCtx)
	})
	if err == nil {
		return result, nil
	}
	if errors.Is(err, ErrInvalidMetadata) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrIndexUnavailable, op, err)
}

func (r *ResilientIndex) EnsureCollection(ctx context.Context, collection Collection, dimensions int) error {
	_, err := r.call(ctx, "ensure collection", func(ctx context.Context) (any, error) {
		return nil, r.inner.EnsureCollection(ctx, collection, dimensions)
	})
	return err
}

func (r *ResilientIndex) Upsert(ctx context.Context, collection Collection, entry *Entry) error {
	if err := validateEntry(collection, entry); err != nil {
		return err
	}
	_, err := r.call(ctx, "upsert", func(ctx context.Context) (any, error) {
		return nil, r.inner.Upsert(ctx, collection, entry)
	})
	return err
}

func (r *ResilientIndex) Query(ctx context.Context, collection Collection, vector []float32, k int, filter *Filter) ([]Match, error) {
	result, err := r.call(ctx, "query", func(ctx context.Context) (any, error) {
		return r.inner.Query(ctx, collection, vector, k, filter)
	})
	if err != nil {
		return nil, err
	}
	matches, _ := result.([]Match)
	return matches, nil
}

func (r *ResilientIndex) Delete(ctx context.Context, collection Collection, id int32) error {
	_, err := r.call(ctx, "delete", func(ctx context.Context) (any, error) {
		return nil, r.inner.Delete(ctx, collection, id)
	})
	return err
}

func (r *ResilientIndex) IDs(ctx context.Context, collection Collection) ([]int32, error) {
	result, err := r.call(ctx, "ids", func(ctx context.Context) (any, error) {
		return r.inner.IDs(ctx, collection)
	})
	if err != nil {
		return nil, err
	}
	ids, _ := result.([]int32)
	return ids, nil
}

func (r *ResilientIndex) Count(ctx context.Context, collection Collection) (int64, error) {
	result, err := r.call(ctx, "count", func(ctx context.Context) (any, error) {
		return r.inner.Count(ctx, collection)
	})
	if err != nil {
		return 0, err
	}
	count, _ := result.(int64)
	return count, nil
}
