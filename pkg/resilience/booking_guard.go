// Package resilience wraps blocking calls to external services with a circuit breaker and a per-call timeout.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"booking_worker/pkg/apperr"
	"booking_worker/pkg/logger"
)

// DefaultTimeout bounds every external call unless the guard is configured otherwise.
const DefaultTimeout = 30 * time.Second

// GuardConfig holds configuration for a Guard.
type GuardConfig struct {
	Name    string
	Timeout time.Duration

	// Breaker tuning. Zero values fall back to the defaults below.
	MaxRequests         uint32
	Interval            time.Duration
	OpenTimeout         time.Duration
	ConsecutiveFailures uint32
}

// DefaultGuardConfig returns sensible defaults for a named dependency.
func DefaultGuardConfig(name string) GuardConfig {
	return GuardConfig{
		Name:                name,
		Timeout:             DefaultTimeout,
		MaxRequests:         3,
		Interval:            60 * time.Second,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Guard protects one external dependency. It is safe for concurrent use.
type Guard struct {
	name    string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

// NewGuard creates a Guard. Expected domain outcomes (identity or event not found,
// bad arguments) do not count as breaker failures.
func NewGuard(cfg GuardConfig, log *logger.Logger) *Guard {
	def := DefaultGuardConfig(cfg.Name)
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}
	log = logger.OrDefault(log)
	threshold := cfg.ConsecutiveFailures

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= threshold ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(map[string]any{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch apperr.CodeOf(err) {
			case apperr.CodeIdentityNotFound, apperr.CodeEventNotFound, apperr.CodeInvalidArgument:
				return true
			}
			return false
		},
	}

	return &Guard{
		name:    cfg.Name,
		timeout: cfg.Timeout,
		cb:      gobreaker.NewCircuitBreaker(settings),
	}
}

// Name returns the guarded dependency name.
func (g *Guard) Name() string { return g.name }

// State returns the breaker state as a string.
func (g *Guard) State() string { return g.cb.State().String() }

// Do runs fn under the breaker with a derived deadline. If fn does not return
// before the deadline, Do returns a TIMEOUT error without waiting for it.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, g, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

type result[T any] struct {
	v   T
	err error
}

// Call is the value-returning form of Guard.Do.
func Call[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, apperr.Timeout(g.name + "." + op).WithError(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.cb.Execute(func() (interface{}, error) {
		done := make(chan result[T], 1)
		go func() {
			v, err := fn(callCtx)
			done <- result[T]{v: v, err: err}
		}()
		select {
		case r := <-done:
			if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && callCtx.Err() != nil {
				return nil, apperr.Timeout(g.name + "." + op).WithError(r.err)
			}
			return r.v, r.err
		case <-callCtx.Done():
			return nil, apperr.Timeout(g.name + "." + op).WithError(callCtx.Err())
		}
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, apperr.ProviderError(g.name, err)
		}
		return zero, err
	}
	v, _ := out.(T)
	return v, nil
}
