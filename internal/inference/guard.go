package inference

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/zombor/spend-tracker/internal/classify"
)

// GuardConfig controls the timeout and circuit breaker around a Model
type GuardConfig struct {
	Timeout          time.Duration
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

// DefaultGuardConfig returns the settings used by the CLI
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:          30 * time.Second,
		MinRequests:      5,
		FailureRatio:     0.5,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c GuardConfig) normalize() GuardConfig {
	out := c
	def := DefaultGuardConfig()
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	if out.MinRequests == 0 {
		out.MinRequests = def.MinRequests
	}
	if out.FailureRatio <= 0 || out.FailureRatio > 1 {
		out.FailureRatio = def.FailureRatio
	}
	if out.OpenTimeout <= 0 {
		out.OpenTimeout = def.OpenTimeout
	}
	if out.HalfOpenMaxCalls == 0 {
		out.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return out
}

// Guarded wraps a Model with a per-call timeout and a circuit breaker.
// It never retries; a failed call is returned to the caller as is.
type Guarded struct {
	model   Model
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[string]
}

// NewGuarded wraps model using cfg; zero fields take defaults
func NewGuarded(name string, model Model, cfg GuardConfig) *Guarded {
	cfg = cfg.normalize()

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// the caller giving up is not a backend failure
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state change", "model", name, "from", from.String(), "to", to.String())
		},
	}

	return &Guarded{
		model:   model,
		timeout: cfg.Timeout,
		breaker: gobreaker.NewCircuitBreaker[string](settings),
	}
}

// Generate calls the wrapped model unless the breaker is open
func (g *Guarded) Generate(ctx context.Context, prompt classify.Prompt) (string, error) {
	return g.breaker.Execute(func() (string, error) {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return g.model.Generate(ctx, prompt)
	})
}

// Close closes the wrapped model
func (g *Guarded) Close() error {
	return g.model.Close()
}

// IsCircuitOpen reports whether err came from an open or saturated breaker
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
