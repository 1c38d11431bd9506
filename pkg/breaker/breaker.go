// Package breaker wraps sony/gobreaker with state metrics and logging for
// calls to external providers.
package breaker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open")

type stateRecorder interface {
	SetState(name string, value float64)
}

// Breaker guards calls to one external dependency.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker
	name string
}

// New builds a breaker. ignore marks errors that count as successful calls,
// such as provider 4xx responses that say nothing about provider health.
func New(name string, cfg config.BreakerConfig, metrics stateRecorder, logg *logger.Logger, ignore func(error) bool) *Breaker {
	minRequests := cfg.MinRequests
	ratio := cfg.FailureRatio

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(cbName string, from, to gobreaker.State) {
			if metrics != nil {
				metrics.SetState(cbName, stateValue(to))
			}
			if logg != nil {
				ctx := logg.WithFields(context.Background(), map[string]any{
					"circuit": cbName,
					"from":    from.String(),
					"to":      to.String(),
				})
				logg.Warn(ctx, "circuit breaker state changed")
			}
		},
	}
	if ignore != nil {
		settings.IsSuccessful = func(err error) bool {
			return err == nil || ignore(err)
		}
	}

	if metrics != nil {
		metrics.SetState(name, 0)
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), name: name}
}

// Execute runs fn through the breaker.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		return zero, err
	}
	typed, _ := result.(T)
	return typed, nil
}

// State reports the breaker state as a string.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
