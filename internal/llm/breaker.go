package llm

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/HanTheDev/genie-analytics/internal/logging"
	"github.com/HanTheDev/genie-analytics/internal/metrics"
)

// BreakerProvider wraps a Provider with a circuit breaker. While open, calls
// fail immediately with gobreaker.ErrOpenState and the router falls back or gives up.
type BreakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// NewCircuitBreaker opens after 60% failures over at least 10 requests and
// half-opens again after timeout.
func NewCircuitBreaker(next Provider, name string, timeout time.Duration) *BreakerProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Completion circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		// A caller walking away is not a provider failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerProvider{next: next, cb: cb, name: name}
}

func (b *BreakerProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Response), nil
}

// Stream guards only stream setup; failures mid-stream are reported on the channel.
func (b *BreakerProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.Stream(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(<-chan Chunk), nil
}

func (b *BreakerProvider) State() gobreaker.State {
	return b.cb.State()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return -1
}
