package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// reaching the provider.
var ErrCircuitOpen = gobreaker.ErrOpenState

// BreakerConfig tunes the circuit breaker around a gateway.
type BreakerConfig struct {
	// MaxRequests is the number of probe requests allowed in half-open state.
	MaxRequests uint32

	// Interval is the closed-state window for clearing failure counts.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// FailureRatio trips the breaker when failures/requests reaches it.
	FailureRatio float64

	// MinRequests is the minimum sample size before the ratio is evaluated.
	MinRequests uint32
}

// DefaultBreakerConfig returns the production breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

var breakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "payment_gateway_breaker_state",
		Help: "Circuit breaker state per gateway (0=closed, 1=half-open, 2=open)",
	},
	[]string{"gateway"},
)

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Breaker wraps a PaymentGateway with circuit breaker protection. Declines
// are provider answers and do not count as failures; only transport and
// provider errors trip the breaker.
type Breaker struct {
	inner   PaymentGateway
	breaker *gobreaker.CircuitBreaker[*Result]
	logger  *slog.Logger
}

// WithBreaker wraps gw in a circuit breaker named after the gateway.
func WithBreaker(gw PaymentGateway, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        gw.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("gateway breaker state change",
				slog.String("gateway", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}

	breakerState.WithLabelValues(gw.Name()).Set(0)

	return &Breaker{
		inner:   gw,
		breaker: gobreaker.NewCircuitBreaker[*Result](settings),
		logger:  logger,
	}
}

func (b *Breaker) Name() string { return b.inner.Name() }

// Authorize calls the wrapped gateway through the breaker.
func (b *Breaker) Authorize(ctx context.Context, req Request) (*Result, error) {
	return b.breaker.Execute(func() (*Result, error) {
		return b.inner.Authorize(ctx, req)
	})
}

// Refund calls the wrapped gateway through the breaker.
func (b *Breaker) Refund(ctx context.Context, transactionID string) (*Result, error) {
	return b.breaker.Execute(func() (*Result, error) {
		return b.inner.Refund(ctx, transactionID)
	})
}

// Status bypasses the breaker: lookups are cheap and must work while the
// breaker is open so stuck transactions can be inspected.
func (b *Breaker) Status(ctx context.Context, transactionID string) (*Result, error) {
	return b.inner.Status(ctx, transactionID)
}

// Healthy reports false while the breaker is open, otherwise defers to the
// wrapped gateway.
func (b *Breaker) Healthy(ctx context.Context) bool {
	if b.breaker.State() == gobreaker.StateOpen {
		return false
	}
	return b.inner.Healthy(ctx)
}

// State exposes the breaker state for the admin health summary.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}
