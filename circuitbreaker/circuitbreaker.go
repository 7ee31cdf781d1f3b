// Package circuitbreaker wraps sony/gobreaker with structured logging and
// Prometheus instrumentation. The remote completion backend runs every
// request through a breaker so a dead or overloaded inference server fails
// fast instead of burning the per-request timeout on each conversation.
package circuitbreaker

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config holds configuration for the circuit breaker.
type Config struct {
	// Name identifies the breaker in logs and metrics.
	Name string

	// MaxRequests is the number of requests allowed through in the
	// half-open state.
	MaxRequests uint32

	// Interval is the cyclic period in the closed state after which the
	// failure counts reset.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures that trips
	// the breaker.
	FailureThreshold uint32

	// TestMode skips metric registration so tests can build breakers
	// without a registry.
	TestMode bool
}

// CircuitBreaker adapts gobreaker to the pipeline: Execute-style calls,
// zap logging of state transitions, and gauge/counter metrics.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger

	stateGauge prometheus.Gauge
	tripsTotal prometheus.Counter
}

// NewCircuitBreaker creates a circuit breaker. The registry may be nil
// when cfg.TestMode is set.
func NewCircuitBreaker(cfg Config, logger *zap.Logger, registry *prometheus.Registry) (*CircuitBreaker, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("circuit breaker requires a name")
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 3
	}

	b := &CircuitBreaker{logger: logger}

	b.stateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "chatclean_circuit_breaker_state",
		Help:        "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
		ConstLabels: prometheus.Labels{"name": cfg.Name},
	})
	b.tripsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "chatclean_circuit_breaker_trips_total",
		Help:        "Total number of times the circuit breaker has tripped",
		ConstLabels: prometheus.Labels{"name": cfg.Name},
	})
	if !cfg.TestMode && registry != nil {
		if err := registry.Register(b.stateGauge); err != nil {
			return nil, fmt.Errorf("register breaker gauge: %w", err)
		}
		if err := registry.Register(b.tripsTotal); err != nil {
			return nil, fmt.Errorf("register breaker counter: %w", err)
		}
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.stateGauge.Set(float64(to))
			if to == gobreaker.StateOpen {
				b.tripsTotal.Inc()
			}
			logger.Warn("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return b, nil
}

// Execute runs f if the breaker allows it and records the result.
func (b *CircuitBreaker) Execute(f func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, f()
	})
	return err
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}
