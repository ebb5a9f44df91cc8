package client

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without contacting the backend while the
// autosave breaker is open.
var ErrCircuitOpen = errors.New("autosave circuit breaker is open")

// CircuitState represents the state of a circuit breaker.
type CircuitState int32

const (
	// CircuitClosed means calls go through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means calls fail fast until the reset timeout has passed.
	CircuitOpen
	// CircuitHalfOpen lets calls through to probe for recovery.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker behavior.
type BreakerConfig struct {
	// MaxErrors is the number of consecutive errors before opening the circuit.
	MaxErrors int

	// ResetTimeout is how long to wait before probing again.
	ResetTimeout time.Duration

	// SuccessThreshold is the number of successful probes needed to close the circuit.
	SuccessThreshold int

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to CircuitState)

	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxErrors:        5,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 1,
	}
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	config BreakerConfig

	mu        sync.Mutex
	state     CircuitState
	errors    int
	successes int
	lastError time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.MaxErrors < 1 {
		config.MaxErrors = 1
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Breaker{config: config}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may go through.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen {
		if b.config.Now().Sub(b.lastError) < b.config.ResetTimeout {
			return ErrCircuitOpen
		}
		b.setState(CircuitHalfOpen)
	}
	return nil
}

// Record records the outcome of a call that was allowed.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.state {
		case CircuitHalfOpen:
			b.successes++
			if b.successes >= b.config.SuccessThreshold {
				b.setState(CircuitClosed)
				b.successes = 0
				b.errors = 0
			}
		default:
			b.errors = 0
		}
		return
	}

	b.lastError = b.config.Now()
	switch b.state {
	case CircuitClosed:
		b.errors++
		if b.errors >= b.config.MaxErrors {
			b.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any error in half-open state opens the circuit
		b.setState(CircuitOpen)
		b.successes = 0
	}
}

// Execute runs fn with circuit breaker protection.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Record(err)
	return err
}

// Reset closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(CircuitClosed)
	b.errors = 0
	b.successes = 0
}

func (b *Breaker) setState(s CircuitState) {
	old := b.state
	b.state = s
	if b.config.OnStateChange != nil && old != s {
		b.config.OnStateChange(old, s)
	}
}
