package db

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's observable state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Breaker is a circuit breaker shared by every backend call the client makes.
//
// Transitions: CLOSED moves to OPEN after FailureThreshold consecutive
// failures; OPEN fails fast until OpenDuration has elapsed, then admits a
// single probe in HALF_OPEN; a successful probe closes the circuit, a failed
// probe reopens it.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	openDuration     time.Duration
	now              func() time.Time

	state        BreakerState
	failures     int
	openedAt     time.Time
	probeInFlght bool
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	OpenDuration     time.Duration // cooldown before a half-open probe
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: cfg.FailureThreshold,
		openDuration:     cfg.OpenDuration,
		now:              time.Now,
		state:            BreakerClosed,
	}
}

// Allow reports whether a call may proceed. In OPEN it returns false until
// the cooldown elapses; the first caller after the cooldown becomes the
// half-open probe and all others keep failing fast until it resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.openDuration {
			return false
		}
		b.state = BreakerHalfOpen
		b.probeInFlght = true
		return true
	case BreakerHalfOpen:
		if b.probeInFlght {
			return false
		}
		b.probeInFlght = true
		return true
	}
	return true
}

// Record reports the outcome of a call previously admitted by Allow.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.state = BreakerClosed
		b.failures = 0
		b.probeInFlght = false
		return
	}

	switch b.state {
	case BreakerHalfOpen:
		b.reopen()
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.reopen()
		}
	case BreakerOpen:
		// A straggler from before the circuit opened; nothing to update.
	}
}

func (b *Breaker) reopen() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.failures = 0
	b.probeInFlght = false
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// errCircuitOpen is the fail-fast error surfaced while the breaker is open.
func errCircuitOpen(op string) error {
	return fmt.Errorf("%s: %w: circuit breaker open", op, ErrBackendUnavailable)
}
