// Package marketdata supplies quotes and the per-symbol quality gate that
// decides whether a suggestion may execute.
package marketdata

import (
	"fmt"
	"sync"
	"time"

	"github.com/fairyhunter13/options-assistant/internal/observability"
)

// BreakerState represents the state of the provider circuit breaker.
type BreakerState int

const (
	// StateClosed allows all requests.
	StateClosed BreakerState = iota
	// StateOpen fast-fails all requests until the open interval lapses.
	StateOpen
	// StateHalfOpen permits limited probe traffic.
	StateHalfOpen
)

// String returns the wire name of the state.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrBreakerOpen is returned on fast-fail; callers treat it as a provider
// transient.
type ErrBreakerOpen struct{ State BreakerState }

func (e *ErrBreakerOpen) Error() string {
	return fmt.Sprintf("market data circuit breaker is %s", e.State)
}

// Breaker is the process-wide provider circuit breaker. Consecutive
// failures within the rolling window flip CLOSED to OPEN; after the open
// interval a limited number of HALF_OPEN probes decide recovery.
type Breaker struct {
	maxFailures int
	openFor     time.Duration
	now         func() time.Time

	mu           sync.Mutex
	state        BreakerState
	failures     int
	lastFailure  time.Time
	successCount int
	halfOpenMax  int
	probes       int
}

// NewBreaker constructs a breaker. now is injectable for tests; nil uses
// time.Now.
func NewBreaker(maxFailures int, openFor time.Duration, now func() time.Time) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{maxFailures: maxFailures, openFor: openFor, now: now, halfOpenMax: 3}
}

// Call executes fn under breaker protection.
func (b *Breaker) Call(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.openFor {
		b.state = StateHalfOpen
		b.successCount = 0
		b.probes = 0
	}
	if !b.allow() {
		st := b.state
		b.record()
		b.mu.Unlock()
		return &ErrBreakerOpen{State: st}
	}
	if b.state == StateHalfOpen {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	b.update(err)
	b.record()
	b.mu.Unlock()
	return err
}

// State returns the current state, applying the open-interval transition.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.openFor {
		b.state = StateHalfOpen
		b.successCount = 0
		b.probes = 0
	}
	return b.state
}

func (b *Breaker) allow() bool {
	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return b.probes < b.halfOpenMax
	default:
		return false
	}
}

func (b *Breaker) update(err error) {
	if err != nil {
		b.failures++
		b.lastFailure = b.now()
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.state = StateOpen
		}
		return
	}
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.halfOpenMax {
			b.state = StateClosed
			b.successCount = 0
			b.failures = 0
		}
	}
}

func (b *Breaker) record() {
	observability.BreakerState.Set(float64(b.state))
}
