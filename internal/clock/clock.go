// Package clock provides wall time and exchange-timezone trading days.
// Usecases take the domain.Clock port so tests can drive cadence with the
// fake below.
package clock

import (
	"sync"
	"time"
)

const exchangeTZ = "America/Chicago"

// Real is the production clock pinned to the exchange timezone.
type Real struct{ loc *time.Location }

// NewReal loads the exchange timezone. Failure to load tzdata is a
// deployment error and surfaces immediately.
func NewReal() (*Real, error) {
	loc, err := time.LoadLocation(exchangeTZ)
	if err != nil {
		return nil, err
	}
	return &Real{loc: loc}, nil
}

// Now returns the current wall time.
func (c *Real) Now() time.Time { return time.Now() }

// TradingDay formats t as YYYY-MM-DD in America/Chicago. Cron idempotency
// keys are scoped to this value.
func (c *Real) TradingDay(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// Fake is a manually advanced clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

// NewFake returns a fake clock frozen at now.
func NewFake(now time.Time) *Fake {
	loc, err := time.LoadLocation(exchangeTZ)
	if err != nil {
		loc = time.UTC
	}
	return &Fake{now: now, loc: loc}
}

// Now returns the frozen instant.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t.
func (c *Fake) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// TradingDay formats t in the exchange timezone.
func (c *Fake) TradingDay(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}
