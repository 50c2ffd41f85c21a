package marketdata

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	now := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	b := NewBreaker(3, 30*time.Second, func() time.Time { return now })
	boom := errors.New("provider 503")

	for i := 0; i < 2; i++ {
		_ = b.Call(func() error { return boom })
		assert.Equal(t, StateClosed, b.State(), "failure %d", i+1)
	}
	_ = b.Call(func() error { return boom })
	assert.Equal(t, StateOpen, b.State())

	err := b.Call(func() error { return nil })
	var open *ErrBreakerOpen
	require.True(t, errors.As(err, &open))
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, 30*time.Second, nil)
	boom := errors.New("transient")

	_ = b.Call(func() error { return boom })
	_ = b.Call(func() error { return boom })
	require.NoError(t, b.Call(func() error { return nil }))

	_ = b.Call(func() error { return boom })
	_ = b.Call(func() error { return boom })
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenAfterInterval(t *testing.T) {
	now := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	b := NewBreaker(1, 30*time.Second, func() time.Time { return now })

	_ = b.Call(func() error { return errors.New("down") })
	assert.Equal(t, StateOpen, b.State())

	now = now.Add(29 * time.Second)
	assert.Equal(t, StateOpen, b.State())

	now = now.Add(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	now := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	b := NewBreaker(1, 30*time.Second, func() time.Time { return now })

	_ = b.Call(func() error { return errors.New("down") })
	now = now.Add(31 * time.Second)

	// Three successful probes close the circuit.
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Call(func() error { return nil }))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	b := NewBreaker(1, 30*time.Second, func() time.Time { return now })

	_ = b.Call(func() error { return errors.New("down") })
	now = now.Add(31 * time.Second)

	_ = b.Call(func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, b.State())
}
