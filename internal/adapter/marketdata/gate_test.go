package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/options-assistant/internal/clock"
	"github.com/fairyhunter13/options-assistant/internal/domain"
)

func newGateService(t *testing.T, quotes []quoteWire, clk domain.Clock) *Service {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/quotes", r.URL.Path)
		_ = json.NewEncoder(w).Encode(quotes)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "test-key", 2*time.Second)
	cache := NewQuoteCache(nil, time.Minute)
	breaker := NewBreaker(5, 30*time.Second, clk.Now)
	return NewService(client, cache, breaker, GatePolicy{StaleAfter: 90 * time.Second, MaxSpreadPct: 5}, clk)
}

func TestAssessAllHealthyAccepts(t *testing.T) {
	now := time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	svc := newGateService(t, []quoteWire{
		{Symbol: "AAPL", Bid: 189.90, Ask: 190.10, Last: 190.00, TS: now.UnixMilli()},
	}, clk)

	rep, err := svc.Assess(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAccept, rep.Action)
	require.Len(t, rep.Symbols, 1)
	assert.Equal(t, domain.QualityOK, rep.Symbols[0].Code)
	assert.Equal(t, 1.0, rep.Symbols[0].Score)
	assert.False(t, rep.Blocked())
}

func TestAssessStaleQuoteDownranks(t *testing.T) {
	now := time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	svc := newGateService(t, []quoteWire{
		{Symbol: "AAPL", Bid: 189.90, Ask: 190.10, TS: now.Add(-2 * time.Minute).UnixMilli()},
		{Symbol: "MSFT", Bid: 399.90, Ask: 400.10, TS: now.UnixMilli()},
	}, clk)

	rep, err := svc.Assess(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionDownrank, rep.Action)
	assert.Equal(t, domain.QualityWarnStale, rep.Symbols[0].Code)
	assert.Equal(t, 0.5, rep.Symbols[0].Score)
}

func TestAssessTwoWarningsDefer(t *testing.T) {
	now := time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	svc := newGateService(t, []quoteWire{
		{Symbol: "AAPL", Bid: 189.90, Ask: 190.10, TS: now.Add(-2 * time.Minute).UnixMilli()},
		{Symbol: "GME", Bid: 20.00, Ask: 22.00, TS: now.UnixMilli()}, // ~9.5% spread
	}, clk)

	rep, err := svc.Assess(context.Background(), []string{"AAPL", "GME"})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionDefer, rep.Action)
	assert.True(t, rep.Blocked())
	assert.Equal(t, domain.QualityWarnWideSpread, rep.Symbols[1].Code)
}

func TestAssessCrossedQuoteIsFatal(t *testing.T) {
	now := time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	svc := newGateService(t, []quoteWire{
		{Symbol: "SPY", Bid: 500.50, Ask: 500.00, TS: now.UnixMilli()},
	}, clk)

	rep, err := svc.Assess(context.Background(), []string{"SPY"})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSkipFatal, rep.Action)
	assert.Equal(t, domain.QualityFailCrossed, rep.Symbols[0].Code)
	assert.Contains(t, rep.Symbols[0].Detail, "bid 500.50 over ask 500.00")
}

func TestAssessMissingQuoteIsFatal(t *testing.T) {
	now := time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	svc := newGateService(t, []quoteWire{
		{Symbol: "AAPL", Bid: 189.90, Ask: 190.10, TS: now.UnixMilli()},
	}, clk)

	rep, err := svc.Assess(context.Background(), []string{"AAPL", "ZZZZ"})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSkipFatal, rep.Action)
	assert.Equal(t, domain.QualityFailNoQuote, rep.Symbols[1].Code)
}

func TestAssessDeferPolicyOverridesFatal(t *testing.T) {
	now := time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]quoteWire{})
	}))
	t.Cleanup(srv.Close)
	svc := NewService(NewClient(srv.URL, "", time.Second), NewQuoteCache(nil, time.Minute),
		NewBreaker(5, 30*time.Second, clk.Now),
		GatePolicy{StaleAfter: 90 * time.Second, MaxSpreadPct: 5, AllowDeferOnFail: true}, clk)

	rep, err := svc.Assess(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionDefer, rep.Action)
}

func TestAssessProviderOpenFailsAllSymbols(t *testing.T) {
	now := time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "", 500*time.Millisecond)
	breaker := NewBreaker(1, 30*time.Second, clk.Now)
	svc := NewService(client, NewQuoteCache(nil, time.Minute), breaker,
		GatePolicy{StaleAfter: 90 * time.Second, MaxSpreadPct: 5}, clk)

	// First call trips the breaker; the second fast-fails.
	_, _ = svc.Assess(context.Background(), []string{"AAPL"})
	rep, err := svc.Assess(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, "OPEN", svc.BreakerState())
	assert.Equal(t, domain.ActionSkipFatal, rep.Action)
	for _, sq := range rep.Symbols {
		assert.Equal(t, domain.QualityFailProvider, sq.Code)
	}
}

func TestAssessProviderOpenServesCachedSymbols(t *testing.T) {
	now := time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode([]quoteWire{
			{Symbol: "AAPL", Bid: 189.90, Ask: 190.10, TS: now.UnixMilli()},
		})
	}))
	t.Cleanup(srv.Close)

	cache, _ := newMiniCache(t, time.Minute)
	breaker := NewBreaker(1, 30*time.Second, clk.Now)
	svc := NewService(NewClient(srv.URL, "", 500*time.Millisecond), cache, breaker,
		GatePolicy{StaleAfter: 90 * time.Second, MaxSpreadPct: 5}, clk)

	// A healthy fetch seeds the cache with AAPL.
	rep, err := svc.Assess(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	require.Equal(t, domain.ActionAccept, rep.Action)

	// The provider goes down and the breaker trips on the next fetch.
	healthy = false
	_, _ = svc.Quotes(context.Background(), []string{"MSFT"})
	require.Equal(t, "OPEN", svc.BreakerState())

	rep, err = svc.Assess(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	require.Len(t, rep.Symbols, 2)
	assert.Equal(t, domain.QualityOK, rep.Symbols[0].Code, "cached symbol still scores normally")
	assert.Equal(t, 1.0, rep.Symbols[0].Score)
	assert.Equal(t, domain.QualityFailProvider, rep.Symbols[1].Code)
	assert.Equal(t, domain.ActionSkipFatal, rep.Action)
}

func TestQuotesRateLimitSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "", 500*time.Millisecond)
	_, err := client.Quotes(context.Background(), []string{"AAPL"})
	require.Error(t, err)
	// Budget exhaustion during retries reports the provider as down.
	assert.True(t, errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrProviderDown))
}
