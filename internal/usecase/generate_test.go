package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/options-assistant/internal/clock"
	"github.com/fairyhunter13/options-assistant/internal/config"
	"github.com/fairyhunter13/options-assistant/internal/domain"
)

type generatorFixture struct {
	holdings    *fakeHoldings
	suggestions *fakeSuggestions
	market      *fakeMarket
	analytics   *fakeAnalytics
	stats       *CycleStats
	svc         *GeneratorService
}

func newGeneratorFixture(t *testing.T, sizing SizingPolicy) *generatorFixture {
	t.Helper()
	f := &generatorFixture{
		holdings:    newFakeHoldings(),
		suggestions: newFakeSuggestions(),
		market:      newFakeMarket(),
		analytics:   &fakeAnalytics{},
		stats:       NewCycleStats(),
	}
	clk := clock.NewFake(time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC))
	strategy := NewStrategyHolder(config.DefaultStrategy())
	f.svc = NewGeneratorService(f.holdings, f.suggestions, f.market, f.analytics, clk, strategy, sizing, f.stats)
	return f
}

func seedBook(f *generatorFixture, userID string) {
	f.holdings.rows[userID] = []domain.Holding{
		{UserID: userID, Symbol: "AAPL", AssetType: domain.AssetEquity, Quantity: 100, CurrentPrice: 100},
		{UserID: userID, Symbol: "CASH", AssetType: domain.AssetCash, Quantity: 5000},
	}
}

func TestGenerateProducesExecutableSuggestion(t *testing.T) {
	f := newGeneratorFixture(t, SizingPolicy{MaxRiskPctPerTrade: 200, MaxRiskPctPortfolio: 200})
	seedBook(f, "u1")

	n, err := f.svc.Generate(context.Background(), "u1", domain.WindowMorningLimit, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, f.suggestions.rows, 1)
	for _, s := range f.suggestions.rows {
		assert.Equal(t, domain.SuggestionExecutable, s.Status)
		assert.Equal(t, "covered_call", s.Strategy)
		assert.Equal(t, "AAPL", s.Symbol)
		assert.Equal(t, "trace-1", s.TraceID)
		require.Len(t, s.Legs, 1)
		assert.Equal(t, domain.LegSell, s.Legs[0].Action)
		assert.Empty(t, s.Sizing.ClampReason)
	}
	assert.Contains(t, f.analytics.names(), "suggestions_generated")
}

func TestGenerateQualityBlockMarksNotExecutable(t *testing.T) {
	f := newGeneratorFixture(t, SizingPolicy{MaxRiskPctPerTrade: 200, MaxRiskPctPortfolio: 200})
	seedBook(f, "u1")
	f.market.reports["AAPL"] = domain.QualityReport{
		Symbols: []domain.SymbolQuality{{Symbol: "AAPL", Code: domain.QualityFailCrossed, Score: 0}},
		Action:  domain.ActionSkipFatal,
	}

	n, err := f.svc.Generate(context.Background(), "u1", domain.WindowMorningLimit, "t")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, s := range f.suggestions.rows {
		assert.Equal(t, domain.SuggestionNotExecutable, s.Status)
		assert.Equal(t, "marketdata_quality_gate", s.BlockedReason)
		assert.Equal(t, "AAPL:FAIL_CROSSED", s.BlockedDetail)
	}

	count, blockedPct := f.stats.LastCycle()
	assert.Equal(t, 1, count)
	assert.Equal(t, 100.0, blockedPct)
}

func TestGenerateDownrankHalvesScore(t *testing.T) {
	clean := newGeneratorFixture(t, SizingPolicy{MaxRiskPctPerTrade: 200, MaxRiskPctPortfolio: 200})
	seedBook(clean, "u1")
	_, err := clean.svc.Generate(context.Background(), "u1", domain.WindowMorningLimit, "t")
	require.NoError(t, err)
	var fullScore float64
	for _, s := range clean.suggestions.rows {
		fullScore = s.Score
	}
	require.Greater(t, fullScore, 0.0)

	f := newGeneratorFixture(t, SizingPolicy{MaxRiskPctPerTrade: 200, MaxRiskPctPortfolio: 200})
	seedBook(f, "u1")
	f.market.reports["AAPL"] = domain.QualityReport{
		Symbols: []domain.SymbolQuality{{Symbol: "AAPL", Code: domain.QualityWarnStale, Score: 0.5}},
		Action:  domain.ActionDownrank,
	}
	_, err = f.svc.Generate(context.Background(), "u1", domain.WindowMorningLimit, "t")
	require.NoError(t, err)

	for _, s := range f.suggestions.rows {
		assert.Equal(t, domain.SuggestionExecutable, s.Status)
		assert.InDelta(t, fullScore/2, s.Score, 0.01)
	}
}

func TestGenerateIsIdempotentPerWindow(t *testing.T) {
	f := newGeneratorFixture(t, SizingPolicy{MaxRiskPctPerTrade: 200, MaxRiskPctPortfolio: 200})
	seedBook(f, "u1")

	n, err := f.svc.Generate(context.Background(), "u1", domain.WindowMorningLimit, "t")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.svc.Generate(context.Background(), "u1", domain.WindowMorningLimit, "t")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, f.suggestions.rows, 1)

	// A different window still generates.
	n, err = f.svc.Generate(context.Background(), "u1", domain.WindowMiddayEntry, "t")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGenerateRejectsUnknownWindow(t *testing.T) {
	f := newGeneratorFixture(t, SizingPolicy{MaxRiskPctPerTrade: 200, MaxRiskPctPortfolio: 200})
	_, err := f.svc.Generate(context.Background(), "u1", domain.Window("afternoon"), "t")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestGenerateEmptyBookIsNoop(t *testing.T) {
	f := newGeneratorFixture(t, SizingPolicy{MaxRiskPctPerTrade: 200, MaxRiskPctPortfolio: 200})
	n, err := f.svc.Generate(context.Background(), "u1", domain.WindowMorningLimit, "t")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGenerateForAllUsersFansOut(t *testing.T) {
	f := newGeneratorFixture(t, SizingPolicy{MaxRiskPctPerTrade: 200, MaxRiskPctPortfolio: 200})
	seedBook(f, "u1")
	seedBook(f, "u2")

	total, err := f.svc.GenerateForAllUsers(context.Background(), domain.WindowMorningLimit, "t")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestSizingClampsToPortfolioCap(t *testing.T) {
	f := newGeneratorFixture(t, SizingPolicy{MaxRiskPctPerTrade: 2, MaxRiskPctPortfolio: 5})
	seedBook(f, "u1")

	_, err := f.svc.Generate(context.Background(), "u1", domain.WindowMorningLimit, "t")
	require.NoError(t, err)

	for _, s := range f.suggestions.rows {
		// Max loss 10000 against a 15000 book with a 5% portfolio cap.
		assert.Equal(t, "portfolio_risk_cap", s.Sizing.ClampReason)
		assert.Less(t, s.Sizing.RiskMultiplier, 1.0)
		assert.Greater(t, s.Sizing.RiskMultiplier, 0.0)
	}
}

func TestSizingClampsToPerTradeCap(t *testing.T) {
	f := newGeneratorFixture(t, SizingPolicy{MaxRiskPctPerTrade: 10, MaxRiskPctPortfolio: 100})
	seedBook(f, "u1")

	_, err := f.svc.Generate(context.Background(), "u1", domain.WindowMorningLimit, "t")
	require.NoError(t, err)

	for _, s := range f.suggestions.rows {
		assert.Equal(t, "per_trade_risk_cap", s.Sizing.ClampReason)
	}
}

func TestRankOrdersBlockedLast(t *testing.T) {
	list := []domain.Suggestion{
		{ID: "a", Symbol: "AAA", Status: domain.SuggestionNotExecutable, Score: 99},
		{ID: "b", Symbol: "BBB", Status: domain.SuggestionExecutable, Score: 10},
		{ID: "c", Symbol: "CCC", Status: domain.SuggestionExecutable, Score: 50},
	}
	Rank(list)
	assert.Equal(t, []string{"c", "b", "a"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestRankBreaksTiesByEVThenRiskThenSymbol(t *testing.T) {
	list := []domain.Suggestion{
		{ID: "a", Symbol: "ZZZ", Status: domain.SuggestionExecutable, Score: 50,
			Metrics: domain.Metrics{EV: 100}, Sizing: domain.SizingMetadata{MaxLossTotal: 500}},
		{ID: "b", Symbol: "AAA", Status: domain.SuggestionExecutable, Score: 50,
			Metrics: domain.Metrics{EV: 100}, Sizing: domain.SizingMetadata{MaxLossTotal: 500}},
		{ID: "c", Symbol: "MMM", Status: domain.SuggestionExecutable, Score: 50,
			Metrics: domain.Metrics{EV: 100}, Sizing: domain.SizingMetadata{MaxLossTotal: 200}},
		{ID: "d", Symbol: "NNN", Status: domain.SuggestionExecutable, Score: 50,
			Metrics: domain.Metrics{EV: 200}, Sizing: domain.SizingMetadata{MaxLossTotal: 500}},
	}
	Rank(list)
	assert.Equal(t, "d", list[0].ID, "highest EV first")
	assert.Equal(t, "c", list[1].ID, "lower max loss next")
	assert.Equal(t, "b", list[2].ID, "symbol ties alphabetical")
	assert.Equal(t, "a", list[3].ID)
}
