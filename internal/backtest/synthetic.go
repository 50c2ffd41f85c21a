package backtest

import (
	"context"
	"hash/fnv"
	"math/rand"
)

// SyntheticSource generates a reproducible price path and option chain per
// (symbol, window). It stands in for a historical data provider and keeps
// the engine's determinism contract testable end to end.
type SyntheticSource struct {
	// Drift and Vol shape the generated walk; defaults are mild-bull.
	Drift float64
	Vol   float64
}

// NewSyntheticSource returns a source with default drift/volatility.
func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{Drift: 0.0005, Vol: 0.012}
}

func symbolSeed(symbol string, windowDays int) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	return int64(h.Sum64()) + int64(windowDays) //nolint:gosec // hash to seed conversion, overflow is fine
}

// Bars generates windowDays daily bars from a symbol-keyed walk.
func (s *SyntheticSource) Bars(_ context.Context, symbol string, windowDays int) ([]Bar, error) {
	rng := rand.New(rand.NewSource(symbolSeed(symbol, windowDays))) //nolint:gosec // reproducible fixture data
	price := 100.0
	bars := make([]Bar, windowDays)
	for i := range bars {
		move := s.Drift + rng.NormFloat64()*s.Vol
		open := price
		price *= 1 + move
		high := maxf(open, price) * (1 + rng.Float64()*0.004)
		low := minf(open, price) * (1 - rng.Float64()*0.004)
		bars[i] = Bar{Day: i, Open: open, High: high, Low: low, Close: price}
	}
	return bars, nil
}

// Chain generates a small deterministic chain around ATM for the day.
func (s *SyntheticSource) Chain(_ context.Context, symbol string, day int) ([]Contract, error) {
	rng := rand.New(rand.NewSource(symbolSeed(symbol, 0) + int64(day))) //nolint:gosec // reproducible fixture data
	var chain []Contract
	for _, right := range []string{"call", "put"} {
		for _, dte := range []int{7, 14, 30, 45, 60} {
			for _, mny := range []float64{0.90, 0.95, 1.0, 1.05, 1.10} {
				chain = append(chain, Contract{
					Symbol:    symbol,
					Right:     right,
					DTE:       dte,
					Moneyness: mny,
					Mid:       2 + rng.Float64()*3,
				})
			}
		}
	}
	return chain, nil
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
