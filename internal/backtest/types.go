// Package backtest runs deterministic historical validation over a symbol
// window. All randomness flows through a single seeded RNG per run, so
// identical inputs reproduce byte-identical numeric outputs.
package backtest

import "context"

// Instrument types accepted by the engine.
const (
	InstrumentEquity = "equity"
	InstrumentOption = "option"
)

// Input describes one historical validation request.
type Input struct {
	Symbol              string
	WindowDays          int
	InstrumentType      string
	OptionRight         string // "call" or "put"
	OptionDTE           int
	OptionMoneyness     float64 // strike/spot ratio target, 1.0 = ATM
	UseRollingContracts bool
	StrictOptionMode    bool
	SegmentTolerancePct float64
	ConcurrentRuns      int
	GoalReturnPct       float64
	Seed                int64
	Parameters          map[string]float64
}

// Bar is one daily price record.
type Bar struct {
	Day   int // offset from window start
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// Contract is one listed option the roller may select.
type Contract struct {
	Symbol    string
	Right     string
	DTE       int
	Moneyness float64
	Mid       float64
}

// DataSource supplies bars and option chains for a window. Runs sharing a
// dataset read it concurrently; implementations must be read-only.
type DataSource interface {
	Bars(ctx context.Context, symbol string, windowDays int) ([]Bar, error)
	Chain(ctx context.Context, symbol string, day int) ([]Contract, error)
}

// RunResult is the outcome of one simulated run.
type RunResult struct {
	Seed         int64
	ReturnPct    float64
	MaxDrawdown  float64
	WinRate      float64
	TradesCount  int
	GapSegments  int
	Disqualified bool
}

// Aggregate summarizes the concurrent runs of one request.
type Aggregate struct {
	Best      float64
	Median    float64
	Worst     float64
	Passed    bool
	Runs      []RunResult
	MedianRun RunResult
}
