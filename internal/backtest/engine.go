package backtest

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
)

// Engine executes historical validation runs against a data source.
type Engine struct {
	source DataSource
}

// NewEngine constructs an engine over the given data source.
func NewEngine(source DataSource) *Engine {
	return &Engine{source: source}
}

// Run executes in.ConcurrentRuns simulations sharing one dataset. Run i
// derives its RNG from Seed+i, so the whole aggregate is reproducible.
func (e *Engine) Run(ctx context.Context, in Input) (Aggregate, error) {
	if in.WindowDays <= 0 {
		return Aggregate{}, fmt.Errorf("backtest: window_days must be positive")
	}
	runs := in.ConcurrentRuns
	if runs <= 0 {
		runs = 1
	}
	bars, err := e.source.Bars(ctx, in.Symbol, in.WindowDays)
	if err != nil {
		return Aggregate{}, fmt.Errorf("backtest: bars: %w", err)
	}
	if len(bars) < 2 {
		return Aggregate{}, fmt.Errorf("backtest: insufficient history for %s", in.Symbol)
	}

	results := make([]RunResult, runs)
	errs := make([]error, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seed := in.Seed + int64(i)
			rng := rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic simulation RNG by design contract
			results[i], errs[i] = e.simulate(ctx, in, bars, rng, seed)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return Aggregate{}, err
		}
	}

	return aggregate(results, in.GoalReturnPct), nil
}

// simulate walks the window once. The strategy is a plain momentum entry:
// go long (spot or rolled contract) when the lookback return clears the
// entry threshold, exit on the exit threshold or window end.
func (e *Engine) simulate(ctx context.Context, in Input, bars []Bar, rng *rand.Rand, seed int64) (RunResult, error) {
	lookback := int(param(in.Parameters, "lookback_days", 5))
	if lookback < 1 {
		lookback = 1
	}
	entryPct := param(in.Parameters, "entry_threshold_pct", 1.0)
	exitPct := param(in.Parameters, "exit_threshold_pct", -2.0)
	// Per-run perturbation keeps concurrent runs distinct but reproducible.
	entryPct += (rng.Float64() - 0.5) * 0.2

	res := RunResult{Seed: seed}
	equity := 100.0
	peak := equity
	inPosition := false
	entryPrice := 0.0
	leverage := 1.0

	for day := lookback; day < len(bars); day++ {
		if ctx.Err() != nil {
			return RunResult{}, ctx.Err()
		}
		momentum := (bars[day].Close - bars[day-lookback].Close) / bars[day-lookback].Close * 100

		if !inPosition && momentum >= entryPct {
			if in.InstrumentType == InstrumentOption && in.UseRollingContracts {
				chain, err := e.source.Chain(ctx, in.Symbol, day)
				if err != nil {
					return RunResult{}, fmt.Errorf("backtest: chain day %d: %w", day, err)
				}
				c, ok := selectContract(chain, in.OptionRight, in.OptionDTE, in.OptionMoneyness, in.SegmentTolerancePct)
				if !ok {
					res.GapSegments++
					if in.StrictOptionMode {
						res.Disqualified = true
						return res, nil
					}
					continue // segment dropped
				}
				leverage = leverageFor(c)
			} else {
				leverage = 1.0
			}
			inPosition = true
			entryPrice = bars[day].Close
			continue
		}

		if inPosition {
			change := (bars[day].Close - entryPrice) / entryPrice * 100
			if momentum <= exitPct || day == len(bars)-1 {
				equity *= 1 + change/100*leverage
				res.TradesCount++
				if change > 0 {
					res.WinRate++
				}
				inPosition = false
			}
		}
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak * 100; dd > res.MaxDrawdown {
			res.MaxDrawdown = dd
		}
	}

	if res.TradesCount > 0 {
		res.WinRate /= float64(res.TradesCount)
	}
	res.ReturnPct = round2(equity - 100)
	res.MaxDrawdown = round2(res.MaxDrawdown)
	return res, nil
}

// leverageFor approximates option convexity from moneyness; deep OTM
// contracts move harder per unit of spot.
func leverageFor(c Contract) float64 {
	l := 2 + (c.Moneyness-1)*4
	if l < 1 {
		l = 1
	}
	if l > 4 {
		l = 4
	}
	return l
}

func param(p map[string]float64, key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

func round2(v float64) float64 {
	return float64(int64(v*100+copysignHalf(v))) / 100
}

func copysignHalf(v float64) float64 {
	if v < 0 {
		return -0.5
	}
	return 0.5
}

// aggregate sorts run returns and derives best/median/worst and the pass
// verdict. Any disqualified run fails the whole request.
func aggregate(results []RunResult, goal float64) Aggregate {
	sorted := make([]RunResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ReturnPct < sorted[j].ReturnPct })

	agg := Aggregate{Runs: results}
	agg.Worst = sorted[0].ReturnPct
	agg.Best = sorted[len(sorted)-1].ReturnPct
	agg.MedianRun = sorted[len(sorted)/2]
	agg.Median = agg.MedianRun.ReturnPct
	agg.Passed = agg.Median >= goal
	for _, r := range results {
		if r.Disqualified {
			agg.Passed = false
		}
	}
	return agg
}
