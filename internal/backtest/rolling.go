package backtest

import "math"

// selectContract picks the chain entry closest to the requested DTE and
// moneyness. Both distances are normalized to percent of target; a match
// outside tolerancePct on either axis is a gap.
func selectContract(chain []Contract, right string, dte int, moneyness, tolerancePct float64) (Contract, bool) {
	best := Contract{}
	bestDist := math.MaxFloat64
	found := false
	for _, c := range chain {
		if c.Right != right {
			continue
		}
		dteDist := math.Abs(float64(c.DTE-dte)) / math.Max(float64(dte), 1) * 100
		mnyDist := math.Abs(c.Moneyness-moneyness) / math.Max(moneyness, 0.01) * 100
		if dteDist > tolerancePct || mnyDist > tolerancePct {
			continue
		}
		dist := dteDist + mnyDist
		if dist < bestDist {
			best, bestDist, found = c, dist, true
		}
	}
	return best, found
}
