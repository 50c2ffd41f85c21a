// Package usecase implements the application services: suggestion
// generation, inbox composition, validation and go-live control, autotune,
// task dispatch and health aggregation. Services depend only on domain
// ports so every flow is drivable from tests with fakes.
package usecase

import (
	"sync"

	"github.com/fairyhunter13/options-assistant/internal/config"
)

// StrategyHolder is the process-wide active strategy snapshot. Autotune
// swaps accepted parameter sets in; the generator reads the current one.
type StrategyHolder struct {
	mu       sync.RWMutex
	defaults config.StrategyDefaults
	params   map[string]float64
}

// NewStrategyHolder seeds the holder from configuration defaults.
func NewStrategyHolder(defaults config.StrategyDefaults) *StrategyHolder {
	return &StrategyHolder{
		defaults: defaults,
		params: map[string]float64{
			"lookback_days":       5,
			"entry_threshold_pct": 1.0,
			"exit_threshold_pct":  -2.0,
			"delta_target":        defaults.DeltaTarget,
			"dte_target":          float64(defaults.DTETarget),
		},
	}
}

// Defaults returns the configured strategy defaults.
func (h *StrategyHolder) Defaults() config.StrategyDefaults {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.defaults
}

// Params returns a copy of the active parameter snapshot.
func (h *StrategyHolder) Params() map[string]float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]float64, len(h.params))
	for k, v := range h.params {
		out[k] = v
	}
	return out
}

// Accept installs a new parameter snapshot as the active config.
func (h *StrategyHolder) Accept(params map[string]float64) {
	cp := make(map[string]float64, len(params))
	for k, v := range params {
		cp[k] = v
	}
	h.mu.Lock()
	h.params = cp
	h.mu.Unlock()
}
