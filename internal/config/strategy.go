package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StrategyDefaults seeds the active strategy parameters before autotune has
// accepted any snapshot.
type StrategyDefaults struct {
	Name          string  `yaml:"name"`
	DeltaTarget   float64 `yaml:"delta_target"`
	DTETarget     int     `yaml:"dte_target"`
	MinIVRank     float64 `yaml:"min_iv_rank"`
	MinWinRate    float64 `yaml:"min_win_rate"`
	MinEV         float64 `yaml:"min_ev"`
	KellyFraction float64 `yaml:"kelly_fraction"`
}

// DefaultStrategy is used when no defaults file is configured.
func DefaultStrategy() StrategyDefaults {
	return StrategyDefaults{
		Name:          "wheel_csp",
		DeltaTarget:   0.30,
		DTETarget:     35,
		MinIVRank:     25,
		MinWinRate:    0.60,
		MinEV:         0,
		KellyFraction: 0.25,
	}
}

// LoadStrategyDefaults reads the YAML defaults file, or the built-in
// defaults when path is empty.
func LoadStrategyDefaults(path string) (StrategyDefaults, error) {
	if path == "" {
		return DefaultStrategy(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return StrategyDefaults{}, fmt.Errorf("op=config.LoadStrategyDefaults: %w", err)
	}
	s := DefaultStrategy()
	if err := yaml.Unmarshal(b, &s); err != nil {
		return StrategyDefaults{}, fmt.Errorf("op=config.LoadStrategyDefaults: %w", err)
	}
	return s, nil
}
