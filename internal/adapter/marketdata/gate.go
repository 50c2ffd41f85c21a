package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fairyhunter13/options-assistant/internal/domain"
	"github.com/fairyhunter13/options-assistant/internal/observability"
)

// GatePolicy tunes the per-symbol scoring and aggregation.
type GatePolicy struct {
	// StaleAfter bounds quote age before WARN_STALE.
	StaleAfter time.Duration
	// MaxSpreadPct bounds (ask-bid)/mid before WARN_WIDE_SPREAD.
	MaxSpreadPct float64
	// AllowDeferOnFail downgrades FAIL verdicts from skip_fatal to defer.
	AllowDeferOnFail bool
}

// Service implements domain.MarketData: quotes through cache, breaker and
// provider, plus the quality gate.
type Service struct {
	client  *Client
	cache   *QuoteCache
	breaker *Breaker
	policy  GatePolicy
	clock   domain.Clock
}

// NewService wires the gate from its parts.
func NewService(client *Client, cache *QuoteCache, breaker *Breaker, policy GatePolicy, clk domain.Clock) *Service {
	if policy.StaleAfter <= 0 {
		policy.StaleAfter = 90 * time.Second
	}
	if policy.MaxSpreadPct <= 0 {
		policy.MaxSpreadPct = 5
	}
	return &Service{client: client, cache: cache, breaker: breaker, policy: policy, clock: clk}
}

// Quotes returns per-symbol quotes, serving from cache where possible.
// Provider failure while the breaker is open surfaces as ErrProviderDown.
func (s *Service) Quotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	cached, missing := s.cache.Get(ctx, symbols)
	if len(missing) == 0 {
		return cached, nil
	}
	var fetched map[string]domain.Quote
	err := s.breaker.Call(func() error {
		var ferr error
		fetched, ferr = s.client.Quotes(ctx, missing)
		return ferr
	})
	if err != nil {
		var open *ErrBreakerOpen
		if errors.As(err, &open) {
			return cached, fmt.Errorf("op=marketdata.assess: %w", domain.ErrProviderDown)
		}
		return cached, err
	}
	s.cache.Put(ctx, fetched)
	for sym, q := range fetched {
		cached[sym] = q
	}
	return cached, nil
}

// Assess scores each symbol and aggregates into the effective action.
// With the breaker open, symbols still covered by the cache are scored
// normally; only the uncovered remainder fails on the provider.
func (s *Service) Assess(ctx context.Context, symbols []string) (domain.QualityReport, error) {
	quotes, err := s.Quotes(ctx, symbols)
	providerOpen := err != nil && errors.Is(err, domain.ErrProviderDown)
	if err != nil && !providerOpen {
		return domain.QualityReport{}, err
	}

	now := s.clock.Now()
	rep := domain.QualityReport{}
	for _, sym := range symbols {
		var sq domain.SymbolQuality
		if _, cached := quotes[sym]; providerOpen && !cached {
			sq = domain.SymbolQuality{Symbol: sym, Code: domain.QualityFailProvider, Score: 0, Detail: "provider circuit open"}
		} else {
			sq = s.score(sym, quotes, now)
		}
		observability.GateVerdictsTotal.WithLabelValues(string(sq.Code)).Inc()
		rep.Symbols = append(rep.Symbols, sq)
	}
	rep.Action = s.aggregate(rep.Symbols)
	return rep, nil
}

func (s *Service) score(sym string, quotes map[string]domain.Quote, now time.Time) domain.SymbolQuality {
	q, ok := quotes[sym]
	if !ok || q.AsOfMilli == 0 {
		return domain.SymbolQuality{Symbol: sym, Code: domain.QualityFailNoQuote, Score: 0, Detail: "no quote"}
	}
	if q.Bid > q.Ask && q.Ask > 0 {
		return domain.SymbolQuality{Symbol: sym, Code: domain.QualityFailCrossed, Score: 0,
			Detail: fmt.Sprintf("bid %.2f over ask %.2f", q.Bid, q.Ask)}
	}
	age := now.Sub(time.UnixMilli(q.AsOfMilli))
	if age > s.policy.StaleAfter {
		return domain.SymbolQuality{Symbol: sym, Code: domain.QualityWarnStale, Score: 0.5,
			Detail: fmt.Sprintf("quote age %s", age.Truncate(time.Second))}
	}
	mid := (q.Bid + q.Ask) / 2
	if mid > 0 {
		spreadPct := (q.Ask - q.Bid) / mid * 100
		if spreadPct > s.policy.MaxSpreadPct {
			return domain.SymbolQuality{Symbol: sym, Code: domain.QualityWarnWideSpread, Score: 0.6,
				Detail: fmt.Sprintf("spread %.1f%%", spreadPct)}
		}
	}
	return domain.SymbolQuality{Symbol: sym, Code: domain.QualityOK, Score: 1}
}

// aggregate maps verdicts to the effective action: any FAIL is fatal
// (unless policy permits defer), two or more WARNs defer, one WARN
// downranks, all OK accepts.
func (s *Service) aggregate(symbols []domain.SymbolQuality) domain.EffectiveAction {
	warns := 0
	for _, sq := range symbols {
		if sq.Code.Fail() {
			if s.policy.AllowDeferOnFail {
				return domain.ActionDefer
			}
			return domain.ActionSkipFatal
		}
		if sq.Code.Warn() {
			warns++
		}
	}
	switch {
	case warns >= 2:
		return domain.ActionDefer
	case warns == 1:
		return domain.ActionDownrank
	default:
		return domain.ActionAccept
	}
}

// BreakerState reports the provider circuit state for health output.
func (s *Service) BreakerState() string { return s.breaker.State().String() }

// CacheStats returns quote cache hit/miss counters.
func (s *Service) CacheStats() (int64, int64) { return s.cache.Stats() }
