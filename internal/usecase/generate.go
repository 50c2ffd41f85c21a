package usecase

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/options-assistant/internal/domain"
	"github.com/fairyhunter13/options-assistant/internal/observability"
)

// SizingPolicy caps per-trade and portfolio risk.
type SizingPolicy struct {
	MaxRiskPctPerTrade  float64
	MaxRiskPctPortfolio float64
}

// GeneratorService produces ranked, constraint-bounded suggestions for a
// (user, window, trading day) cycle.
type GeneratorService struct {
	holdings    domain.HoldingRepository
	suggestions domain.SuggestionRepository
	market      domain.MarketData
	analytics   domain.AnalyticsSink
	clock       domain.Clock
	strategy    *StrategyHolder
	sizing      SizingPolicy
	stats       *CycleStats
}

// NewGeneratorService wires the generator.
func NewGeneratorService(
	holdings domain.HoldingRepository,
	suggestions domain.SuggestionRepository,
	market domain.MarketData,
	analytics domain.AnalyticsSink,
	clk domain.Clock,
	strategy *StrategyHolder,
	sizing SizingPolicy,
	stats *CycleStats,
) *GeneratorService {
	return &GeneratorService{
		holdings: holdings, suggestions: suggestions, market: market,
		analytics: analytics, clock: clk, strategy: strategy, sizing: sizing, stats: stats,
	}
}

// GenerateForAllUsers runs one window cycle for every user with holdings.
// It is the handler body of the suggestions_open/close jobs.
func (g *GeneratorService) GenerateForAllUsers(ctx domain.Context, window domain.Window, traceID string) (int, error) {
	users, err := g.holdings.UserIDs(ctx)
	if err != nil {
		return 0, domain.Retryable(err)
	}
	total := 0
	for _, userID := range users {
		n, err := g.Generate(ctx, userID, window, traceID)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Generate runs one cycle. Re-delivery of the same (user, window, day) is
// a no-op: existing suggestions for the partition short-circuit, keeping
// the handler idempotent under at-least-once delivery.
func (g *GeneratorService) Generate(ctx domain.Context, userID string, window domain.Window, traceID string) (int, error) {
	tracer := otel.Tracer("usecase.generator")
	ctx, span := tracer.Start(ctx, "generator.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("window", string(window)), attribute.String("user.id", userID))

	if !window.Valid() {
		return 0, fmt.Errorf("op=generator.generate: %w: window %q", domain.ErrInvalidArgument, window)
	}
	now := g.clock.Now()
	day := g.clock.TradingDay(now)

	existing, err := g.suggestions.ListActive(ctx, userID, day)
	if err != nil {
		return 0, domain.Retryable(err)
	}
	for _, s := range existing {
		if s.Window == window {
			observability.LoggerFromContext(ctx).Info("cycle already generated",
				"user_id", userID, "window", string(window), "day", day)
			return 0, nil
		}
	}

	holdings, err := g.holdings.ListByUser(ctx, userID)
	if err != nil {
		return 0, domain.Retryable(err)
	}
	portfolioValue, cash := portfolioTotals(holdings)
	if portfolioValue <= 0 {
		return 0, nil
	}

	candidates := g.buildCandidates(holdings, window, now)
	count := 0
	for _, cand := range candidates {
		rep, err := g.market.Assess(ctx, []string{cand.Symbol})
		if err != nil {
			return count, domain.Retryable(err)
		}
		s := g.finalize(cand, rep, userID, window, traceID, now, portfolioValue, cash)
		if _, err := g.suggestions.Insert(ctx, s); err != nil {
			return count, err
		}
		observability.SuggestionsGeneratedTotal.WithLabelValues(string(window), string(s.Status)).Inc()
		g.stats.Record(s.Status == domain.SuggestionNotExecutable)
		count++
	}

	g.analytics.Emit(ctx, domain.AnalyticsEvent{
		EventName: "suggestions_generated",
		Category:  "generator",
		Properties: map[string]any{
			"user_id": userID, "window": string(window), "count": count, "trading_day": day,
		},
	})
	return count, nil
}

// candidate is a pre-gate suggestion skeleton.
type candidate struct {
	Symbol   string
	Strategy string
	Legs     []domain.Leg
	Limit    float64
	Metrics  domain.Metrics
	IVRank   float64
	Score    float64
}

// buildCandidates derives strategy candidates from the book. Covered calls
// against round equity lots, cash-secured puts against concentrated cost
// bases; scout windows only probe, so they get half-sized entries.
func (g *GeneratorService) buildCandidates(holdings []domain.Holding, window domain.Window, now time.Time) []candidate {
	defaults := g.strategy.Defaults()
	expiry := now.AddDate(0, 0, defaults.DTETarget).Format("2006-01-02")
	var out []candidate
	for _, h := range holdings {
		if h.AssetType != domain.AssetEquity || h.CurrentPrice <= 0 {
			continue
		}
		if lots := int(h.Quantity) / 100; lots >= 1 {
			strike := roundStrike(h.CurrentPrice * (1 + defaults.DeltaTarget/2))
			premium := h.CurrentPrice * 0.015
			qty := lots
			if window == domain.WindowScout && qty > 1 {
				qty = qty / 2
			}
			maxLoss := h.CurrentPrice * 100 * float64(qty) // assignment downside on the shares
			winRate := defaults.MinWinRate + 0.1
			ev := premium*100*float64(qty)*winRate - maxLoss*0.002
			out = append(out, candidate{
				Symbol:   h.Symbol,
				Strategy: "covered_call",
				Legs: []domain.Leg{{
					Action: domain.LegSell, Type: domain.LegCall, Quantity: qty,
					Strike: strike, Expiry: expiry,
					OptionSymbol: optionSymbol(h.Symbol, expiry, "C", strike),
				}},
				Limit:   round2(premium),
				Metrics: domain.Metrics{EV: round2(ev), WinRate: winRate, Kelly: kelly(winRate, premium*100, maxLoss), MaxLoss: round2(maxLoss), MaxProfit: round2(premium * 100 * float64(qty))},
				IVRank:  defaults.MinIVRank + 10,
				Score:   round2(ev / math.Max(maxLoss, 1) * 100),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// finalize applies the quality gate verdict and sizing caps to a candidate.
func (g *GeneratorService) finalize(cand candidate, rep domain.QualityReport, userID string, window domain.Window, traceID string, now time.Time, portfolioValue, cash float64) domain.Suggestion {
	s := domain.Suggestion{
		UserID:        userID,
		Window:        window,
		Strategy:      cand.Strategy,
		Symbol:        cand.Symbol,
		DisplaySymbol: cand.Symbol,
		Legs:          cand.Legs,
		LimitPrice:    cand.Limit,
		Metrics:       cand.Metrics,
		IVRank:        cand.IVRank,
		Score:         cand.Score,
		Quality:       &rep,
		TraceID:       traceID,
		CreatedAt:     now,
	}

	s.Sizing = g.size(cand, portfolioValue, cash)

	switch rep.Action {
	case domain.ActionSkipFatal, domain.ActionDefer:
		s.Status = domain.SuggestionNotExecutable
		s.BlockedReason = "marketdata_quality_gate"
		s.BlockedDetail = blockedDetail(rep)
	case domain.ActionDownrank:
		s.Status = domain.SuggestionExecutable
		s.Score = round2(s.Score * 0.5)
	default:
		s.Status = domain.SuggestionExecutable
	}
	return s
}

// size clamps position risk to the configured caps.
func (g *GeneratorService) size(cand candidate, portfolioValue, cash float64) domain.SizingMetadata {
	m := domain.SizingMetadata{
		CapitalRequired: round2(cand.Metrics.MaxLoss),
		MaxLossTotal:    round2(cand.Metrics.MaxLoss),
		RiskMultiplier:  1,
	}
	perTradeCap := portfolioValue * g.sizing.MaxRiskPctPerTrade / 100
	portfolioCap := portfolioValue * g.sizing.MaxRiskPctPortfolio / 100
	switch {
	case m.MaxLossTotal > portfolioCap:
		m.RiskMultiplier = round2(portfolioCap / m.MaxLossTotal)
		m.ClampReason = "portfolio_risk_cap"
	case m.MaxLossTotal > perTradeCap:
		m.RiskMultiplier = round2(perTradeCap / m.MaxLossTotal)
		m.ClampReason = "per_trade_risk_cap"
	case m.CapitalRequired > cash && cash > 0:
		m.RiskMultiplier = round2(cash / m.CapitalRequired)
		m.ClampReason = "deployable_capital"
	}
	return m
}

// Rank orders suggestions by (not blocked, score, ev, -max_loss_total),
// ties broken by symbol then id.
func Rank(list []domain.Suggestion) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		ab := a.Status == domain.SuggestionNotExecutable
		bb := b.Status == domain.SuggestionNotExecutable
		if ab != bb {
			return !ab
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Metrics.EV != b.Metrics.EV {
			return a.Metrics.EV > b.Metrics.EV
		}
		if a.Sizing.MaxLossTotal != b.Sizing.MaxLossTotal {
			return a.Sizing.MaxLossTotal < b.Sizing.MaxLossTotal
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.ID < b.ID
	})
}

func portfolioTotals(holdings []domain.Holding) (total, cash float64) {
	for _, h := range holdings {
		v := h.MarketValue()
		total += v
		if h.AssetType == domain.AssetCash {
			cash += v
		}
	}
	return total, cash
}

func blockedDetail(rep domain.QualityReport) string {
	detail := ""
	for _, sq := range rep.Symbols {
		if sq.Code == domain.QualityOK {
			continue
		}
		if detail != "" {
			detail += ","
		}
		detail += sq.Symbol + ":" + string(sq.Code)
	}
	return detail
}

func kelly(winRate, gain, loss float64) float64 {
	if loss <= 0 || gain <= 0 {
		return 0
	}
	b := gain / loss
	k := winRate - (1-winRate)/b
	if k < 0 {
		return 0
	}
	return round2(k)
}

func roundStrike(v float64) float64 {
	return math.Round(v*2) / 2 // half-dollar strikes
}

func optionSymbol(underlying, expiry, right string, strike float64) string {
	return fmt.Sprintf("%s%s%s%08.0f", underlying, expiry, right, strike*1000)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
