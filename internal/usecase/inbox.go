package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/fairyhunter13/options-assistant/internal/domain"
)

// InboxView is the composed inbox response.
type InboxView struct {
	Hero      *domain.Suggestion  `json:"hero"`
	Queue     []domain.Suggestion `json:"queue"`
	Completed []domain.Suggestion `json:"completed"`
	Meta      InboxMeta           `json:"meta"`
}

// InboxMeta carries the aggregates the UI renders above the buckets.
type InboxMeta struct {
	TotalEVAvailable  float64 `json:"total_ev_available"`
	DeployableCapital float64 `json:"deployable_capital"`
	StaleAfterSeconds int     `json:"stale_after_seconds"`
}

// StageOutcome reports a batch stage per id.
type StageOutcome struct {
	Staged []string      `json:"staged"`
	Failed []StageFailed `json:"failed"`
}

// StageFailed names one id that could not be staged and why.
type StageFailed struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// InboxService composes the inbox and runs the staging/dismissal flows.
type InboxService struct {
	suggestions domain.SuggestionRepository
	holdings    domain.HoldingRepository
	market      domain.MarketData
	analytics   domain.AnalyticsSink
	clock       domain.Clock
	staleAfter  time.Duration
}

// NewInboxService wires the inbox.
func NewInboxService(
	suggestions domain.SuggestionRepository,
	holdings domain.HoldingRepository,
	market domain.MarketData,
	analytics domain.AnalyticsSink,
	clk domain.Clock,
	staleAfter time.Duration,
) *InboxService {
	if staleAfter <= 0 {
		staleAfter = 300 * time.Second
	}
	return &InboxService{suggestions: suggestions, holdings: holdings, market: market,
		analytics: analytics, clock: clk, staleAfter: staleAfter}
}

// Compose builds the hero/queue/completed buckets for today. The hero is
// the single top-ranked fresh EXECUTABLE suggestion; everything else
// active lands in the queue.
func (s *InboxService) Compose(ctx domain.Context, userID string) (InboxView, error) {
	now := s.clock.Now()
	day := s.clock.TradingDay(now)

	active, err := s.suggestions.ListActive(ctx, userID, day)
	if err != nil {
		return InboxView{}, err
	}
	terminal, err := s.suggestions.ListTerminal(ctx, userID, day)
	if err != nil {
		return InboxView{}, err
	}
	holdings, err := s.holdings.ListByUser(ctx, userID)
	if err != nil {
		return InboxView{}, err
	}
	_, cash := portfolioTotals(holdings)

	Rank(active)
	view := InboxView{
		Completed: terminal,
		Meta: InboxMeta{
			DeployableCapital: round2(cash),
			StaleAfterSeconds: int(s.staleAfter.Seconds()),
		},
	}
	for i := range active {
		sg := active[i]
		if sg.Status == domain.SuggestionExecutable {
			view.Meta.TotalEVAvailable += sg.Metrics.EV
		}
		if view.Hero == nil && sg.Status == domain.SuggestionExecutable && !sg.Stale(now, s.staleAfter) {
			view.Hero = &active[i]
			continue
		}
		view.Queue = append(view.Queue, sg)
	}
	view.Meta.TotalEVAvailable = round2(view.Meta.TotalEVAvailable)
	return view, nil
}

// StageBatch transitions each id EXECUTABLE->STAGED, reporting per-id
// failures instead of aborting the batch.
func (s *InboxService) StageBatch(ctx domain.Context, userID string, ids []string) (StageOutcome, error) {
	out := StageOutcome{Staged: []string{}, Failed: []StageFailed{}}
	for _, id := range ids {
		sg, err := s.suggestions.Get(ctx, userID, id)
		if err != nil {
			reason := "not_found"
			if !errors.Is(err, domain.ErrNotFound) {
				reason = "unavailable"
			}
			out.Failed = append(out.Failed, StageFailed{ID: id, Reason: reason})
			continue
		}
		if sg.Status != domain.SuggestionExecutable {
			reason := "not_executable"
			if sg.Status == domain.SuggestionStaged {
				reason = "already_staged"
			} else if sg.Status.Terminal() {
				reason = "terminal"
			}
			out.Failed = append(out.Failed, StageFailed{ID: id, Reason: reason})
			continue
		}
		err = s.suggestions.UpdateStatus(ctx, userID, id, domain.SuggestionExecutable, domain.SuggestionStaged, "stage_batch")
		if err != nil {
			out.Failed = append(out.Failed, StageFailed{ID: id, Reason: "conflict"})
			continue
		}
		out.Staged = append(out.Staged, id)
	}
	s.analytics.Emit(ctx, domain.AnalyticsEvent{
		EventName: "suggestions_staged",
		Category:  "inbox",
		Properties: map[string]any{
			"user_id": userID, "staged": len(out.Staged), "failed": len(out.Failed),
		},
	})
	return out, nil
}

// Dismiss moves an active suggestion to DISMISSED with a tagged reason.
// Staged suggestions may still be dismissed; that is the partial-outcome
// path where the user entered the execution flow and backed out.
func (s *InboxService) Dismiss(ctx domain.Context, userID, id string, reason domain.DismissReason) error {
	if !reason.Valid() {
		return fmt.Errorf("op=inbox.dismiss: %w: reason %q", domain.ErrInvalidArgument, reason)
	}
	sg, err := s.suggestions.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if sg.Status.Terminal() {
		return fmt.Errorf("op=inbox.dismiss: %w: status %s", domain.ErrConflict, sg.Status)
	}
	if err := s.suggestions.UpdateStatus(ctx, userID, id, sg.Status, domain.SuggestionDismissed, string(reason)); err != nil {
		return err
	}
	s.analytics.Emit(ctx, domain.AnalyticsEvent{
		EventName: "suggestion_dismissed",
		Category:  "inbox",
		Properties: map[string]any{
			"user_id": userID, "suggestion_id": id, "reason": string(reason),
			"was_staged": sg.Status == domain.SuggestionStaged,
		},
	})
	return nil
}

// Complete marks a staged suggestion as executed. Only STAGED rows
// qualify; everything else answers conflict.
func (s *InboxService) Complete(ctx domain.Context, userID, id string) error {
	sg, err := s.suggestions.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if sg.Status != domain.SuggestionStaged {
		return fmt.Errorf("op=inbox.complete: %w: status %s", domain.ErrConflict, sg.Status)
	}
	if err := s.suggestions.UpdateStatus(ctx, userID, id, domain.SuggestionStaged, domain.SuggestionCompleted, "user_completed"); err != nil {
		return err
	}
	s.analytics.Emit(ctx, domain.AnalyticsEvent{
		EventName: "suggestion_completed",
		Category:  "inbox",
		Properties: map[string]any{"user_id": userID, "suggestion_id": id},
	})
	return nil
}

// RefreshQuote re-runs the quality gate for one suggestion and rewrites
// its verdict and refreshed_at.
func (s *InboxService) RefreshQuote(ctx domain.Context, userID, id string) (domain.Suggestion, error) {
	sg, err := s.suggestions.Get(ctx, userID, id)
	if err != nil {
		return domain.Suggestion{}, err
	}
	rep, err := s.market.Assess(ctx, []string{sg.Symbol})
	if err != nil {
		return domain.Suggestion{}, err
	}
	if err := s.suggestions.RefreshQuality(ctx, userID, id, rep, s.clock.Now()); err != nil {
		return domain.Suggestion{}, err
	}
	return s.suggestions.Get(ctx, userID, id)
}
