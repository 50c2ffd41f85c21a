package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/options-assistant/internal/clock"
	"github.com/fairyhunter13/options-assistant/internal/domain"
)

type inboxFixture struct {
	suggestions *fakeSuggestions
	holdings    *fakeHoldings
	market      *fakeMarket
	analytics   *fakeAnalytics
	clk         *clock.Fake
	svc         *InboxService
}

func newInboxFixture(t *testing.T, staleAfter time.Duration) *inboxFixture {
	t.Helper()
	f := &inboxFixture{
		suggestions: newFakeSuggestions(),
		holdings:    newFakeHoldings(),
		market:      newFakeMarket(),
		analytics:   &fakeAnalytics{},
		clk:         clock.NewFake(time.Date(2026, 2, 2, 16, 0, 0, 0, time.UTC)),
	}
	f.svc = NewInboxService(f.suggestions, f.holdings, f.market, f.analytics, f.clk, staleAfter)
	return f
}

func (f *inboxFixture) add(id string, status domain.SuggestionStatus, score float64, createdAt time.Time) {
	f.suggestions.rows[id] = domain.Suggestion{
		ID: id, UserID: "u1", Symbol: "AAPL", Status: status, Score: score,
		Metrics: domain.Metrics{EV: score}, CreatedAt: createdAt,
	}
}

func TestComposeHeroIsTopFreshExecutable(t *testing.T) {
	f := newInboxFixture(t, 5*time.Minute)
	now := f.clk.Now()
	f.add("low", domain.SuggestionExecutable, 10, now)
	f.add("top", domain.SuggestionExecutable, 90, now)
	f.add("blocked", domain.SuggestionNotExecutable, 99, now)
	f.add("done", domain.SuggestionDismissed, 50, now)

	view, err := f.svc.Compose(context.Background(), "u1")
	require.NoError(t, err)

	require.NotNil(t, view.Hero)
	assert.Equal(t, "top", view.Hero.ID)
	require.Len(t, view.Queue, 2)
	assert.Equal(t, "low", view.Queue[0].ID)
	assert.Equal(t, "blocked", view.Queue[1].ID, "blocked suggestions rank below executable")
	require.Len(t, view.Completed, 1)
	assert.Equal(t, "done", view.Completed[0].ID)
	assert.Equal(t, 100.0, view.Meta.TotalEVAvailable)
}

func TestComposeStaleSuggestionCannotBeHero(t *testing.T) {
	f := newInboxFixture(t, 5*time.Minute)
	now := f.clk.Now()

	// Exactly at the threshold the suggestion is still fresh.
	f.add("edge", domain.SuggestionExecutable, 90, now.Add(-5*time.Minute))
	view, err := f.svc.Compose(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, view.Hero)
	assert.Equal(t, "edge", view.Hero.ID)

	// One second past the threshold it is stale and stays in the queue.
	f.clk.Advance(time.Second)
	view, err = f.svc.Compose(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, view.Hero)
	require.Len(t, view.Queue, 1)
}

func TestComposeRefreshedAtExtendsFreshness(t *testing.T) {
	f := newInboxFixture(t, 5*time.Minute)
	now := f.clk.Now()
	f.suggestions.rows["s1"] = domain.Suggestion{
		ID: "s1", UserID: "u1", Status: domain.SuggestionExecutable, Score: 50,
		CreatedAt:   now.Add(-time.Hour),
		RefreshedAt: now.Add(-time.Minute),
	}

	view, err := f.svc.Compose(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, view.Hero)
	assert.Equal(t, "s1", view.Hero.ID)
}

func TestStageBatchReportsPerIDOutcomes(t *testing.T) {
	f := newInboxFixture(t, 5*time.Minute)
	now := f.clk.Now()
	f.add("ok", domain.SuggestionExecutable, 50, now)
	f.add("blocked", domain.SuggestionNotExecutable, 50, now)
	f.add("staged", domain.SuggestionStaged, 50, now)
	f.add("gone", domain.SuggestionDismissed, 50, now)

	out, err := f.svc.StageBatch(context.Background(), "u1", []string{"ok", "blocked", "staged", "gone", "missing"})
	require.NoError(t, err)

	assert.Equal(t, []string{"ok"}, out.Staged)
	require.Len(t, out.Failed, 4)
	reasons := map[string]string{}
	for _, fl := range out.Failed {
		reasons[fl.ID] = fl.Reason
	}
	assert.Equal(t, "not_executable", reasons["blocked"])
	assert.Equal(t, "already_staged", reasons["staged"])
	assert.Equal(t, "terminal", reasons["gone"])
	assert.Equal(t, "not_found", reasons["missing"])

	assert.Equal(t, domain.SuggestionStaged, f.suggestions.rows["ok"].Status)
	assert.Contains(t, f.analytics.names(), "suggestions_staged")
}

func TestStageBatchScopedToUser(t *testing.T) {
	f := newInboxFixture(t, 5*time.Minute)
	f.suggestions.rows["other"] = domain.Suggestion{
		ID: "other", UserID: "u2", Status: domain.SuggestionExecutable,
	}

	out, err := f.svc.StageBatch(context.Background(), "u1", []string{"other"})
	require.NoError(t, err)
	assert.Empty(t, out.Staged)
	require.Len(t, out.Failed, 1)
	assert.Equal(t, "not_found", out.Failed[0].Reason)
}

func TestDismissRequiresValidReason(t *testing.T) {
	f := newInboxFixture(t, 5*time.Minute)
	f.add("s1", domain.SuggestionExecutable, 50, f.clk.Now())

	err := f.svc.Dismiss(context.Background(), "u1", "s1", domain.DismissReason("meh"))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	err = f.svc.Dismiss(context.Background(), "u1", "s1", domain.DismissTooRisky)
	require.NoError(t, err)
	assert.Equal(t, domain.SuggestionDismissed, f.suggestions.rows["s1"].Status)
	assert.Contains(t, f.analytics.names(), "suggestion_dismissed")
}

func TestDismissStagedBacksOutOfExecution(t *testing.T) {
	f := newInboxFixture(t, 5*time.Minute)
	f.add("staged", domain.SuggestionStaged, 50, f.clk.Now())

	err := f.svc.Dismiss(context.Background(), "u1", "staged", domain.DismissWrongTiming)
	require.NoError(t, err)
	assert.Equal(t, domain.SuggestionDismissed, f.suggestions.rows["staged"].Status)
	require.NotEmpty(t, f.analytics.events)
	last := f.analytics.events[len(f.analytics.events)-1]
	assert.Equal(t, true, last.Properties["was_staged"])
}

func TestDismissRejectsTerminal(t *testing.T) {
	f := newInboxFixture(t, 5*time.Minute)
	f.add("done", domain.SuggestionCompleted, 50, f.clk.Now())
	f.add("gone", domain.SuggestionDismissed, 50, f.clk.Now())

	err := f.svc.Dismiss(context.Background(), "u1", "done", domain.DismissOther)
	require.ErrorIs(t, err, domain.ErrConflict)
	err = f.svc.Dismiss(context.Background(), "u1", "gone", domain.DismissOther)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestCompleteRequiresStaged(t *testing.T) {
	f := newInboxFixture(t, 5*time.Minute)
	f.add("staged", domain.SuggestionStaged, 50, f.clk.Now())
	f.add("fresh", domain.SuggestionExecutable, 50, f.clk.Now())

	err := f.svc.Complete(context.Background(), "u1", "staged")
	require.NoError(t, err)
	assert.Equal(t, domain.SuggestionCompleted, f.suggestions.rows["staged"].Status)
	assert.Contains(t, f.analytics.names(), "suggestion_completed")

	err = f.svc.Complete(context.Background(), "u1", "fresh")
	require.ErrorIs(t, err, domain.ErrConflict)
	err = f.svc.Complete(context.Background(), "u1", "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRefreshQuoteFlipsStatusWithVerdict(t *testing.T) {
	f := newInboxFixture(t, 5*time.Minute)
	f.suggestions.rows["s1"] = domain.Suggestion{
		ID: "s1", UserID: "u1", Symbol: "AAPL", Status: domain.SuggestionNotExecutable,
		CreatedAt: f.clk.Now().Add(-time.Hour),
	}

	sg, err := f.svc.RefreshQuote(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SuggestionExecutable, sg.Status)
	assert.Equal(t, f.clk.Now(), sg.RefreshedAt)
	require.NotNil(t, sg.Quality)
	assert.Equal(t, domain.ActionAccept, sg.Quality.Action)
}

func TestRefreshQuoteBlocksOnBadVerdict(t *testing.T) {
	f := newInboxFixture(t, 5*time.Minute)
	f.add("s1", domain.SuggestionExecutable, 50, f.clk.Now())
	f.market.reports["AAPL"] = domain.QualityReport{
		Symbols: []domain.SymbolQuality{{Symbol: "AAPL", Code: domain.QualityFailNoQuote}},
		Action:  domain.ActionSkipFatal,
	}

	sg, err := f.svc.RefreshQuote(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SuggestionNotExecutable, sg.Status)
}
