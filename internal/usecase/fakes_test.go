package usecase

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/options-assistant/internal/domain"
)

// Hand-written fakes over the domain ports. They hold rows in memory and
// record calls so tests can assert both outcomes and side effects.

type fakeHoldings struct {
	rows map[string][]domain.Holding
}

func newFakeHoldings() *fakeHoldings {
	return &fakeHoldings{rows: map[string][]domain.Holding{}}
}

func (f *fakeHoldings) ListByUser(_ domain.Context, userID string) ([]domain.Holding, error) {
	return f.rows[userID], nil
}

func (f *fakeHoldings) Upsert(_ domain.Context, h domain.Holding) error {
	f.rows[h.UserID] = append(f.rows[h.UserID], h)
	return nil
}

func (f *fakeHoldings) UserIDs(domain.Context) ([]string, error) {
	var out []string
	for id := range f.rows {
		out = append(out, id)
	}
	return out, nil
}

type fakeSuggestions struct {
	rows     map[string]domain.Suggestion
	nextID   int
	updates  []string
	outcomes domain.OutcomeStats
}

func newFakeSuggestions() *fakeSuggestions {
	return &fakeSuggestions{rows: map[string]domain.Suggestion{}}
}

func (f *fakeSuggestions) Insert(_ domain.Context, s domain.Suggestion) (string, error) {
	f.nextID++
	if s.ID == "" {
		s.ID = fmt.Sprintf("sg-%d", f.nextID)
	}
	f.rows[s.ID] = s
	return s.ID, nil
}

func (f *fakeSuggestions) Get(_ domain.Context, userID, id string) (domain.Suggestion, error) {
	s, ok := f.rows[id]
	if !ok || s.UserID != userID {
		return domain.Suggestion{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeSuggestions) ListActive(_ domain.Context, userID string, _ string) ([]domain.Suggestion, error) {
	var out []domain.Suggestion
	for _, s := range f.rows {
		if s.UserID == userID && !s.Status.Terminal() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSuggestions) ListTerminal(_ domain.Context, userID string, _ string) ([]domain.Suggestion, error) {
	var out []domain.Suggestion
	for _, s := range f.rows {
		if s.UserID == userID && s.Status.Terminal() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSuggestions) UpdateStatus(_ domain.Context, userID, id string, from, to domain.SuggestionStatus, reason string) error {
	s, ok := f.rows[id]
	if !ok || s.UserID != userID {
		return domain.ErrNotFound
	}
	if s.Status != from {
		return domain.ErrConflict
	}
	s.Status = to
	f.rows[id] = s
	f.updates = append(f.updates, fmt.Sprintf("%s:%s->%s(%s)", id, from, to, reason))
	return nil
}

func (f *fakeSuggestions) RefreshQuality(_ domain.Context, userID, id string, q domain.QualityReport, refreshedAt time.Time) error {
	s, ok := f.rows[id]
	if !ok || s.UserID != userID {
		return domain.ErrNotFound
	}
	s.Quality = &q
	s.RefreshedAt = refreshedAt
	if q.Blocked() {
		s.Status = domain.SuggestionNotExecutable
	} else if s.Status == domain.SuggestionNotExecutable {
		s.Status = domain.SuggestionExecutable
	}
	f.rows[id] = s
	return nil
}

func (f *fakeSuggestions) OutcomeStats(domain.Context, time.Time) (domain.OutcomeStats, error) {
	return f.outcomes, nil
}

type fakeMarket struct {
	reports map[string]domain.QualityReport
	breaker string
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{reports: map[string]domain.QualityReport{}, breaker: "CLOSED"}
}

func (f *fakeMarket) report(sym string) domain.QualityReport {
	if rep, ok := f.reports[sym]; ok {
		return rep
	}
	return domain.QualityReport{
		Symbols: []domain.SymbolQuality{{Symbol: sym, Code: domain.QualityOK, Score: 1}},
		Action:  domain.ActionAccept,
	}
}

func (f *fakeMarket) Quotes(_ domain.Context, symbols []string) (map[string]domain.Quote, error) {
	out := map[string]domain.Quote{}
	for _, sym := range symbols {
		out[sym] = domain.Quote{Symbol: sym, Bid: 99.9, Ask: 100.1}
	}
	return out, nil
}

func (f *fakeMarket) Assess(_ domain.Context, symbols []string) (domain.QualityReport, error) {
	rep := domain.QualityReport{Action: domain.ActionAccept}
	for _, sym := range symbols {
		sub := f.report(sym)
		rep.Symbols = append(rep.Symbols, sub.Symbols...)
		if sub.Action != domain.ActionAccept {
			rep.Action = sub.Action
		}
	}
	return rep, nil
}

func (f *fakeMarket) BreakerState() string       { return f.breaker }
func (f *fakeMarket) CacheStats() (int64, int64) { return 7, 3 }

type fakeAnalytics struct {
	events []domain.AnalyticsEvent
}

func (f *fakeAnalytics) Emit(_ domain.Context, e domain.AnalyticsEvent) {
	f.events = append(f.events, e)
}

func (f *fakeAnalytics) names() []string {
	var out []string
	for _, e := range f.events {
		out = append(out, e.EventName)
	}
	return out
}

type fakeStates struct {
	rows map[string]domain.ValidationState
}

func newFakeStates() *fakeStates { return &fakeStates{rows: map[string]domain.ValidationState{}} }

func (f *fakeStates) GetState(_ domain.Context, userID string) (domain.ValidationState, error) {
	st, ok := f.rows[userID]
	if !ok {
		return domain.ValidationState{}, domain.ErrNotFound
	}
	return st, nil
}

func (f *fakeStates) SaveState(_ domain.Context, v domain.ValidationState) error {
	f.rows[v.UserID] = v
	return nil
}

type fakeJournal struct {
	entries []domain.ValidationJournalEntry
}

func (f *fakeJournal) Append(_ domain.Context, e domain.ValidationJournalEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeJournal) List(_ domain.Context, userID string, limit int) ([]domain.ValidationJournalEntry, error) {
	var out []domain.ValidationJournalEntry
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if f.entries[i].UserID == userID {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

func (f *fakeJournal) titles() []string {
	var out []string
	for _, e := range f.entries {
		out = append(out, e.Title)
	}
	return out
}

type fakeHistorical struct {
	rows []domain.HistoricalRun
}

func (f *fakeHistorical) Insert(_ domain.Context, r domain.HistoricalRun) (string, error) {
	f.rows = append(f.rows, r)
	return fmt.Sprintf("hr-%d", len(f.rows)), nil
}

func (f *fakeHistorical) ListByUser(_ domain.Context, userID string, limit int) ([]domain.HistoricalRun, error) {
	var out []domain.HistoricalRun
	for _, r := range f.rows {
		if r.UserID == userID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

// fakeQueue enforces the one-non-terminal-row-per-key idempotency contract.
type fakeQueue struct {
	runs   map[string]domain.JobRun
	nextID int
}

func newFakeQueue() *fakeQueue { return &fakeQueue{runs: map[string]domain.JobRun{}} }

func (f *fakeQueue) Enqueue(_ domain.Context, req domain.EnqueueRequest) (domain.JobRun, error) {
	key := req.JobName + "|" + req.IdempotencyKey
	if existing, ok := f.runs[key]; ok && !existing.Status.Terminal() {
		return existing, domain.ErrConflict
	}
	f.nextID++
	run := domain.JobRun{
		ID:             fmt.Sprintf("job-%d", f.nextID),
		JobName:        req.JobName,
		IdempotencyKey: req.IdempotencyKey,
		Status:         domain.JobPending,
		MaxAttempts:    5,
		Payload:        req.Payload,
		RunAfter:       req.RunAfter,
	}
	f.runs[key] = run
	return run, nil
}

// fakeJobs serves the health aggregation queries.
type fakeJobs struct {
	lastSuccess map[string]domain.JobRun
	lastRun     map[string]domain.JobRun
	deadLetters int
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{lastSuccess: map[string]domain.JobRun{}, lastRun: map[string]domain.JobRun{}}
}

func (f *fakeJobs) Enqueue(domain.Context, domain.EnqueueRequest) (domain.JobRun, error) {
	return domain.JobRun{}, nil
}
func (f *fakeJobs) Get(domain.Context, string) (domain.JobRun, error) {
	return domain.JobRun{}, domain.ErrNotFound
}
func (f *fakeJobs) Claim(domain.Context, string, int, time.Time) ([]domain.JobRun, error) {
	return nil, nil
}
func (f *fakeJobs) MarkCompleted(domain.Context, string, int, map[string]any, time.Time) error {
	return nil
}
func (f *fakeJobs) MarkRetryable(domain.Context, string, int, string, time.Time) error { return nil }
func (f *fakeJobs) MarkTerminal(domain.Context, string, int, domain.JobStatus, string, time.Time) error {
	return nil
}
func (f *fakeJobs) ReclaimExpired(domain.Context, time.Duration, time.Time) (int, error) {
	return 0, nil
}

func (f *fakeJobs) LastSuccess(_ domain.Context, jobName string) (domain.JobRun, error) {
	run, ok := f.lastSuccess[jobName]
	if !ok {
		return domain.JobRun{}, domain.ErrNotFound
	}
	return run, nil
}

func (f *fakeJobs) LastRun(_ domain.Context, jobName string) (domain.JobRun, error) {
	run, ok := f.lastRun[jobName]
	if !ok {
		if run, ok = f.lastSuccess[jobName]; ok {
			return run, nil
		}
		return domain.JobRun{}, domain.ErrNotFound
	}
	return run, nil
}

func (f *fakeJobs) CountNonTerminal(domain.Context, string, string) (int, error) { return 0, nil }

func (f *fakeJobs) CountByStatus(_ domain.Context, status domain.JobStatus) (int, error) {
	if status == domain.JobDeadLettered {
		return f.deadLetters, nil
	}
	return 0, nil
}
