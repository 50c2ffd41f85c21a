// Package domain holds the entities, enumerations and ports of the
// trading assistant core. It must stay free of third-party imports so
// adapters and usecases can depend on it without cycles.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrNotAuthorized   = errors.New("not authorized")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrRateLimited     = errors.New("rate limited")
	ErrProviderDown    = errors.New("provider unavailable")
	ErrQualityBlocked  = errors.New("blocked by market data quality gate")
	ErrConfigFatal     = errors.New("fatal configuration error")
	ErrInternal        = errors.New("internal error")
)

// Window enumerates the cadence slots a generator cycle runs in.
type Window string

const (
	WindowMorningLimit Window = "morning_limit"
	WindowMiddayEntry  Window = "midday_entry"
	WindowRebalance    Window = "rebalance"
	WindowScout        Window = "scout"
)

// Valid reports whether w is a known window.
func (w Window) Valid() bool {
	switch w {
	case WindowMorningLimit, WindowMiddayEntry, WindowRebalance, WindowScout:
		return true
	}
	return false
}

// AssetType enumerates holding asset classes.
type AssetType string

const (
	AssetEquity AssetType = "equity"
	AssetOption AssetType = "option"
	AssetCash   AssetType = "cash"
)

// Holding is a per-user position record; source of truth for sizing.
type Holding struct {
	ID           string
	UserID       string
	Symbol       string
	AssetType    AssetType
	Quantity     float64
	CostBasis    float64
	CurrentPrice float64
	Delta        float64
	Theta        float64
	Sector       string
	UpdatedAt    time.Time
}

// MarketValue returns the signed current value of the position.
func (h Holding) MarketValue() float64 {
	if h.AssetType == AssetCash {
		return h.Quantity
	}
	mult := 1.0
	if h.AssetType == AssetOption {
		mult = 100
	}
	return h.Quantity * h.CurrentPrice * mult
}

// Credential is an encrypted third-party token.
type Credential struct {
	ID         string
	UserID     string
	Provider   string
	Ciphertext []byte
	CreatedAt  time.Time
}

// SuggestionStatus is the lifecycle state of a trade suggestion.
// Transitions are monotone except EXECUTABLE<->NOT_EXECUTABLE, which may
// re-evaluate when the quote is refreshed.
type SuggestionStatus string

const (
	SuggestionExecutable    SuggestionStatus = "EXECUTABLE"
	SuggestionNotExecutable SuggestionStatus = "NOT_EXECUTABLE"
	SuggestionStaged        SuggestionStatus = "STAGED"
	SuggestionCompleted     SuggestionStatus = "COMPLETED"
	SuggestionDismissed     SuggestionStatus = "DISMISSED"
)

// Terminal reports whether the status admits no further transitions.
func (s SuggestionStatus) Terminal() bool {
	return s == SuggestionCompleted || s == SuggestionDismissed
}

// LegAction and LegType describe one leg of a multi-leg suggestion.
type LegAction string

const (
	LegBuy  LegAction = "buy"
	LegSell LegAction = "sell"
)

type LegType string

const (
	LegCall   LegType = "call"
	LegPut    LegType = "put"
	LegEquity LegType = "equity"
)

// Leg is one ordered component of a suggested trade.
type Leg struct {
	Action       LegAction `json:"action"`
	Type         LegType   `json:"type"`
	Quantity     int       `json:"quantity"`
	Strike       float64   `json:"strike,omitempty"`
	Expiry       string    `json:"expiry,omitempty"` // YYYY-MM-DD
	OptionSymbol string    `json:"option_symbol,omitempty"`
}

// Metrics are the scoring inputs attached to a suggestion.
type Metrics struct {
	EV        float64 `json:"ev"`
	WinRate   float64 `json:"win_rate"`
	Kelly     float64 `json:"kelly"`
	MaxLoss   float64 `json:"max_loss"`
	MaxProfit float64 `json:"max_profit"`
}

// SizingMetadata records how capital limits shaped the suggestion.
type SizingMetadata struct {
	CapitalRequired float64 `json:"capital_required"`
	MaxLossTotal    float64 `json:"max_loss_total"`
	RiskMultiplier  float64 `json:"risk_multiplier"`
	ClampReason     string  `json:"clamp_reason,omitempty"`
}

// DismissReason tags why a user dismissed a suggestion.
type DismissReason string

const (
	DismissTooRisky    DismissReason = "too_risky"
	DismissBadPrice    DismissReason = "bad_price"
	DismissWrongTiming DismissReason = "wrong_timing"
	DismissOther       DismissReason = "other"
)

// Valid reports whether r is one of the accepted dismissal tags.
func (r DismissReason) Valid() bool {
	switch r {
	case DismissTooRisky, DismissBadPrice, DismissWrongTiming, DismissOther:
		return true
	}
	return false
}

// Suggestion is a proposed trade for a user within a cadence window.
// Invariants: Legs non-empty; option legs have Strike > 0 and Expiry on or
// after the trading day; Metrics.MaxLoss >= 0.
type Suggestion struct {
	ID            string
	UserID        string
	Window        Window
	Strategy      string
	Symbol        string
	DisplaySymbol string
	Legs          []Leg
	LimitPrice    float64
	Metrics       Metrics
	IVRank        float64
	IVRegime      string
	Score         float64
	Status        SuggestionStatus
	BlockedReason string
	BlockedDetail string
	Quality       *QualityReport
	Sizing        SizingMetadata
	TraceID       string
	CreatedAt     time.Time
	RefreshedAt   time.Time
}

// LastTouched is the reference instant for the staleness contract.
func (s Suggestion) LastTouched() time.Time {
	if s.RefreshedAt.After(s.CreatedAt) {
		return s.RefreshedAt
	}
	return s.CreatedAt
}

// Stale reports whether the suggestion exceeded the staleness threshold at
// instant now. Exactly at the threshold the suggestion is still fresh.
func (s Suggestion) Stale(now time.Time, staleAfter time.Duration) bool {
	return now.Sub(s.LastTouched()) > staleAfter
}

// SuggestionEvent is one append-only audit record of a status transition.
type SuggestionEvent struct {
	ID           string
	SuggestionID string
	UserID       string
	From         SuggestionStatus
	To           SuggestionStatus
	Reason       string
	CreatedAt    time.Time
}

// ValidationState tracks per-user go-live readiness.
type ValidationState struct {
	UserID                 string
	PaperWindowStart       time.Time
	PaperWindowEnd         time.Time
	PaperConsecutivePasses int
	PaperCheckpointTarget  int
	PaperFailFastTriggered bool
	PaperFailFastReason    string
	HistoricalLastRunAt    time.Time
	HistoricalLastPassed   bool
	HistoricalLastReturn   float64
	OverallReady           bool
}

// Recompute derives OverallReady from its definition. It must be called
// after every mutation so the stored flag never drifts from the inputs.
func (v *ValidationState) Recompute() {
	v.OverallReady = v.PaperConsecutivePasses >= v.PaperCheckpointTarget &&
		v.HistoricalLastPassed && !v.PaperFailFastTriggered
}

// ValidationJournalEntry is an append-only audit record of validation
// activity. Existing rows are never updated.
type ValidationJournalEntry struct {
	ID        string
	UserID    string
	Title     string
	Summary   string
	Details   map[string]any
	CreatedAt time.Time
}

// HistoricalRun records a single completed backtest.
type HistoricalRun struct {
	ID             string
	UserID         string
	Symbol         string
	WindowDays     int
	InstrumentType string
	Parameters     map[string]float64
	ReturnPct      float64
	MaxDrawdown    float64
	WinRate        float64
	TradesCount    int
	Passed         bool
	CreatedAt      time.Time
}

// AnalyticsEvent is an append-only usage/behavior record.
type AnalyticsEvent struct {
	EventName  string         `json:"event_name"`
	Category   string         `json:"category"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Context is an alias so the domain package does not force adapters to
// convert; everything passes context.Context through.
type Context = context.Context
