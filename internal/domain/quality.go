package domain

// QualityCode grades one symbol's market data fitness.
type QualityCode string

const (
	QualityOK             QualityCode = "OK"
	QualityWarnStale      QualityCode = "WARN_STALE"
	QualityWarnWideSpread QualityCode = "WARN_WIDE_SPREAD"
	QualityFailCrossed    QualityCode = "FAIL_CROSSED"
	QualityFailNoQuote    QualityCode = "FAIL_NO_QUOTE"
	QualityFailProvider   QualityCode = "FAIL_PROVIDER_OPEN"
)

// Fail reports whether the code is in the FAIL class.
func (c QualityCode) Fail() bool {
	switch c {
	case QualityFailCrossed, QualityFailNoQuote, QualityFailProvider:
		return true
	}
	return false
}

// Warn reports whether the code is in the WARN class.
func (c QualityCode) Warn() bool {
	return c == QualityWarnStale || c == QualityWarnWideSpread
}

// EffectiveAction is the aggregated gate decision for one suggestion.
type EffectiveAction string

const (
	ActionAccept    EffectiveAction = "accept"
	ActionDownrank  EffectiveAction = "downrank"
	ActionDefer     EffectiveAction = "defer"
	ActionSkipFatal EffectiveAction = "skip_fatal"
)

// SymbolQuality is the per-symbol gate verdict.
type SymbolQuality struct {
	Symbol string      `json:"symbol"`
	Code   QualityCode `json:"code"`
	Score  float64     `json:"score"`
	Detail string      `json:"detail,omitempty"`
}

// QualityReport aggregates per-symbol verdicts into one action. It is
// embedded into Suggestion.Quality and drives BlockedReason.
type QualityReport struct {
	Symbols []SymbolQuality `json:"symbols"`
	Action  EffectiveAction `json:"effective_action"`
}

// Blocked reports whether the aggregated action prevents execution.
func (r QualityReport) Blocked() bool {
	return r.Action == ActionSkipFatal || r.Action == ActionDefer
}

// Quote is the provider snapshot the gate scores.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	AsOfMilli int64 // epoch ms of the provider timestamp; 0 means no quote
}
