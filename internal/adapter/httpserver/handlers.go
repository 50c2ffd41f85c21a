package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/options-assistant/internal/config"
	"github.com/fairyhunter13/options-assistant/internal/domain"
	"github.com/fairyhunter13/options-assistant/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg         config.Config
	Dispatcher  *usecase.TaskDispatcher
	Inbox       *usecase.InboxService
	Validation  *usecase.ValidationService
	Health      *usecase.HealthService
	Pause       *usecase.PauseState
	Integrity   *usecase.IntegrityStats
	Jobs        domain.JobRepository
	Holdings    domain.HoldingRepository
	Credentials domain.CredentialRepository
	Secrets     domain.SecretStore
	DBCheck     func(ctx context.Context) error
}

// TaskHandler answers POST /tasks/{slug} and the grouped form
// POST /tasks/{group}/{action}. CronAuth runs before this, so a reachable
// handler means the secret matched; conflicts answer 409 with the id of
// the run that already owns the trading day.
func (s *Server) TaskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")
		if group, action := chi.URLParam(r, "group"), chi.URLParam(r, "action"); group != "" && action != "" {
			slug = group + "/" + action
		}
		run, err := s.Dispatcher.Dispatch(r.Context(), slug)
		if err != nil {
			if errors.Is(err, domain.ErrConflict) && run.ID != "" {
				writeJSON(w, http.StatusConflict, map[string]any{
					"error": apiError{Code: "CONFLICT", Message: "job already enqueued for this trading day"},
					"job":   jobView(run),
				})
				return
			}
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, jobView(run))
	}
}

// JobHandler answers GET /jobs/{id} with the run's current state. Runs
// owned by another user are hard-rejected and counted as an integrity
// incident.
func (s *Server) JobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := s.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if owner, _ := run.Payload["user_id"].(string); owner != "" && owner != UserIDFromContext(r.Context()) {
			s.Integrity.RecordCrossUser(time.Now())
			writeError(w, r, fmt.Errorf("op=http.job: %w", domain.ErrNotAuthorized), nil)
			return
		}
		writeJSON(w, http.StatusOK, jobView(run))
	}
}

func jobView(run domain.JobRun) map[string]any {
	out := map[string]any{
		"job_id":        run.ID,
		"job_name":      run.JobName,
		"status":        string(run.Status),
		"attempt_count": run.AttemptCount,
		"max_attempts":  run.MaxAttempts,
	}
	if run.Error != "" {
		out["error"] = run.Error
	}
	if !run.FinishedAt.IsZero() && run.FinishedAt.Unix() > 0 {
		out["finished_at"] = run.FinishedAt
		out["duration_ms"] = run.DurationMS
	}
	return out
}

// InboxHandler answers GET /inbox with the hero/queue/completed view.
func (s *Server) InboxHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.Inbox.Compose(r.Context(), UserIDFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

type stageBatchRequest struct {
	SuggestionIDs []string `json:"suggestion_ids" validate:"required,min=1,max=50,dive,required"`
}

// StageBatchHandler answers POST /inbox/stage-batch with per-id outcomes.
func (s *Server) StageBatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req stageBatchRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		out, err := s.Inbox.StageBatch(r.Context(), UserIDFromContext(r.Context()), req.SuggestionIDs)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type dismissRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// DismissHandler answers POST /inbox/{id}/dismiss.
func (s *Server) DismissHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dismissRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		err := s.Inbox.Dismiss(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "id"), domain.DismissReason(req.Reason))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"dismissed": true})
	}
}

// CompleteHandler answers POST /suggestions/{id}/complete, recording that
// the user executed a staged suggestion.
func (s *Server) CompleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.Inbox.Complete(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"completed": true})
	}
}

// RefreshQuoteHandler answers POST /inbox/{id}/refresh-quote with the
// re-gated suggestion.
func (s *Server) RefreshQuoteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sg, err := s.Inbox.RefreshQuote(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, sg)
	}
}

// ValidationStatusHandler answers GET /validation/status.
func (s *Server) ValidationStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.Validation.Status(r.Context(), UserIDFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

type historicalRunRequest struct {
	Symbol              string  `json:"symbol" validate:"required,alphanum,max=10"`
	WindowDays          int     `json:"window_days" validate:"omitempty,min=5,max=365"`
	InstrumentType      string  `json:"instrument_type" validate:"omitempty,oneof=equity option"`
	OptionRight         string  `json:"option_right" validate:"omitempty,oneof=call put"`
	OptionDTE           int     `json:"option_dte" validate:"omitempty,min=1,max=365"`
	OptionMoneyness     float64 `json:"option_moneyness" validate:"omitempty,gt=0,lte=2"`
	UseRollingContracts bool    `json:"use_rolling_contracts"`
	StrictOptionMode    bool    `json:"strict_option_mode"`
	SegmentTolerancePct float64 `json:"segment_tolerance_pct" validate:"omitempty,gt=0,lte=50"`
	ConcurrentRuns      int     `json:"concurrent_runs" validate:"omitempty,min=1,max=16"`
	GoalReturnPct       float64 `json:"goal_return_pct"`
	Autotune            bool    `json:"autotune"`
	Train               bool    `json:"train"`
	TrainTargetStreak   int     `json:"train_target_streak" validate:"omitempty,min=1,max=20"`
	TrainMaxAttempts    int     `json:"train_max_attempts" validate:"omitempty,min=1,max=50"`
	Seed                int64   `json:"seed"`
}

type validationRunRequest struct {
	Mode       string                `json:"mode" validate:"required,oneof=paper historical"`
	Historical *historicalRunRequest `json:"historical" validate:"required_if=Mode historical"`
}

// ValidationRunHandler answers POST /validation/run by enqueueing the run;
// the worker picks it up under the long deadline. Paper mode carries no
// extra inputs, historical mode carries the full backtest request.
func (s *Server) ValidationRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validationRunRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		payload := map[string]any{"mode": req.Mode}
		if req.Mode == "historical" && req.Historical != nil {
			h := req.Historical
			payload["symbol"] = h.Symbol
			payload["window_days"] = h.WindowDays
			payload["instrument_type"] = h.InstrumentType
			payload["option_right"] = h.OptionRight
			payload["option_dte"] = h.OptionDTE
			payload["option_moneyness"] = h.OptionMoneyness
			payload["use_rolling_contracts"] = h.UseRollingContracts
			payload["strict_option_mode"] = h.StrictOptionMode
			payload["segment_tolerance_pct"] = h.SegmentTolerancePct
			payload["goal_return_pct"] = h.GoalReturnPct
			payload["concurrent_runs"] = h.ConcurrentRuns
			payload["autotune"] = h.Autotune
			payload["train"] = h.Train
			payload["train_target_streak"] = h.TrainTargetStreak
			payload["train_max_attempts"] = h.TrainMaxAttempts
			payload["seed"] = h.Seed
		}
		run, err := s.Dispatcher.DispatchValidation(r.Context(), UserIDFromContext(r.Context()), payload)
		if err != nil {
			if errors.Is(err, domain.ErrConflict) && run.ID != "" {
				writeJSON(w, http.StatusConflict, map[string]any{
					"error": apiError{Code: "CONFLICT", Message: "a validation run is already queued today"},
					"job":   jobView(run),
				})
				return
			}
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, jobView(run))
	}
}

// ValidationResetHandler answers POST /validation/reset.
func (s *Server) ValidationResetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.Validation.ManualReset(r.Context(), UserIDFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// JournalHandler answers GET /validation/journal?limit=N.
func (s *Server) JournalHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, r, fmt.Errorf("op=http.journal: %w: limit", domain.ErrInvalidArgument), nil)
				return
			}
			limit = n
		}
		entries, err := s.Validation.Journal(r.Context(), UserIDFromContext(r.Context()), limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}

// OpsHealthHandler answers GET /ops/health.
func (s *Server) OpsHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Health.Ops(r.Context()))
	}
}

// SystemHealthHandler answers GET /system/health.
func (s *Server) SystemHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Health.System(r.Context()))
	}
}

type pauseRequest struct {
	Reason string `json:"reason" validate:"required,max=200"`
}

// PauseHandler answers POST /ops/pause, stopping cron dispatch.
func (s *Server) PauseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pauseRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		s.Pause.Pause(req.Reason, time.Now())
		writeJSON(w, http.StatusOK, map[string]any{"paused": true, "reason": req.Reason})
	}
}

// ResumeHandler answers POST /ops/resume.
func (s *Server) ResumeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Pause.Resume()
		writeJSON(w, http.StatusOK, map[string]any{"paused": false})
	}
}

type credentialRequest struct {
	Provider string `json:"provider" validate:"required,oneof=plaid broker marketdata"`
	Token    string `json:"token" validate:"required,min=8"`
}

// StoreCredentialHandler answers PUT /internal/credentials. Tokens are
// sealed before they touch the database; plaintext never persists.
func (s *Server) StoreCredentialHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		ct, err := s.Secrets.Encrypt([]byte(req.Token))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		id, err := s.Credentials.Store(r.Context(), domain.Credential{
			UserID:     UserIDFromContext(r.Context()),
			Provider:   req.Provider,
			Ciphertext: ct,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "provider": req.Provider})
	}
}

// DeleteCredentialHandler answers DELETE /internal/credentials/{provider}.
func (s *Server) DeleteCredentialHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.Credentials.Delete(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "provider"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	}
}

type holdingRequest struct {
	Symbol       string  `json:"symbol" validate:"required,max=24"`
	AssetType    string  `json:"asset_type" validate:"required,oneof=equity option cash"`
	Quantity     float64 `json:"quantity" validate:"required"`
	CostBasis    float64 `json:"cost_basis" validate:"gte=0"`
	CurrentPrice float64 `json:"current_price" validate:"gte=0"`
	Sector       string  `json:"sector" validate:"max=48"`
}

// UpsertHoldingHandler answers PUT /internal/holdings, the sync target for
// the backfill job and manual correction.
func (s *Server) UpsertHoldingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req holdingRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		err := s.Holdings.Upsert(r.Context(), domain.Holding{
			UserID:       UserIDFromContext(r.Context()),
			Symbol:       req.Symbol,
			AssetType:    domain.AssetType(req.AssetType),
			Quantity:     req.Quantity,
			CostBasis:    req.CostBasis,
			CurrentPrice: req.CurrentPrice,
			Sector:       req.Sector,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"updated": true})
	}
}

// HealthzHandler reports liveness.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler reports readiness by pinging the database.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
