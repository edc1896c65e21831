package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/usagemeter/app"
	"github.com/artpar/usagemeter/domain/alert"
	"github.com/artpar/usagemeter/domain/cost"
	"github.com/artpar/usagemeter/domain/usage"
	"github.com/artpar/usagemeter/ports"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// APIHandler serves the /api/v1 endpoints.
type APIHandler struct {
	recorder   *app.Recorder
	aggregator *app.Aggregator
	limits     *app.LimitService
	reports    *app.ReportService
	alerts     *app.AlertService
	budget     *app.BudgetProvider
	clock      ports.Clock
	admin      *AdminAuth
	logger     zerolog.Logger
}

// Deps contains dependencies for the API handler.
type Deps struct {
	Recorder   *app.Recorder
	Aggregator *app.Aggregator
	Limits     *app.LimitService
	Reports    *app.ReportService
	Alerts     *app.AlertService
	Budget     *app.BudgetProvider
	Clock      ports.Clock
	Admin      *AdminAuth
	Logger     zerolog.Logger
}

// NewAPIHandler creates the API handler.
func NewAPIHandler(deps Deps) *APIHandler {
	return &APIHandler{
		recorder:   deps.Recorder,
		aggregator: deps.Aggregator,
		limits:     deps.Limits,
		reports:    deps.Reports,
		alerts:     deps.Alerts,
		budget:     deps.Budget,
		clock:      deps.Clock,
		admin:      deps.Admin,
		logger:     deps.Logger,
	}
}

// Router returns the API router.
func (h *APIHandler) Router() chi.Router {
	r := chi.NewRouter()

	r.Post("/usage", h.RecordUsage)
	r.Post("/usage/estimate", h.EstimateCost)
	r.Get("/usage/users/{userID}", h.GetUserUsage)
	r.Get("/usage/system/{date}", h.GetSystemUsage)

	r.Get("/limits/{userID}", h.CheckLimit)

	r.Get("/reports", h.GetReport)

	r.Get("/alerts", h.ListAlerts)

	r.Get("/budget", h.GetBudget)
	r.Get("/budget/status", h.GetBudgetStatus)

	// Write endpoints require the admin token
	r.Group(func(r chi.Router) {
		r.Use(h.admin.Middleware)

		r.Put("/budget", h.UpdateBudget)
		r.Put("/limits/{userID}", h.SetUserLimit)
		r.Post("/alerts/{id}/resolve", h.ResolveAlert)
	})

	return r
}

// -----------------------------------------------------------------------------
// Usage
// -----------------------------------------------------------------------------

// RecordResponse is returned after metering a call.
type RecordResponse struct {
	ID       string  `json:"id"`
	Cost     float64 `json:"cost"`
	Recorded bool    `json:"recorded"`
}

// RecordUsage meters one call. The answer is 202 even when the event could
// not be persisted; Recorded reports the outcome.
func (h *APIHandler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var in usage.Input
	if !decodeBody(w, r, &in) {
		return
	}
	if in.InputTokens < 0 || in.OutputTokens < 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "token counts must be >= 0")
		return
	}

	e, ok := h.recorder.RecordEvent(r.Context(), in)
	id := e.ID
	if !ok {
		id = usage.UnrecordedEventID
	}
	writeJSON(w, http.StatusAccepted, RecordResponse{ID: id, Cost: e.Cost, Recorded: ok})
}

// EstimateRequest carries the token counts of a planned call.
type EstimateRequest struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// EstimateResponse is the pre-flight cost of a call.
type EstimateResponse struct {
	Cost    float64      `json:"cost"`
	Pricing cost.Pricing `json:"pricing"`
}

// EstimateCost prices a planned call without recording it.
func (h *APIHandler) EstimateCost(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, EstimateResponse{
		Cost:    h.recorder.Estimate(req.InputTokens, req.OutputTokens),
		Pricing: h.recorder.Pricing(),
	})
}

// GetUserUsage returns a user's rolling summary.
func (h *APIHandler) GetUserUsage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	s, err := h.aggregator.GetUserUsage(r.Context(), userID)
	if errors.Is(err, ports.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no usage recorded for user "+userID)
		return
	}
	if err != nil {
		h.internalError(w, err, "get user usage")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GetSystemUsage returns one day's system stats. The date is YYYY-MM-DD or "today".
func (h *APIHandler) GetSystemUsage(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")

	day := h.clock.Now()
	if date != "today" {
		t, err := usage.ParseDay(date, h.aggregator.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "date must be YYYY-MM-DD or today")
			return
		}
		day = t
	}

	s, err := h.aggregator.GetSystemUsage(r.Context(), day)
	if errors.Is(err, ports.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no usage recorded on "+usage.DayKey(day, h.aggregator.Location()))
		return
	}
	if err != nil {
		h.internalError(w, err, "get system usage")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// -----------------------------------------------------------------------------
// Limits
// -----------------------------------------------------------------------------

// CheckLimit returns the admission decision. Denials are 200 with
// can_proceed false so that callers always get the decision body.
func (h *APIHandler) CheckLimit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.limits.Check(r.Context(), chi.URLParam(r, "userID")))
}

// SetLimitRequest overrides a user's daily quota; 0 restores the default.
type SetLimitRequest struct {
	DailyLimit int64 `json:"daily_limit"`
}

// SetUserLimit stores a per-user daily request quota.
func (h *APIHandler) SetUserLimit(w http.ResponseWriter, r *http.Request) {
	var req SetLimitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DailyLimit < 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "daily_limit must be >= 0")
		return
	}

	s, err := h.aggregator.SetUserLimit(r.Context(), chi.URLParam(r, "userID"), req.DailyLimit)
	if err != nil {
		h.internalError(w, err, "set user limit")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// -----------------------------------------------------------------------------
// Reports
// -----------------------------------------------------------------------------

// GetReport builds a report over start..end inclusive (YYYY-MM-DD).
func (h *APIHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end := q.Get("start"), q.Get("end")
	if start == "" || end == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "start and end are required")
		return
	}

	rep, err := h.reports.GenerateDays(r.Context(), start, end, q.Get("user_id"))
	switch {
	case errors.Is(err, app.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	case errors.Is(err, usage.ErrInvalidDay):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	case err != nil:
		h.internalError(w, err, "generate report")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// -----------------------------------------------------------------------------
// Alerts
// -----------------------------------------------------------------------------

// AlertsResponse lists alerts newest first.
type AlertsResponse struct {
	Alerts []alert.Alert `json:"alerts"`
	Count  int           `json:"count"`
}

// ListAlerts returns alerts filtered by user_id, type, unresolved, since and limit.
func (h *APIHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := alert.Filter{
		UserID:     q.Get("user_id"),
		Unresolved: parseBoolQuery(q.Get("unresolved")),
		Limit:      parseIntQuery(r, "limit", 100),
	}

	if t := q.Get("type"); t != "" {
		f.Type = alert.Type(t)
		if !f.Type.Valid() {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown alert type "+t)
			return
		}
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "since must be RFC3339")
			return
		}
		f.Since = since
	}

	alerts, err := h.alerts.List(r.Context(), f)
	if err != nil {
		h.internalError(w, err, "list alerts")
		return
	}
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	writeJSON(w, http.StatusOK, AlertsResponse{Alerts: alerts, Count: len(alerts)})
}

// ResolveAlert marks an alert resolved.
func (h *APIHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.alerts.Resolve(r.Context(), id)
	if errors.Is(err, ports.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no alert "+id)
		return
	}
	if err != nil {
		h.internalError(w, err, "resolve alert")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "resolved"})
}

// -----------------------------------------------------------------------------
// Budget
// -----------------------------------------------------------------------------

// GetBudget returns the effective budget configuration.
func (h *APIHandler) GetBudget(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.budget.Current(r.Context()))
}

// UpdateBudget stores a new budget configuration. Fields missing from the
// body keep their current values.
func (h *APIHandler) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	cfg := h.budget.Current(r.Context())
	if !decodeBody(w, r, &cfg) {
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}

	if err := h.budget.Update(r.Context(), cfg); err != nil {
		h.internalError(w, err, "update budget")
		return
	}

	h.logger.Info().
		Float64("daily_budget", cfg.DailyBudget).
		Float64("monthly_budget", cfg.MonthlyBudget).
		Int64("user_daily_limit", cfg.UserDailyLimit).
		Msg("budget updated")
	writeJSON(w, http.StatusOK, cfg)
}

// GetBudgetStatus returns thresholds, projections and runway for today,
// this week and this month.
func (h *APIHandler) GetBudgetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := app.BudgetStatusAt(r.Context(), h.aggregator, h.budget, h.clock.Now())
	if err != nil {
		h.internalError(w, err, "budget status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (h *APIHandler) internalError(w http.ResponseWriter, err error, op string) {
	h.logger.Error().Err(err).Str("op", op).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", op+" failed")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func parseIntQuery(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}

func parseBoolQuery(v string) bool {
	v = strings.ToLower(v)
	return v == "true" || v == "1" || v == "yes"
}
