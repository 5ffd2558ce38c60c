package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/pkg/apperrors"
	"dice-wager-engine/internal/service"
)

// AdminHandler serves operator endpoints.
type AdminHandler struct {
	settings  *service.SettingsService
	accounts  *service.AccountService
	reporting *service.ReportingService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(settings *service.SettingsService, accounts *service.AccountService, reporting *service.ReportingService) *AdminHandler {
	return &AdminHandler{
		settings:  settings,
		accounts:  accounts,
		reporting: reporting,
	}
}

func (h *AdminHandler) reply(w http.ResponseWriter, r *http.Request, res *service.SettingsResult, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetSettings handles GET /admin/settings.
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Get())
}

// PutSettings handles PUT /admin/settings.
func (h *AdminHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	next, err := decode[model.GameSettings](w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.settings.Put(r.Context(), AdminID(r.Context()), &next, queryBool(r, "acknowledge"))
	h.reply(w, r, res, err)
}

// ResetSettings handles POST /admin/settings/reset.
func (h *AdminHandler) ResetSettings(w http.ResponseWriter, r *http.Request) {
	res, err := h.settings.Reset(r.Context(), AdminID(r.Context()))
	h.reply(w, r, res, err)
}

// UpdateBets handles PUT /admin/settings/bets.
func (h *AdminHandler) UpdateBets(w http.ResponseWriter, r *http.Request) {
	body, err := decode[service.BetsUpdate](w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.settings.UpdateBets(r.Context(), AdminID(r.Context()), body)
	h.reply(w, r, res, err)
}

// UpdateRisk handles PUT /admin/settings/risk.
func (h *AdminHandler) UpdateRisk(w http.ResponseWriter, r *http.Request) {
	body, err := decode[model.RiskLimits](w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.settings.UpdateRisk(r.Context(), AdminID(r.Context()), body)
	h.reply(w, r, res, err)
}

// UpdateManipulation handles PUT /admin/settings/manipulation.
func (h *AdminHandler) UpdateManipulation(w http.ResponseWriter, r *http.Request) {
	body, err := decode[model.Manipulation](w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.settings.UpdateManipulation(r.Context(), AdminID(r.Context()), body)
	h.reply(w, r, res, err)
}

type availabilityRequest struct {
	GameEnabled     bool `json:"gameEnabled"`
	MaintenanceMode bool `json:"maintenanceMode"`
}

// UpdateAvailability handles PUT /admin/settings/availability.
func (h *AdminHandler) UpdateAvailability(w http.ResponseWriter, r *http.Request) {
	body, err := decode[availabilityRequest](w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.settings.UpdateAvailability(r.Context(), AdminID(r.Context()), body.GameEnabled, body.MaintenanceMode)
	h.reply(w, r, res, err)
}

type variantRequest struct {
	Variant     model.GameVariant `json:"variant"`
	FixedPayout model.FixedPayout `json:"fixedPayout"`
}

// UpdateVariant handles PUT /admin/settings/variant.
func (h *AdminHandler) UpdateVariant(w http.ResponseWriter, r *http.Request) {
	body, err := decode[variantRequest](w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.settings.UpdateVariant(r.Context(), AdminID(r.Context()), body.Variant, body.FixedPayout, queryBool(r, "acknowledge"))
	h.reply(w, r, res, err)
}

// UpdateTier handles PUT /admin/settings/tiers/{tier}.
func (h *AdminHandler) UpdateTier(w http.ResponseWriter, r *http.Request) {
	body, err := decode[model.Tier](w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.settings.UpdateTier(r.Context(), AdminID(r.Context()), chi.URLParam(r, "tier"), body, queryBool(r, "acknowledge"))
	h.reply(w, r, res, err)
}

// History handles GET /admin/settings/history.
func (h *AdminHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	versions, err := h.settings.History(r.Context(), AdminID(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

// ResumeTier handles POST /admin/tiers/{tier}/resume.
func (h *AdminHandler) ResumeTier(w http.ResponseWriter, r *http.Request) {
	tier := chi.URLParam(r, "tier")
	if err := h.settings.ResumeTier(AdminID(r.Context()), tier); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tier": tier, "status": "resumed"})
}

// HaltedTiers handles GET /admin/tiers/halted.
func (h *AdminHandler) HaltedTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"halted": h.settings.HaltedTiers()})
}

type creditRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

// Credit handles POST /admin/users/{id}/credit.
func (h *AdminHandler) Credit(w http.ResponseWriter, r *http.Request) {
	userID, err := parseInt64(chi.URLParam(r, "id"), "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := decode[creditRequest](w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	adminID := AdminID(r.Context())
	user, err := h.accounts.Credit(r.Context(), userID, body.Amount, fmt.Sprintf("admin:%d", adminID), strings.TrimSpace(body.Note))
	if err != nil {
		writeError(w, r, err)
		return
	}

	log.Info().
		Int64("admin_id", adminID).
		Int64("target_id", userID).
		Int64("amount", body.Amount).
		Str("operation", "credit").
		Msg("Admin operation executed")
	writeJSON(w, http.StatusOK, user)
}

type userRequest struct {
	Username  string `json:"username"`
	Suspended *bool  `json:"suspended,omitempty"`
}

// UpsertUser handles PUT /admin/users/{id}: creates the user if needed and
// optionally changes its suspension.
func (h *AdminHandler) UpsertUser(w http.ResponseWriter, r *http.Request) {
	userID, err := parseInt64(chi.URLParam(r, "id"), "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := decode[userRequest](w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	if _, _, err := h.accounts.EnsureUser(ctx, userID, body.Username); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Suspended != nil {
		if err := h.accounts.SetSuspended(ctx, userID, *body.Suspended); err != nil {
			writeError(w, r, err)
			return
		}
	}
	user, err := h.accounts.GetUser(ctx, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Records handles GET /admin/records.
func (h *AdminHandler) Records(w http.ResponseWriter, r *http.Request) {
	var f model.RecordFilter
	var err error
	if f.UserID, err = queryUserID(r); err != nil {
		writeError(w, r, err)
		return
	}
	if f.From, err = queryTime(r, "from"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.To, err = queryTime(r, "to"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, r, err)
		return
	}
	f.Tier = r.URL.Query().Get("tier")

	recs, err := h.reporting.Records(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// Record handles GET /admin/records/{id}.
func (h *AdminHandler) Record(w http.ResponseWriter, r *http.Request) {
	rec, err := h.reporting.Record(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Audit handles GET /admin/audit.
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	var f model.AuditFilter
	var err error
	if f.UserID, err = queryUserID(r); err != nil {
		writeError(w, r, err)
		return
	}
	if f.From, err = queryTime(r, "from"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.To, err = queryTime(r, "to"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, r, err)
		return
	}
	f.Tier = r.URL.Query().Get("tier")
	f.Mode = model.ManipulationMode(r.URL.Query().Get("mode"))

	entries, err := h.reporting.Audit(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type hourlyResponse struct {
	Current model.RiskBucket   `json:"current"`
	Buckets []model.RiskBucket `json:"buckets"`
}

// Hourly handles GET /admin/risk/hourly. The range defaults to the last 24 hours.
func (h *AdminHandler) Hourly(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(w, r, err)
		return
	}
	end := time.Now()
	if to != nil {
		end = *to
	}
	start := end.Add(-24 * time.Hour)
	if from != nil {
		start = *from
	}

	buckets, err := h.reporting.HourlyBuckets(r.Context(), start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	current, err := h.reporting.CurrentHour(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if buckets == nil {
		buckets = []model.RiskBucket{}
	}
	writeJSON(w, http.StatusOK, hourlyResponse{Current: current, Buckets: buckets})
}

// DailyReport handles GET /admin/reports/daily?date=YYYY-MM-DD.
func (h *AdminHandler) DailyReport(w http.ResponseWriter, r *http.Request) {
	date := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, raw, h.reporting.Location())
		if err != nil {
			writeError(w, r, apperrors.NewValidation("date must be YYYY-MM-DD", err))
			return
		}
		date = parsed
	}

	report, err := h.reporting.DailyReport(r.Context(), date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func queryUserID(r *http.Request) (*int64, error) {
	raw := r.URL.Query().Get("userId")
	if raw == "" {
		return nil, nil
	}
	id, err := parseInt64(raw, "userId")
	if err != nil {
		return nil, err
	}
	return &id, nil
}
