package handler

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/pkg/apperrors"
	"dice-wager-engine/internal/service"
)

// HeaderIdempotencyKey carries the client's wager key.
const HeaderIdempotencyKey = "X-Idempotency-Key"

// HeaderReplayed marks a response served from a stored wager.
const HeaderReplayed = "Idempotent-Replayed"

// PlayerHandler serves player endpoints.
type PlayerHandler struct {
	wagers   *service.WagerService
	accounts *service.AccountService
	settings *service.SettingsService
	limiter  *UserLimiter
}

// NewPlayerHandler creates a new PlayerHandler.
func NewPlayerHandler(wagers *service.WagerService, accounts *service.AccountService, settings *service.SettingsService, limiter *UserLimiter) *PlayerHandler {
	return &PlayerHandler{
		wagers:   wagers,
		accounts: accounts,
		settings: settings,
		limiter:  limiter,
	}
}

// WagerResponse is the result of a wager as shown to the player.
type WagerResponse struct {
	WagerID     string            `json:"wagerId"`
	Tier        string            `json:"tier"`
	DiceCount   int               `json:"diceCount"`
	BetAmount   int64             `json:"betAmount"`
	Faces       []int             `json:"faces"`
	IsWin       bool              `json:"isWin"`
	AppliedMode model.AppliedMode `json:"appliedMode"`
	SeedUsed    string            `json:"seedUsed,omitempty"`
	Nonce       uint64            `json:"nonce,string"`
	Stake       int64             `json:"stake"`
	EntryFee    int64             `json:"entryFee"`
	Multiplier  decimal.Decimal   `json:"multiplier"`
	Payout      int64             `json:"payout"`
	NewBalance  int64             `json:"newBalance"`
	Replayed    bool              `json:"replayed"`
}

func toWagerResponse(res *service.WagerResult) WagerResponse {
	rec := res.Record
	return WagerResponse{
		WagerID:     rec.ID,
		Tier:        rec.Tier,
		DiceCount:   rec.DiceCount,
		BetAmount:   rec.BetAmount,
		Faces:       rec.Faces,
		IsWin:       rec.IsWin,
		AppliedMode: rec.AppliedMode,
		SeedUsed:    rec.SeedUsed,
		Nonce:       rec.Nonce,
		Stake:       rec.Stake,
		EntryFee:    rec.EntryFee,
		Multiplier:  rec.Multiplier,
		Payout:      rec.Payout,
		NewBalance:  rec.BalanceAfter,
		Replayed:    res.Replayed,
	}
}

// PlayWager handles POST /v1/wagers.
func (h *PlayerHandler) PlayWager(w http.ResponseWriter, r *http.Request) {
	req, err := decode[model.WagerRequest](w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)

	if req.UserID <= 0 {
		writeError(w, r, apperrors.NewValidation("userId is required", nil))
		return
	}
	if !h.limiter.Allow(req.UserID) {
		writeError(w, r, apperrors.New(apperrors.ErrRateLimited, "too many wagers", nil))
		return
	}

	res, err := h.wagers.Play(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Replayed {
		w.Header().Set(HeaderReplayed, "true")
	}
	writeJSON(w, http.StatusOK, toWagerResponse(res))
}

// Balance handles GET /v1/users/{id}/balance.
func (h *PlayerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, err := parseInt64(chi.URLParam(r, "id"), "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	balance, err := h.accounts.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"userId": userID, "balance": balance})
}

// PublicTier is a playable tier.
type PublicTier struct {
	ID          string          `json:"id"`
	Odds        model.OddsRange `json:"oddsRange"`
	Probability float64         `json:"probability"`
}

// PublicSettings is what players may know about the current settings.
type PublicSettings struct {
	Version          int64             `json:"version"`
	GameEnabled      bool              `json:"gameEnabled"`
	MaintenanceMode  bool              `json:"maintenanceMode"`
	Variant          model.GameVariant `json:"variant"`
	MinBet           int64             `json:"minBet"`
	MaxBet           int64             `json:"maxBet"`
	EntryFee         int64             `json:"entryFee"`
	MaxDiceCount     int               `json:"maxDiceCount"`
	DefaultDiceCount int               `json:"defaultDiceCount"`
	DefaultTier      string            `json:"defaultTier"`
	Tiers            []PublicTier      `json:"tiers"`
	FixedPayout      int64             `json:"fixedPayout,omitempty"`
	Manipulated      bool              `json:"manipulated"`
}

func toPublicSettings(s *model.GameSettings) PublicSettings {
	out := PublicSettings{
		Version:          s.Version,
		GameEnabled:      s.GameEnabled,
		MaintenanceMode:  s.MaintenanceMode,
		Variant:          s.Variant,
		MinBet:           s.MinBet,
		MaxBet:           s.MaxBet,
		EntryFee:         s.EntryFee,
		MaxDiceCount:     s.MaxDiceCount,
		DefaultDiceCount: s.DefaultDiceCount,
		DefaultTier:      s.DefaultTier,
		Tiers:            []PublicTier{},
		Manipulated:      s.Manipulation.Active(),
	}
	if s.Variant == model.VariantFixedTarget {
		out.FixedPayout = s.FixedPayout.WinAmount
	}
	for id, t := range s.DifficultyTiers {
		if t.Enabled {
			out.Tiers = append(out.Tiers, PublicTier{ID: id, Odds: t.Odds, Probability: t.Probability})
		}
	}
	sort.Slice(out.Tiers, func(i, j int) bool {
		return strings.Compare(out.Tiers[i].ID, out.Tiers[j].ID) < 0
	})
	return out
}

// Settings handles GET /v1/settings.
func (h *PlayerHandler) Settings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toPublicSettings(h.settings.Get()))
}
