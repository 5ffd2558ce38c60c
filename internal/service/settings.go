package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog/log"

	"dice-wager-engine/internal/game/payout"
	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/pkg/apperrors"
	"dice-wager-engine/internal/settings"
)

// Policy decides who may change settings. *config.Config satisfies it.
type Policy interface {
	IsAdmin(userID int64) bool
	CanManipulate(userID int64) bool
}

// SettingsStore is the versioned settings store.
type SettingsStore interface {
	Snapshot() *model.GameSettings
	Put(ctx context.Context, next *model.GameSettings, actor string, acknowledged bool, expected int64) (*model.GameSettings, payout.Report, error)
	Update(ctx context.Context, actor string, acknowledged bool, edit func(*settings.Editor) *settings.Editor) (*model.GameSettings, payout.Report, error)
	Reset(ctx context.Context, actor string) (*model.GameSettings, error)
	History(ctx context.Context, limit int) ([]*model.SettingsVersion, error)
}

// SettingsResult is a stored version plus the economic report of its tiers.
type SettingsResult struct {
	Settings *model.GameSettings `json:"settings"`
	Warnings []string            `json:"warnings,omitempty"`
}

// BetsUpdate changes wager bounds and dice limits.
type BetsUpdate struct {
	MinBet           int64 `json:"minBet"`
	MaxBet           int64 `json:"maxBet"`
	EntryFee         int64 `json:"entryFee"`
	MaxDiceCount     int   `json:"maxDiceCount"`
	DefaultDiceCount int   `json:"defaultDiceCount"`
}

// SettingsService gates settings changes behind the admin policy.
type SettingsService struct {
	store  SettingsStore
	policy Policy
	halts  *TierBreaker
}

// NewSettingsService creates a new SettingsService instance.
func NewSettingsService(store SettingsStore, policy Policy, halts *TierBreaker) *SettingsService {
	return &SettingsService{
		store:  store,
		policy: policy,
		halts:  halts,
	}
}

func actorName(adminID int64) string {
	return fmt.Sprintf("admin:%d", adminID)
}

func (s *SettingsService) authorize(adminID int64, manipulation bool) error {
	if !s.policy.IsAdmin(adminID) {
		return apperrors.New(apperrors.ErrForbidden, "admin privileges required", nil)
	}
	if manipulation && !s.policy.CanManipulate(adminID) {
		return apperrors.New(apperrors.ErrForbidden, "not allowed to change manipulation settings", nil)
	}
	return nil
}

// Get returns the current settings.
func (s *SettingsService) Get() *model.GameSettings {
	return s.store.Snapshot()
}

// Put replaces the whole document. next.Version names the version the
// document was edited from; zero means the current one. The write is
// rejected as a conflict if settings moved on since then.
func (s *SettingsService) Put(ctx context.Context, adminID int64, next *model.GameSettings, acknowledged bool) (*SettingsResult, error) {
	if next == nil {
		return nil, apperrors.NewValidation("settings document is required", nil)
	}
	if err := s.authorize(adminID, false); err != nil {
		return nil, err
	}
	cur := s.store.Snapshot()
	base := next.Version
	if base == 0 {
		base = cur.Version
	}
	if base != cur.Version {
		return nil, classifySettingsErr(fmt.Errorf("%w: document is based on version %d, current is %d", settings.ErrVersionConflict, base, cur.Version))
	}
	if err := s.authorize(adminID, manipulationChanged(cur.Manipulation, next.Manipulation)); err != nil {
		return nil, err
	}
	// The permission check above holds only for cur, so the store must
	// refuse to write on top of anything newer.
	stored, report, err := s.store.Put(ctx, next, actorName(adminID), acknowledged, base)
	return s.result(adminID, stored, report, err)
}

func manipulationChanged(a, b model.Manipulation) bool {
	return !reflect.DeepEqual(normalizeManipulation(a), normalizeManipulation(b))
}

func normalizeManipulation(m model.Manipulation) model.Manipulation {
	if m.Mode == "" {
		m.Mode = model.ModeFair
	}
	if len(m.DifficultySettings) == 0 {
		m.DifficultySettings = nil
	}
	return m
}

// Reset restores the configured defaults.
func (s *SettingsService) Reset(ctx context.Context, adminID int64) (*SettingsResult, error) {
	if err := s.authorize(adminID, false); err != nil {
		return nil, err
	}
	stored, err := s.store.Reset(ctx, actorName(adminID))
	return s.result(adminID, stored, payout.Report{}, err)
}

// UpdateAvailability turns the game or maintenance mode on and off.
func (s *SettingsService) UpdateAvailability(ctx context.Context, adminID int64, enabled, maintenance bool) (*SettingsResult, error) {
	return s.update(ctx, adminID, false, false, func(e *settings.Editor) *settings.Editor {
		return e.SetAvailability(enabled, maintenance)
	})
}

// UpdateBets changes wager bounds.
func (s *SettingsService) UpdateBets(ctx context.Context, adminID int64, u BetsUpdate) (*SettingsResult, error) {
	return s.update(ctx, adminID, false, false, func(e *settings.Editor) *settings.Editor {
		return e.SetBetLimits(u.MinBet, u.MaxBet).
			SetEntryFee(u.EntryFee).
			SetDiceLimits(u.MaxDiceCount, u.DefaultDiceCount)
	})
}

// UpdateTier adds or replaces a difficulty tier.
func (s *SettingsService) UpdateTier(ctx context.Context, adminID int64, id string, t model.Tier, acknowledged bool) (*SettingsResult, error) {
	return s.update(ctx, adminID, false, acknowledged, func(e *settings.Editor) *settings.Editor {
		return e.SetTier(id, t)
	})
}

// UpdateRisk changes risk limits.
func (s *SettingsService) UpdateRisk(ctx context.Context, adminID int64, r model.RiskLimits) (*SettingsResult, error) {
	return s.update(ctx, adminID, false, false, func(e *settings.Editor) *settings.Editor {
		return e.SetRisk(r)
	})
}

// UpdateVariant switches the payout variant.
func (s *SettingsService) UpdateVariant(ctx context.Context, adminID int64, v model.GameVariant, fixed model.FixedPayout, acknowledged bool) (*SettingsResult, error) {
	return s.update(ctx, adminID, false, acknowledged, func(e *settings.Editor) *settings.Editor {
		return e.SetVariant(v, fixed)
	})
}

// UpdateManipulation changes the manipulation block. It needs the
// manipulation permission on top of admin.
func (s *SettingsService) UpdateManipulation(ctx context.Context, adminID int64, m model.Manipulation) (*SettingsResult, error) {
	return s.update(ctx, adminID, true, false, func(e *settings.Editor) *settings.Editor {
		return e.SetManipulation(m)
	})
}

// History lists stored versions, newest first.
func (s *SettingsService) History(ctx context.Context, adminID int64, limit int) ([]*model.SettingsVersion, error) {
	if err := s.authorize(adminID, false); err != nil {
		return nil, err
	}
	versions, err := s.store.History(ctx, limit)
	if err != nil {
		return nil, apperrors.NewTransient("failed to load settings history", err)
	}
	return versions, nil
}

// ResumeTier lifts an audit halt.
func (s *SettingsService) ResumeTier(adminID int64, tier string) error {
	if err := s.authorize(adminID, false); err != nil {
		return err
	}
	if !s.halts.Resume(tier) {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("tier %q is not halted", tier), nil)
	}
	log.Info().Int64("admin_id", adminID).Str("tier", tier).Msg("Tier resumed")
	return nil
}

// HaltedTiers lists tiers halted after audit failures.
func (s *SettingsService) HaltedTiers() []string {
	return s.halts.HaltedTiers()
}

func (s *SettingsService) update(ctx context.Context, adminID int64, manipulation, acknowledged bool, edit func(*settings.Editor) *settings.Editor) (*SettingsResult, error) {
	if err := s.authorize(adminID, manipulation); err != nil {
		return nil, err
	}
	stored, report, err := s.store.Update(ctx, actorName(adminID), acknowledged, edit)
	return s.result(adminID, stored, report, err)
}

func (s *SettingsService) result(adminID int64, stored *model.GameSettings, report payout.Report, err error) (*SettingsResult, error) {
	if err != nil {
		return nil, classifySettingsErr(err)
	}
	log.Info().Int64("admin_id", adminID).Int64("version", stored.Version).Msg("Settings updated")
	return &SettingsResult{Settings: stored, Warnings: report.Warnings()}, nil
}

func classifySettingsErr(err error) error {
	switch {
	case errors.Is(err, settings.ErrInvalidSettings), errors.Is(err, settings.ErrPlayerFavorable):
		return apperrors.NewConfigInvalid(err.Error(), err)
	case errors.Is(err, settings.ErrVersionConflict):
		return apperrors.New(apperrors.ErrConflict, "settings changed concurrently, reload and retry", err)
	default:
		return apperrors.NewTransient("failed to store settings", err)
	}
}
