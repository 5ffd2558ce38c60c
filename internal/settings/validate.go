package settings

import (
	"errors"
	"fmt"
	"strings"

	"dice-wager-engine/internal/game/dice"
	"dice-wager-engine/internal/game/payout"
	"dice-wager-engine/internal/model"
)

// Validation errors.
var (
	ErrInvalidSettings = errors.New("invalid settings")
	ErrPlayerFavorable = errors.New("settings favor the player")
)

// Validator checks a settings document before it is persisted.
type Validator struct {
	payouts   *payout.Resolver
	liveMoney bool
}

// NewValidator creates a validator. liveMoney forbids seeded play unless the
// document explicitly allows it.
func NewValidator(payouts *payout.Resolver, liveMoney bool) *Validator {
	return &Validator{payouts: payouts, liveMoney: liveMoney}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSettings, fmt.Sprintf(format, args...))
}

// Validate checks s and returns its economics report. A player-favorable
// document is rejected unless acknowledged is set.
func (v *Validator) Validate(s *model.GameSettings, acknowledged bool) (payout.Report, error) {
	var errs []error

	if s.MinBet < 1 {
		errs = append(errs, invalid("minBet must be at least 1"))
	}
	if s.MinBet > s.MaxBet {
		errs = append(errs, invalid("minBet %d exceeds maxBet %d", s.MinBet, s.MaxBet))
	}
	if s.EntryFee < 0 {
		errs = append(errs, invalid("entryFee cannot be negative"))
	}
	if s.MaxDiceCount < 1 || s.MaxDiceCount > dice.MaxDiceCount {
		errs = append(errs, invalid("maxDiceCount must be between 1 and %d", dice.MaxDiceCount))
	}
	if s.DefaultDiceCount < 1 || s.DefaultDiceCount > s.MaxDiceCount {
		errs = append(errs, invalid("defaultDiceCount must be between 1 and maxDiceCount"))
	}

	errs = append(errs, v.validateTiers(s)...)
	errs = append(errs, validateRisk(s.Risk)...)
	errs = append(errs, v.validateManipulation(s)...)

	if s.HouseEdgeTarget < 0 || s.HouseEdgeTarget >= 1 {
		errs = append(errs, invalid("houseEdgeTarget must be in [0, 1)"))
	}
	if s.EdgeTolerance < 0 {
		errs = append(errs, invalid("edgeTolerance cannot be negative"))
	}

	if err := errors.Join(errs...); err != nil {
		return payout.Report{}, err
	}

	report, err := v.payouts.Evaluate(s)
	if err != nil {
		return payout.Report{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if ids := report.PlayerFavorable(); len(ids) > 0 && !acknowledged {
		return report, fmt.Errorf("%w: tiers %s exceed guard %v", ErrPlayerFavorable, strings.Join(ids, ", "), s.PlayerFavorableGuard)
	}
	return report, nil
}

func (v *Validator) validateTiers(s *model.GameSettings) []error {
	var errs []error
	enabled := 0
	for id, t := range s.DifficultyTiers {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, invalid("tier id cannot be empty"))
			continue
		}
		if err := ValidateTier(id, t, s.MaxDiceCount); err != nil {
			errs = append(errs, err)
		}
		if t.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		errs = append(errs, invalid("at least one tier must be enabled"))
	}
	if _, ok := s.Tier(s.DefaultTier); !ok {
		errs = append(errs, invalid("defaultTier %q is not an enabled tier", s.DefaultTier))
	}
	return errs
}

// ValidateTier checks one tier. Disabled tiers are only checked for shape.
func ValidateTier(id string, t model.Tier, maxDice int) error {
	if t.Odds.Min > t.Odds.Max {
		return invalid("tier %s oddsRange min %v exceeds max %v", id, t.Odds.Min, t.Odds.Max)
	}
	if !t.Enabled {
		return nil
	}
	if t.Probability <= 0 || t.Probability > 100 {
		return invalid("tier %s probability must be in (0, 100]", id)
	}
	if n, ok := dice.MinDiceFor(t.Probability); !ok || n > maxDice {
		return invalid("tier %s probability %v needs more than %d dice", id, t.Probability, maxDice)
	}
	return nil
}

func validateRisk(r model.RiskLimits) []error {
	var errs []error
	if r.MaxLossPerHour <= 0 {
		errs = append(errs, invalid("risk.maxLossPerHour must be positive"))
	}
	if r.MaxWinPerHour <= 0 {
		errs = append(errs, invalid("risk.maxWinPerHour must be positive"))
	}
	if r.MaxDailyBetsPerUser <= 0 {
		errs = append(errs, invalid("risk.maxDailyBetsPerUser must be positive"))
	}
	return errs
}

func (v *Validator) validateManipulation(s *model.GameSettings) []error {
	m := s.Manipulation
	var errs []error

	if !m.Mode.Valid() {
		errs = append(errs, invalid("unknown manipulation mode %q", m.Mode))
	}
	if m.Bias < 0 || m.Bias > 1 {
		errs = append(errs, invalid("manipulation.bias must be in [0, 1]"))
	}
	if m.WinProbability < 0 || m.WinProbability > 1 {
		errs = append(errs, invalid("manipulation.winProbability must be in [0, 1]"))
	}
	for tier, p := range m.DifficultySettings {
		if _, ok := s.DifficultyTiers[tier]; !ok {
			errs = append(errs, invalid("manipulation.difficultySettings names unknown tier %s", tier))
		}
		if p < 0 || p > 1 {
			errs = append(errs, invalid("manipulation.difficultySettings[%s] must be in [0, 1]", tier))
		}
	}
	if m.Active() && m.Mode == model.ModeDifficultyBased {
		for id, t := range s.DifficultyTiers {
			if _, ok := m.DifficultySettings[id]; t.Enabled && !ok {
				errs = append(errs, invalid("difficulty_based mode needs difficultySettings[%s]", id))
			}
		}
	}
	if m.Active() {
		errs = append(errs, validateLosable(s)...)
	}
	if m.Seeded() && v.liveMoney && !m.AllowSeededLive {
		errs = append(errs, invalid("a seed is not allowed for live play without allowSeededLive"))
	}
	return errs
}

// canDecideLoss reports whether the active mode may decide a loss on tier.
func canDecideLoss(m model.Manipulation, tier string) bool {
	switch m.Mode {
	case model.ModeFixedWin:
		return false
	case model.ModeBiasedWin:
		return m.Bias < 1
	case model.ModeBiasedLoss:
		return m.Bias > 0
	case model.ModeCustomProbability:
		return m.WinProbability < 1
	case model.ModeDifficultyBased:
		p, ok := m.DifficultySettings[tier]
		return ok && p < 1
	default:
		return true
	}
}

// validateLosable rejects modes that may force a loss on a tier whose dice
// leave no losing roll to display.
func validateLosable(s *model.GameSettings) []error {
	var errs []error
	for id, t := range s.DifficultyTiers {
		if !t.Enabled || !canDecideLoss(s.Manipulation, id) {
			continue
		}
		for n := 1; n <= s.MaxDiceCount && n <= dice.MaxDiceCount; n++ {
			if dice.Representable(t.Probability, n) && !dice.HasLosingRoll(t.Probability, n) {
				errs = append(errs, invalid("tier %s has no losing roll at %d dice, %s mode cannot force a loss", id, n, s.Manipulation.Mode))
				break
			}
		}
	}
	return errs
}
