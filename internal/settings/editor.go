package settings

import (
	"dice-wager-engine/internal/game/dice"
	"dice-wager-engine/internal/model"
)

// Editor applies validated changes to a copy of a settings document.
// The first failing setter wins; later setters become no-ops.
type Editor struct {
	next *model.GameSettings
	err  error
}

// Edit starts an edit from a copy of base.
func Edit(base *model.GameSettings) *Editor {
	return &Editor{next: base.Clone()}
}

func (e *Editor) apply(fn func(s *model.GameSettings) error) *Editor {
	if e.err == nil {
		e.err = fn(e.next)
	}
	return e
}

// SetAvailability toggles the game and maintenance mode.
func (e *Editor) SetAvailability(enabled, maintenance bool) *Editor {
	return e.apply(func(s *model.GameSettings) error {
		s.GameEnabled = enabled
		s.MaintenanceMode = maintenance
		return nil
	})
}

// SetBetLimits sets minBet and maxBet.
func (e *Editor) SetBetLimits(minBet, maxBet int64) *Editor {
	return e.apply(func(s *model.GameSettings) error {
		if minBet < 1 || minBet > maxBet {
			return invalid("bet limits [%d, %d] are invalid", minBet, maxBet)
		}
		s.MinBet, s.MaxBet = minBet, maxBet
		return nil
	})
}

// SetEntryFee sets the fee charged on every wager.
func (e *Editor) SetEntryFee(fee int64) *Editor {
	return e.apply(func(s *model.GameSettings) error {
		if fee < 0 {
			return invalid("entryFee cannot be negative")
		}
		s.EntryFee = fee
		return nil
	})
}

// SetDiceLimits sets the maximum and default dice count.
func (e *Editor) SetDiceLimits(maxDice, defaultDice int) *Editor {
	return e.apply(func(s *model.GameSettings) error {
		if maxDice < 1 || maxDice > dice.MaxDiceCount || defaultDice < 1 || defaultDice > maxDice {
			return invalid("dice limits max=%d default=%d are invalid", maxDice, defaultDice)
		}
		s.MaxDiceCount, s.DefaultDiceCount = maxDice, defaultDice
		return nil
	})
}

// SetTier adds or replaces a tier.
func (e *Editor) SetTier(id string, t model.Tier) *Editor {
	return e.apply(func(s *model.GameSettings) error {
		if id == "" {
			return invalid("tier id cannot be empty")
		}
		if err := ValidateTier(id, t, s.MaxDiceCount); err != nil {
			return err
		}
		if s.DifficultyTiers == nil {
			s.DifficultyTiers = make(map[string]model.Tier)
		}
		s.DifficultyTiers[id] = t
		return nil
	})
}

// RemoveTier deletes a tier that is not the default.
func (e *Editor) RemoveTier(id string) *Editor {
	return e.apply(func(s *model.GameSettings) error {
		if id == s.DefaultTier {
			return invalid("cannot remove default tier %s", id)
		}
		delete(s.DifficultyTiers, id)
		delete(s.Manipulation.DifficultySettings, id)
		return nil
	})
}

// SetDefaultTier selects the tier used when a wager names none.
func (e *Editor) SetDefaultTier(id string) *Editor {
	return e.apply(func(s *model.GameSettings) error {
		if _, ok := s.Tier(id); !ok {
			return invalid("tier %s is not enabled", id)
		}
		s.DefaultTier = id
		return nil
	})
}

// SetHouseEdge sets the target edge, tolerance and player-favorable guard.
func (e *Editor) SetHouseEdge(target, tolerance, guard float64) *Editor {
	return e.apply(func(s *model.GameSettings) error {
		if target < 0 || target >= 1 || tolerance < 0 {
			return invalid("house edge target %v tolerance %v are invalid", target, tolerance)
		}
		s.HouseEdgeTarget, s.EdgeTolerance, s.PlayerFavorableGuard = target, tolerance, guard
		return nil
	})
}

// SetVariant selects the payout variant and its fixed payout.
func (e *Editor) SetVariant(v model.GameVariant, fixed model.FixedPayout) *Editor {
	return e.apply(func(s *model.GameSettings) error {
		if v != model.VariantOdds && v != model.VariantFixedTarget {
			return invalid("unknown variant %q", v)
		}
		if fixed.WinAmount < 0 {
			return invalid("fixedPayout.winAmount cannot be negative")
		}
		s.Variant, s.FixedPayout = v, fixed
		return nil
	})
}

// SetFixedPayout sets the amount credited by a winning fixed_target wager.
func (e *Editor) SetFixedPayout(fixed model.FixedPayout) *Editor {
	return e.apply(func(s *model.GameSettings) error {
		if fixed.WinAmount < 0 {
			return invalid("fixedPayout.winAmount cannot be negative")
		}
		s.FixedPayout = fixed
		return nil
	})
}

// SetRisk replaces the risk limits.
func (e *Editor) SetRisk(r model.RiskLimits) *Editor {
	return e.apply(func(s *model.GameSettings) error {
		if errs := validateRisk(r); len(errs) > 0 {
			return errs[0]
		}
		s.Risk = r
		return nil
	})
}

// SetManipulation replaces the manipulation block.
func (e *Editor) SetManipulation(m model.Manipulation) *Editor {
	return e.apply(func(s *model.GameSettings) error {
		if m.Mode == "" {
			m.Mode = model.ModeFair
		}
		if !m.Mode.Valid() {
			return invalid("unknown manipulation mode %q", m.Mode)
		}
		if m.Bias < 0 || m.Bias > 1 {
			return invalid("manipulation.bias must be in [0, 1]")
		}
		s.Manipulation = m
		return nil
	})
}

// Build returns the edited copy or the first setter error.
func (e *Editor) Build() (*model.GameSettings, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.next, nil
}
