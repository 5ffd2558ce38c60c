// Package payout prices decided outcomes and reports the expected value of a
// settings document against its house edge target.
package payout

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"dice-wager-engine/internal/game/dice"
	"dice-wager-engine/internal/model"
)

// Errors for payout calculation.
var (
	ErrInvalidBet      = errors.New("bet amount must be positive")
	ErrInvalidOdds     = errors.New("invalid odds range")
	ErrInvalidFixedWin = errors.New("fixed payout requires a positive win amount and entry fee")
	ErrUnknownVariant  = errors.New("unknown game variant")
)

// multiplierScale is the resolution of drawn multipliers (two decimals).
const multiplierScale = 2

// OddsVariant returns the stake plus stake x multiplier on a win.
// The multiplier is drawn uniformly, in hundredths, from the tier's odds range.
type OddsVariant struct{}

// NewOddsVariant creates the odds-tier variant.
func NewOddsVariant() *OddsVariant {
	return &OddsVariant{}
}

// Name returns the settings value for this variant.
func (v *OddsVariant) Name() model.GameVariant {
	return model.VariantOdds
}

// Description returns a brief description of the payout rule.
func (v *OddsVariant) Description() string {
	return "Win pays back the stake plus stake x multiplier drawn from the tier's odds range"
}

// Quote prices a decided odds outcome.
func (v *OddsVariant) Quote(s *model.GameSettings, tier model.Tier, bet int64, win bool, rng dice.Stream) (model.Quote, error) {
	if bet <= 0 {
		return model.Quote{}, ErrInvalidBet
	}
	q := model.Quote{
		Stake:      bet,
		EntryFee:   s.EntryFee,
		Multiplier: decimal.Zero,
	}
	if !win {
		return q, nil
	}

	mult, err := DrawMultiplier(tier.Odds, rng)
	if err != nil {
		return model.Quote{}, err
	}
	q.Multiplier = mult
	q.Winnings = decimal.NewFromInt(bet).Mul(mult).Floor().IntPart()
	q.Credit = bet + q.Winnings
	return q, nil
}

// ExpectedValue returns probability x avgMultiplier - (1 - probability) per
// unit staked. Entry fees are excluded.
func (v *OddsVariant) ExpectedValue(_ *model.GameSettings, tier model.Tier) (decimal.Decimal, error) {
	if tier.Odds.Min > tier.Odds.Max {
		return decimal.Zero, ErrInvalidOdds
	}
	p := decimal.NewFromFloat(tier.Probability).Div(decimal.NewFromInt(100))
	avg := decimal.NewFromFloat(tier.Odds.Average())
	return p.Mul(avg).Sub(decimal.NewFromInt(1).Sub(p)), nil
}

// Validate checks every enabled tier's odds range.
func (v *OddsVariant) Validate(s *model.GameSettings) error {
	for id, t := range s.DifficultyTiers {
		if !t.Enabled {
			continue
		}
		if t.Odds.Min <= 0 || t.Odds.Min > t.Odds.Max {
			return fmt.Errorf("%w: tier %s has [%v, %v]", ErrInvalidOdds, id, t.Odds.Min, t.Odds.Max)
		}
	}
	return nil
}

// DrawMultiplier draws a multiplier in hundredths from [min, max].
func DrawMultiplier(r model.OddsRange, rng dice.Stream) (decimal.Decimal, error) {
	lo := int64(math.Round(r.Min * 100))
	hi := int64(math.Round(r.Max * 100))
	if lo <= 0 || hi < lo {
		return decimal.Zero, fmt.Errorf("%w: [%v, %v]", ErrInvalidOdds, r.Min, r.Max)
	}
	k, err := rng.Uint64n(uint64(hi-lo) + 1)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(lo+int64(k), -multiplierScale), nil
}
