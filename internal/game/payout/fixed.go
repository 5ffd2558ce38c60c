package payout

import (
	"github.com/shopspring/decimal"

	"dice-wager-engine/internal/game/dice"
	"dice-wager-engine/internal/model"
)

// FixedTargetVariant pays a flat amount when the roll lands on target.
// The entry fee is the whole wager; nothing else is staked.
type FixedTargetVariant struct{}

// NewFixedTargetVariant creates the fixed-payout variant.
func NewFixedTargetVariant() *FixedTargetVariant {
	return &FixedTargetVariant{}
}

// Name returns the settings value for this variant.
func (v *FixedTargetVariant) Name() model.GameVariant {
	return model.VariantFixedTarget
}

// Description returns a brief description of the payout rule.
func (v *FixedTargetVariant) Description() string {
	return "Win pays a fixed amount, loss forfeits the entry fee"
}

// Quote prices a decided fixed-target outcome.
func (v *FixedTargetVariant) Quote(s *model.GameSettings, _ model.Tier, _ int64, win bool, _ dice.Stream) (model.Quote, error) {
	if err := v.Validate(s); err != nil {
		return model.Quote{}, err
	}
	q := model.Quote{
		EntryFee:   s.EntryFee,
		Multiplier: decimal.Zero,
	}
	if win {
		q.Winnings = s.FixedPayout.WinAmount
		q.Credit = s.FixedPayout.WinAmount
		q.Multiplier = decimal.NewFromInt(s.FixedPayout.WinAmount).Div(decimal.NewFromInt(s.EntryFee))
	}
	return q, nil
}

// ExpectedValue returns (probability x winAmount - entryFee) / entryFee.
func (v *FixedTargetVariant) ExpectedValue(s *model.GameSettings, tier model.Tier) (decimal.Decimal, error) {
	if err := v.Validate(s); err != nil {
		return decimal.Zero, err
	}
	p := decimal.NewFromFloat(tier.Probability).Div(decimal.NewFromInt(100))
	fee := decimal.NewFromInt(s.EntryFee)
	return p.Mul(decimal.NewFromInt(s.FixedPayout.WinAmount)).Sub(fee).Div(fee), nil
}

// Validate checks the fixed payout configuration.
func (v *FixedTargetVariant) Validate(s *model.GameSettings) error {
	if s.FixedPayout.WinAmount <= 0 || s.EntryFee <= 0 {
		return ErrInvalidFixedWin
	}
	return nil
}
