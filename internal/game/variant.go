// Package game defines the payout variant interface and its registry.
// A new way of paying out a decided roll only requires implementing Variant.
package game

import (
	"github.com/shopspring/decimal"

	"dice-wager-engine/internal/game/dice"
	"dice-wager-engine/internal/model"
)

// Variant prices decided outcomes for one game variant.
type Variant interface {
	// Name returns the settings value that selects this variant.
	Name() model.GameVariant

	// Description returns a brief description of the payout rule.
	Description() string

	// Quote computes the money movement for a decided outcome.
	// rng is only consulted for winning outcomes that draw a multiplier.
	Quote(s *model.GameSettings, tier model.Tier, bet int64, win bool, rng dice.Stream) (model.Quote, error)

	// ExpectedValue returns the player's expected result per unit wagered
	// for a tier; the house edge is its negation.
	ExpectedValue(s *model.GameSettings, tier model.Tier) (decimal.Decimal, error)

	// Validate checks the settings the variant depends on.
	Validate(s *model.GameSettings) error
}
