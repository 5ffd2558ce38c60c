package payout

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"dice-wager-engine/internal/game"
	"dice-wager-engine/internal/game/dice"
	"dice-wager-engine/internal/model"
)

// Resolver dispatches to the variant selected by the settings snapshot.
type Resolver struct {
	registry *game.Registry
}

// NewResolver creates a resolver with the built-in variants registered.
func NewResolver() *Resolver {
	r := game.NewRegistry()
	_ = r.Register(NewOddsVariant())
	_ = r.Register(NewFixedTargetVariant())
	return &Resolver{registry: r}
}

// NewResolverWithRegistry creates a resolver over a caller-supplied registry.
func NewResolverWithRegistry(r *game.Registry) *Resolver {
	return &Resolver{registry: r}
}

// Describe returns each registered variant's description keyed by name.
func (r *Resolver) Describe() map[string]string {
	out := make(map[string]string, r.registry.Count())
	for _, name := range r.registry.Names() {
		if v, ok := r.registry.Get(model.GameVariant(name)); ok {
			out[name] = v.Description()
		}
	}
	return out
}

// Variant returns the variant selected by s.
func (r *Resolver) Variant(s *model.GameSettings) (game.Variant, error) {
	v, ok := r.registry.Get(s.Variant)
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownVariant, s.Variant, r.registry.Names())
	}
	return v, nil
}

// Quote prices a decided outcome for a tier.
func (r *Resolver) Quote(s *model.GameSettings, tier model.Tier, bet int64, win bool, rng dice.Stream) (model.Quote, error) {
	v, err := r.Variant(s)
	if err != nil {
		return model.Quote{}, err
	}
	return v.Quote(s, tier, bet, win, rng)
}

// TierReport is the expected value of one enabled tier.
type TierReport struct {
	Tier            string          `json:"tier"`
	ExpectedValue   decimal.Decimal `json:"expectedValue"`
	HouseEdge       decimal.Decimal `json:"houseEdge"`
	Deviation       decimal.Decimal `json:"deviation"`
	WithinTolerance bool            `json:"withinTolerance"`
	PlayerFavorable bool            `json:"playerFavorable"`
}

// Report summarizes a settings document's economics.
type Report struct {
	Variant model.GameVariant `json:"variant"`
	Tiers   []TierReport      `json:"tiers"`
}

// PlayerFavorable lists the tiers whose EV exceeds the guard.
func (r Report) PlayerFavorable() []string {
	var ids []string
	for _, t := range r.Tiers {
		if t.PlayerFavorable {
			ids = append(ids, t.Tier)
		}
	}
	return ids
}

// Warnings lists tiers that miss the house edge target.
func (r Report) Warnings() []string {
	var out []string
	for _, t := range r.Tiers {
		if !t.WithinTolerance {
			out = append(out, fmt.Sprintf("tier %s house edge %s deviates from target by %s",
				t.Tier, t.HouseEdge.StringFixed(4), t.Deviation.StringFixed(4)))
		}
	}
	return out
}

// Evaluate computes the expected value of every enabled tier and compares it
// with -houseEdgeTarget and the player-favorable guard.
func (r *Resolver) Evaluate(s *model.GameSettings) (Report, error) {
	v, err := r.Variant(s)
	if err != nil {
		return Report{}, err
	}
	if err := v.Validate(s); err != nil {
		return Report{}, err
	}

	target := decimal.NewFromFloat(s.HouseEdgeTarget).Neg()
	tolerance := decimal.NewFromFloat(s.EdgeTolerance)
	guard := decimal.NewFromFloat(s.PlayerFavorableGuard)

	ids := make([]string, 0, len(s.DifficultyTiers))
	for id, t := range s.DifficultyTiers {
		if t.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	report := Report{Variant: v.Name()}
	for _, id := range ids {
		ev, err := v.ExpectedValue(s, s.DifficultyTiers[id])
		if err != nil {
			return Report{}, fmt.Errorf("tier %s: %w", id, err)
		}
		dev := ev.Sub(target).Abs()
		report.Tiers = append(report.Tiers, TierReport{
			Tier:            id,
			ExpectedValue:   ev,
			HouseEdge:       ev.Neg(),
			Deviation:       dev,
			WithinTolerance: dev.LessThanOrEqual(tolerance),
			PlayerFavorable: ev.GreaterThan(guard),
		})
	}
	return report, nil
}
