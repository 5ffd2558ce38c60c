package game

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dice-wager-engine/internal/game/dice"
	"dice-wager-engine/internal/model"
)

type stubVariant struct{ name model.GameVariant }

func (s stubVariant) Name() model.GameVariant { return s.name }
func (s stubVariant) Description() string     { return "stub" }
func (s stubVariant) Quote(*model.GameSettings, model.Tier, int64, bool, dice.Stream) (model.Quote, error) {
	return model.Quote{}, nil
}
func (s stubVariant) ExpectedValue(*model.GameSettings, model.Tier) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (s stubVariant) Validate(*model.GameSettings) error { return nil }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubVariant{name: model.VariantOdds}))
	require.NoError(t, r.Register(stubVariant{name: model.VariantFixedTarget}))

	v, ok := r.Get(model.VariantOdds)
	require.True(t, ok)
	assert.Equal(t, model.VariantOdds, v.Name())

	_, ok = r.Get("roulette")
	assert.False(t, ok)

	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []string{"fixed_target", "odds"}, r.Names())
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(stubVariant{}))
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_ReplacesSameName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubVariant{name: model.VariantOdds}))
	require.NoError(t, r.Register(stubVariant{name: model.VariantOdds}))
	assert.Equal(t, 1, r.Count())
}
