package settings

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"dice-wager-engine/internal/game/payout"
	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/repository/memory"
)

func mustDefaults(t *testing.T) *model.GameSettings {
	t.Helper()
	s, err := Defaults()
	require.NoError(t, err)
	return s
}

func newTestStore(t *testing.T, liveMoney bool) (*Store, *memory.SettingsRepository) {
	t.Helper()
	repo := memory.NewSettingsRepository(memory.NewDB())
	store, err := NewStore(context.Background(), repo, NewValidator(payout.NewResolver(), liveMoney), mustDefaults(t), 0)
	require.NoError(t, err)
	return store, repo
}

// ============================================================================
// Defaults and validation
// ============================================================================

func TestDefaults_AreValid(t *testing.T) {
	s := mustDefaults(t)
	assert.True(t, s.GameEnabled)
	assert.Equal(t, model.VariantOdds, s.Variant)
	assert.Equal(t, model.ModeFair, s.Manipulation.Mode)
	assert.True(t, s.Manipulation.LogManipulations)
	require.Contains(t, s.DifficultyTiers, "easy")
	assert.InDelta(t, 16.67, s.DifficultyTiers["easy"].Probability, 1e-9)

	report, err := NewValidator(payout.NewResolver(), true).Validate(s, false)
	require.NoError(t, err)
	assert.Len(t, report.Tiers, 3)
	assert.Empty(t, report.PlayerFavorable())
}

func TestParse_RejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("minBet: [oops"))
	assert.Error(t, err)
}

func TestValidator_RejectsInvalidDocuments(t *testing.T) {
	v := NewValidator(payout.NewResolver(), false)

	tests := []struct {
		name string
		edit func(s *model.GameSettings)
	}{
		{"min above max", func(s *model.GameSettings) { s.MinBet, s.MaxBet = 100, 10 }},
		{"zero min bet", func(s *model.GameSettings) { s.MinBet = 0 }},
		{"negative entry fee", func(s *model.GameSettings) { s.EntryFee = -1 }},
		{"probability zero", func(s *model.GameSettings) {
			s.DifficultyTiers["easy"] = model.Tier{Enabled: true, Probability: 0, Odds: model.OddsRange{Min: 1, Max: 2}}
		}},
		{"probability above 100", func(s *model.GameSettings) {
			s.DifficultyTiers["easy"] = model.Tier{Enabled: true, Probability: 100.5, Odds: model.OddsRange{Min: 1, Max: 2}}
		}},
		{"odds min above max", func(s *model.GameSettings) {
			s.DifficultyTiers["easy"] = model.Tier{Enabled: true, Probability: 16.67, Odds: model.OddsRange{Min: 2, Max: 1}}
		}},
		{"unrepresentable probability", func(s *model.GameSettings) {
			s.MaxDiceCount, s.DefaultDiceCount = 1, 1
			delete(s.DifficultyTiers, "medium")
			delete(s.DifficultyTiers, "hard")
			s.DifficultyTiers["easy"] = model.Tier{Enabled: true, Probability: 0.46, Odds: model.OddsRange{Min: 1, Max: 2}}
		}},
		{"zero loss cap", func(s *model.GameSettings) { s.Risk.MaxLossPerHour = 0 }},
		{"zero win cap", func(s *model.GameSettings) { s.Risk.MaxWinPerHour = 0 }},
		{"zero daily bets", func(s *model.GameSettings) { s.Risk.MaxDailyBetsPerUser = 0 }},
		{"bias above one", func(s *model.GameSettings) { s.Manipulation.Bias = 1.5 }},
		{"unknown mode", func(s *model.GameSettings) { s.Manipulation.Mode = "rigged" }},
		{"default tier disabled", func(s *model.GameSettings) {
			easy := s.DifficultyTiers["easy"]
			easy.Enabled = false
			s.DifficultyTiers["easy"] = easy
		}},
		{"no enabled tier", func(s *model.GameSettings) {
			for id, tier := range s.DifficultyTiers {
				tier.Enabled = false
				s.DifficultyTiers[id] = tier
			}
		}},
		{"difficulty mode without settings", func(s *model.GameSettings) {
			s.Manipulation.Enabled = true
			s.Manipulation.Mode = model.ModeDifficultyBased
		}},
		{"difficulty mode missing an enabled tier", func(s *model.GameSettings) {
			s.Manipulation.Enabled = true
			s.Manipulation.Mode = model.ModeDifficultyBased
			s.Manipulation.DifficultySettings = map[string]float64{"easy": 0.5}
		}},
		{"fixed loss with a tier that always wins", func(s *model.GameSettings) {
			s.DifficultyTiers["sure"] = model.Tier{Enabled: true, Probability: 100, Odds: model.OddsRange{Min: 1, Max: 1}}
			s.Manipulation.Enabled = true
			s.Manipulation.Mode = model.ModeFixedLoss
		}},
		{"biased win with a tier that always wins", func(s *model.GameSettings) {
			s.DifficultyTiers["sure"] = model.Tier{Enabled: true, Probability: 99.9, Odds: model.OddsRange{Min: 1, Max: 1}}
			s.Manipulation.Enabled = true
			s.Manipulation.Mode = model.ModeBiasedWin
			s.Manipulation.Bias = 0.5
		}},
		{"house edge out of range", func(s *model.GameSettings) { s.HouseEdgeTarget = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustDefaults(t)
			tt.edit(s)
			_, err := v.Validate(s, true)
			assert.ErrorIs(t, err, ErrInvalidSettings)
		})
	}
}

func TestValidator_TierThatAlwaysWins(t *testing.T) {
	v := NewValidator(payout.NewResolver(), false)
	tests := []struct {
		name  string
		m     model.Manipulation
		valid bool
	}{
		{"manipulation off", model.Manipulation{Enabled: false, Mode: model.ModeFixedLoss}, true},
		{"fixed win", model.Manipulation{Enabled: true, Mode: model.ModeFixedWin}, true},
		{"biased win at one", model.Manipulation{Enabled: true, Mode: model.ModeBiasedWin, Bias: 1}, true},
		{"biased loss at zero", model.Manipulation{Enabled: true, Mode: model.ModeBiasedLoss, Bias: 0}, true},
		{"fixed loss", model.Manipulation{Enabled: true, Mode: model.ModeFixedLoss}, false},
		{"biased loss", model.Manipulation{Enabled: true, Mode: model.ModeBiasedLoss, Bias: 0.1}, false},
		{"custom probability", model.Manipulation{Enabled: true, Mode: model.ModeCustomProbability, WinProbability: 0.9}, false},
		{"difficulty that always wins", model.Manipulation{
			Enabled: true, Mode: model.ModeDifficultyBased,
			DifficultySettings: map[string]float64{"easy": 0.2, "medium": 0.2, "hard": 0.2, "sure": 1},
		}, true},
		{"difficulty that may lose", model.Manipulation{
			Enabled: true, Mode: model.ModeDifficultyBased,
			DifficultySettings: map[string]float64{"easy": 0.2, "medium": 0.2, "hard": 0.2, "sure": 0.9},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustDefaults(t)
			s.DifficultyTiers["sure"] = model.Tier{Enabled: true, Probability: 100, Odds: model.OddsRange{Min: 1, Max: 1}}
			s.Manipulation = tt.m
			_, err := v.Validate(s, true)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidSettings)
				assert.Contains(t, err.Error(), "no losing roll")
			}
		})
	}
}

func TestValidator_PlayerFavorableNeedsAcknowledgement(t *testing.T) {
	v := NewValidator(payout.NewResolver(), false)
	s := mustDefaults(t)
	s.DifficultyTiers["easy"] = model.Tier{Enabled: true, Probability: 16.67, Odds: model.OddsRange{Min: 10, Max: 12}}

	report, err := v.Validate(s, false)
	assert.ErrorIs(t, err, ErrPlayerFavorable)
	assert.Equal(t, []string{"easy"}, report.PlayerFavorable())

	_, err = v.Validate(s, true)
	assert.NoError(t, err)
}

func TestValidator_SeedForbiddenForLiveMoney(t *testing.T) {
	s := mustDefaults(t)
	s.Manipulation.Seed = "demo"

	_, err := NewValidator(payout.NewResolver(), true).Validate(s, false)
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = NewValidator(payout.NewResolver(), false).Validate(s, false)
	assert.NoError(t, err)

	s.Manipulation.AllowSeededLive = true
	_, err = NewValidator(payout.NewResolver(), true).Validate(s, false)
	assert.NoError(t, err)
}

// TestValidator_BetBoundsProperty checks that bet bounds are accepted exactly
// when 1 <= minBet <= maxBet.
func TestValidator_BetBoundsProperty(t *testing.T) {
	v := NewValidator(payout.NewResolver(), false)
	base, err := Defaults()
	require.NoError(t, err)

	rapid.Check(t, func(rt *rapid.T) {
		minBet := rapid.Int64Range(-10, 1000).Draw(rt, "minBet")
		maxBet := rapid.Int64Range(-10, 1000).Draw(rt, "maxBet")

		s := base.Clone()
		s.MinBet, s.MaxBet = minBet, maxBet
		_, err := v.Validate(s, true)

		valid := minBet >= 1 && minBet <= maxBet
		if valid && err != nil {
			rt.Fatalf("bounds [%d, %d] should be valid: %v", minBet, maxBet, err)
		}
		if !valid && err == nil {
			rt.Fatalf("bounds [%d, %d] should be rejected", minBet, maxBet)
		}
	})
}

// ============================================================================
// Editor
// ============================================================================

func TestEditor_FirstErrorWins(t *testing.T) {
	base := mustDefaults(t)

	_, err := Edit(base).
		SetBetLimits(50, 10).
		SetEntryFee(5).
		Build()
	assert.ErrorIs(t, err, ErrInvalidSettings)

	next, err := Edit(base).
		SetBetLimits(20, 200).
		SetEntryFee(5).
		SetFixedPayout(model.FixedPayout{WinAmount: 900}).
		SetAvailability(true, true).
		Build()
	require.NoError(t, err)
	assert.Equal(t, int64(20), next.MinBet)
	assert.Equal(t, int64(5), next.EntryFee)
	assert.Equal(t, int64(900), next.FixedPayout.WinAmount)
	assert.True(t, next.MaintenanceMode)

	// base is untouched
	assert.Equal(t, int64(10), base.MinBet)
	assert.False(t, base.MaintenanceMode)
}

func TestEditor_Tiers(t *testing.T) {
	base := mustDefaults(t)

	next, err := Edit(base).
		SetTier("insane", model.Tier{Enabled: true, Probability: 0.1, Odds: model.OddsRange{Min: 100, Max: 200}}).
		Build()
	require.NoError(t, err)
	assert.Contains(t, next.DifficultyTiers, "insane")
	assert.NotContains(t, base.DifficultyTiers, "insane")

	_, err = Edit(base).RemoveTier("easy").Build()
	assert.Error(t, err, "the default tier cannot be removed")

	_, err = Edit(base).SetTier("", model.Tier{}).Build()
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestEditor_Manipulation(t *testing.T) {
	base := mustDefaults(t)

	next, err := Edit(base).SetManipulation(model.Manipulation{Enabled: true, Bias: 0.3}).Build()
	require.NoError(t, err)
	assert.Equal(t, model.ModeFair, next.Manipulation.Mode)

	_, err = Edit(base).SetManipulation(model.Manipulation{Enabled: true, Mode: model.ModeBiasedWin, Bias: -0.1}).Build()
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

// ============================================================================
// Store
// ============================================================================

func TestStore_BootstrapsDefaults(t *testing.T) {
	store, repo := newTestStore(t, true)

	snap := store.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, "system", snap.UpdatedBy)

	latest, err := repo.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bootstrap", latest.Reason)

	// a second store on the same repository loads instead of bootstrapping
	again, err := NewStore(context.Background(), repo, NewValidator(payout.NewResolver(), true), mustDefaults(t), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Snapshot().Version)
}

func TestStore_RejectsInvalidDefaults(t *testing.T) {
	defaults := mustDefaults(t)
	defaults.MinBet = 0

	_, err := NewStore(context.Background(), memory.NewSettingsRepository(memory.NewDB()),
		NewValidator(payout.NewResolver(), true), defaults, 0)
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestStore_UpdateCreatesNewVersion(t *testing.T) {
	store, _ := newTestStore(t, true)
	ctx := context.Background()
	before := store.Snapshot()

	var notified atomic.Int64
	store.OnChange(func(s *model.GameSettings) { notified.Store(s.Version) })

	next, report, err := store.Update(ctx, "admin:1", false, func(e *Editor) *Editor {
		return e.SetBetLimits(20, 500)
	})
	require.NoError(t, err)
	assert.Len(t, report.Tiers, 3)
	assert.Equal(t, int64(2), next.Version)
	assert.Equal(t, "admin:1", next.UpdatedBy)
	assert.Equal(t, int64(2), notified.Load())

	// earlier snapshots never change
	assert.Equal(t, int64(1), before.Version)
	assert.Equal(t, int64(10), before.MinBet)

	history, err := store.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(500), history[0].Settings.MaxBet)
}

func TestStore_InvalidWriteLeavesVersionUnchanged(t *testing.T) {
	store, _ := newTestStore(t, true)
	ctx := context.Background()

	bad := store.Snapshot().Clone()
	bad.Risk.MaxLossPerHour = -1
	_, _, err := store.Put(ctx, bad, "admin:1", true, 0)
	require.ErrorIs(t, err, ErrInvalidSettings)
	assert.Equal(t, int64(1), store.Snapshot().Version)
}

func TestStore_PutRejectsStaleDocument(t *testing.T) {
	store, _ := newTestStore(t, true)
	ctx := context.Background()

	stale := store.Snapshot().Clone()
	_, _, err := store.Update(ctx, "admin:1", false, func(e *Editor) *Editor { return e.SetEntryFee(3) })
	require.NoError(t, err)

	stale.EntryFee = 7
	_, _, err = store.Put(ctx, stale, "admin:2", false, stale.Version)
	require.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, int64(3), store.Snapshot().EntryFee)

	fresh := store.Snapshot().Clone()
	fresh.EntryFee = 7
	stored, _, err := store.Put(ctx, fresh, "admin:2", false, fresh.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Version)
}

func TestStore_DisableAndReset(t *testing.T) {
	store, _ := newTestStore(t, true)
	ctx := context.Background()

	disabled, err := store.Disable(ctx, "hourly loss cap exceeded")
	require.NoError(t, err)
	assert.False(t, disabled.GameEnabled)
	assert.Equal(t, int64(2), disabled.Version)

	// disabling twice does not create another version
	again, err := store.Disable(ctx, "hourly loss cap exceeded")
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Version)

	reset, err := store.Reset(ctx, "admin:1")
	require.NoError(t, err)
	assert.True(t, reset.GameEnabled)
	assert.Equal(t, int64(3), reset.Version)
}

func TestStore_ConcurrentWriterConflict(t *testing.T) {
	repo := memory.NewSettingsRepository(memory.NewDB())
	ctx := context.Background()
	validator := NewValidator(payout.NewResolver(), true)

	a, err := NewStore(ctx, repo, validator, mustDefaults(t), 0)
	require.NoError(t, err)
	b, err := NewStore(ctx, repo, validator, mustDefaults(t), 0)
	require.NoError(t, err)

	_, _, err = a.Update(ctx, "admin:a", false, func(e *Editor) *Editor { return e.SetEntryFee(1) })
	require.NoError(t, err)

	_, _, err = b.Update(ctx, "admin:b", false, func(e *Editor) *Editor { return e.SetEntryFee(2) })
	require.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, int64(2), b.Snapshot().Version, "the losing writer picks up the winner's version")
	assert.Equal(t, int64(1), b.Snapshot().EntryFee)

	_, _, err = b.Update(ctx, "admin:b", false, func(e *Editor) *Editor { return e.SetEntryFee(2) })
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.Snapshot().Version)

	require.NoError(t, a.Refresh(ctx))
	assert.Equal(t, int64(2), a.Snapshot().EntryFee)
}
