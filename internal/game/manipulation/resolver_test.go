package manipulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"dice-wager-engine/internal/game/dice"
	"dice-wager-engine/internal/model"
)

func rollInput(t require.TestingT, m model.Manipulation, probability float64, n int) Input {
	faces, err := dice.Roll(dice.NewCryptoStream(), n)
	require.NoError(t, err)
	cutoff := dice.Cutoff(probability, n)
	win, err := dice.IsWin(faces, cutoff)
	require.NoError(t, err)
	return Input{Settings: m, Tier: "easy", DiceCount: n, Cutoff: cutoff, Faces: faces, NaturalWin: win}
}

func TestResolve_DisabledIsFair(t *testing.T) {
	m := model.Manipulation{Enabled: false, Mode: model.ModeFixedWin}
	in := rollInput(t, m, 16.67, 3)

	d, err := Resolve(in, dice.NewCryptoStream())
	require.NoError(t, err)

	assert.Equal(t, model.AppliedFair, d.Outcome.AppliedMode)
	assert.Equal(t, in.NaturalWin, d.Outcome.IsWin)
	assert.Equal(t, in.Faces, d.Outcome.Faces)
	assert.False(t, d.Changed)
}

func TestResolve_FixedModes(t *testing.T) {
	tests := []struct {
		name string
		mode model.ManipulationMode
		want bool
	}{
		{"fixed win", model.ModeFixedWin, true},
		{"fixed loss", model.ModeFixedLoss, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := model.Manipulation{Enabled: true, Mode: tt.mode}
			for i := 0; i < 2000; i++ {
				in := rollInput(t, m, 16.67, 3)
				d, err := Resolve(in, dice.NewCryptoStream())
				require.NoError(t, err)
				require.Equal(t, tt.want, d.Outcome.IsWin)
				require.Equal(t, model.AppliedManipulated, d.Outcome.AppliedMode)

				shown, err := dice.IsWin(d.Outcome.Faces, in.Cutoff)
				require.NoError(t, err)
				require.Equal(t, tt.want, shown, "displayed faces must match decision")
				require.Equal(t, in.NaturalWin != tt.want, d.Changed)
			}
		})
	}
}

func TestResolve_BiasedRateIgnoresTierProbability(t *testing.T) {
	const trials = 20000
	tests := []struct {
		name        string
		mode        model.ManipulationMode
		bias        float64
		probability float64
		wantRate    float64
	}{
		{"win bias 0.3 on easy tier", model.ModeBiasedWin, 0.3, 16.67, 0.3},
		{"win bias 0.3 on even tier", model.ModeBiasedWin, 0.3, 50, 0.3},
		{"win bias 0.3 on likely tier", model.ModeBiasedWin, 0.3, 83.33, 0.3},
		{"win bias 0.8 on hard tier", model.ModeBiasedWin, 0.8, 2.78, 0.8},
		{"loss bias 0.3 on even tier", model.ModeBiasedLoss, 0.3, 50, 0.7},
		{"loss bias 0.9 on easy tier", model.ModeBiasedLoss, 0.9, 16.67, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := model.Manipulation{Enabled: true, Mode: tt.mode, Bias: tt.bias}
			rng := dice.NewCryptoStream()
			n, ok := dice.MinDiceFor(tt.probability)
			require.True(t, ok)

			wins := 0
			for i := 0; i < trials; i++ {
				in := rollInput(t, m, tt.probability, n)
				d, err := Resolve(in, rng)
				require.NoError(t, err)
				shown, err := dice.IsWin(d.Outcome.Faces, in.Cutoff)
				require.NoError(t, err)
				require.Equal(t, d.Outcome.IsWin, shown)
				require.Equal(t, in.NaturalWin != d.Outcome.IsWin, d.Changed)
				if d.Outcome.IsWin {
					wins++
				}
			}
			assert.InDelta(t, tt.wantRate, float64(wins)/trials, 0.015)
		})
	}
}

func TestResolve_BiasedLossNeverWinsWhenBiasIsOne(t *testing.T) {
	m := model.Manipulation{Enabled: true, Mode: model.ModeBiasedLoss, Bias: 1}
	for i := 0; i < 500; i++ {
		in := rollInput(t, m, 50, 1)
		d, err := Resolve(in, dice.NewCryptoStream())
		require.NoError(t, err)
		assert.False(t, d.Outcome.IsWin)
	}
}

func TestResolve_CustomProbability(t *testing.T) {
	const trials = 50000
	m := model.Manipulation{Enabled: true, Mode: model.ModeCustomProbability, WinProbability: 0.45}
	rng := dice.NewCryptoStream()

	wins := 0
	for i := 0; i < trials; i++ {
		d, err := Resolve(rollInput(t, m, 16.67, 3), rng)
		require.NoError(t, err)
		assert.Equal(t, model.AppliedManipulated, d.Outcome.AppliedMode)
		if d.Outcome.IsWin {
			wins++
		}
	}
	assert.InDelta(t, 0.45, float64(wins)/trials, 0.01)
}

func TestResolve_DifficultyBased(t *testing.T) {
	m := model.Manipulation{
		Enabled:            true,
		Mode:               model.ModeDifficultyBased,
		DifficultySettings: map[string]float64{"easy": 1},
	}

	d, err := Resolve(rollInput(t, m, 16.67, 3), dice.NewCryptoStream())
	require.NoError(t, err)
	assert.True(t, d.Outcome.IsWin)
	assert.Equal(t, "easy", d.Parameters["tier"])

	in := rollInput(t, m, 16.67, 3)
	in.Tier = "hard"
	d, err = Resolve(in, dice.NewCryptoStream())
	require.NoError(t, err)
	assert.Equal(t, model.AppliedFair, d.Outcome.AppliedMode, "tier without a setting falls back to fair")
}

func TestResolve_UnknownMode(t *testing.T) {
	m := model.Manipulation{Enabled: true, Mode: "rigged"}
	_, err := Resolve(rollInput(t, m, 16.67, 3), dice.NewCryptoStream())
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestResolve_SeededIsDeterministic(t *testing.T) {
	m := model.Manipulation{Enabled: true, Mode: model.ModeCustomProbability, WinProbability: 0.5}
	in := Input{Settings: m, Tier: "easy", DiceCount: 3, Cutoff: 36, Faces: []int{6, 6, 6}, NaturalWin: false}

	a, err := Resolve(in, dice.NewSeededStream("seed", 9, dice.LabelDecision))
	require.NoError(t, err)
	b, err := Resolve(in, dice.NewSeededStream("seed", 9, dice.LabelDecision))
	require.NoError(t, err)
	assert.Equal(t, a.Outcome, b.Outcome)
}

// TestResolveDisplayedFacesConsistentProperty checks that for any mode the
// displayed faces evaluate to the decided result.
func TestResolveDisplayedFacesConsistentProperty(t *testing.T) {
	modes := []model.ManipulationMode{
		model.ModeFair, model.ModeBiasedWin, model.ModeBiasedLoss, model.ModeFixedWin,
		model.ModeFixedLoss, model.ModeCustomProbability, model.ModeDifficultyBased,
	}
	rapid.Check(t, func(t *rapid.T) {
		m := model.Manipulation{
			Enabled:            rapid.Bool().Draw(t, "enabled"),
			Mode:               rapid.SampledFrom(modes).Draw(t, "mode"),
			Bias:               rapid.Float64Range(0, 1).Draw(t, "bias"),
			WinProbability:     rapid.Float64Range(0, 1).Draw(t, "winProbability"),
			DifficultySettings: map[string]float64{"easy": rapid.Float64Range(0, 1).Draw(t, "difficulty")},
		}
		n := rapid.IntRange(1, 4).Draw(t, "diceCount")
		cutoff := rapid.Uint64Range(1, dice.Space(n)-1).Draw(t, "cutoff")
		idx := rapid.Uint64Range(0, dice.Space(n)-1).Draw(t, "index")
		faces, _ := dice.FacesFor(idx, n)

		in := Input{Settings: m, Tier: "easy", DiceCount: n, Cutoff: cutoff, Faces: faces, NaturalWin: idx < cutoff}
		d, err := Resolve(in, dice.NewCryptoStream())
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		shown, _ := dice.IsWin(d.Outcome.Faces, cutoff)
		if shown != d.Outcome.IsWin {
			t.Fatalf("faces %v show %v but decision is %v", d.Outcome.Faces, shown, d.Outcome.IsWin)
		}
		if d.Changed && d.Outcome.AppliedMode != model.AppliedManipulated {
			t.Fatal("a changed result must be marked manipulated")
		}
	})
}
