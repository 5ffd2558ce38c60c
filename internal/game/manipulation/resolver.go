// Package manipulation decides the final result of a roll under the
// configured fairness mode.
//
// Resolve is a pure function of the settings snapshot, the tier, the natural
// roll and the randomness it is handed. When an override decides a result
// different from the dice, the displayed faces are redrawn so they agree
// with the decision.
package manipulation

import (
	"errors"
	"fmt"
	"slices"

	"dice-wager-engine/internal/game/dice"
	"dice-wager-engine/internal/model"
)

// ErrUnknownMode is returned for a mode the resolver does not implement.
var ErrUnknownMode = errors.New("unknown manipulation mode")

// Input is the natural roll to resolve.
type Input struct {
	Settings   model.Manipulation
	Tier       string
	DiceCount  int
	Cutoff     uint64
	Faces      []int
	NaturalWin bool
}

// Decision is the resolved outcome plus what the audit trail needs.
type Decision struct {
	Outcome    model.Outcome
	Changed    bool
	Parameters map[string]any
}

// Resolve applies the manipulation mode to a natural roll.
// rng supplies the fresh uniform draw and, if needed, the redrawn faces.
func Resolve(in Input, rng dice.Stream) (Decision, error) {
	fair := Decision{
		Outcome: model.Outcome{
			Faces:        in.Faces,
			IsWin:        in.NaturalWin,
			AppliedMode:  model.AppliedFair,
			Mode:         model.ModeFair,
			NaturalFaces: in.Faces,
			NaturalWin:   in.NaturalWin,
		},
	}

	m := in.Settings
	if !m.Active() {
		return fair, nil
	}

	var (
		decided bool
		params  = map[string]any{}
	)

	switch m.Mode {
	case model.ModeFixedWin:
		decided = true
	case model.ModeFixedLoss:
		decided = false
	case model.ModeBiasedWin, model.ModeBiasedLoss:
		u, err := rng.Float64()
		if err != nil {
			return Decision{}, err
		}
		params["bias"] = m.Bias
		params["draw"] = u
		// The draw alone decides, so the rate follows bias whatever the tier.
		decided = u < m.Bias
		if m.Mode == model.ModeBiasedLoss {
			decided = !decided
		}
	case model.ModeCustomProbability:
		u, err := rng.Float64()
		if err != nil {
			return Decision{}, err
		}
		params["winProbability"] = m.WinProbability
		params["draw"] = u
		decided = u < m.WinProbability
	case model.ModeDifficultyBased:
		p, ok := m.DifficultySettings[in.Tier]
		if !ok {
			return fair, nil
		}
		u, err := rng.Float64()
		if err != nil {
			return Decision{}, err
		}
		params["tier"] = in.Tier
		params["tierProbability"] = p
		params["draw"] = u
		decided = u < p
	default:
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownMode, m.Mode)
	}

	faces := in.Faces
	changed := decided != in.NaturalWin
	if changed {
		redrawn, err := dice.FacesMatching(rng, in.DiceCount, in.Cutoff, decided)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to display decided outcome: %w", err)
		}
		faces = redrawn
	}

	return Decision{
		Outcome: model.Outcome{
			Faces:        faces,
			IsWin:        decided,
			AppliedMode:  model.AppliedManipulated,
			Mode:         m.Mode,
			NaturalFaces: slices.Clone(in.Faces),
			NaturalWin:   in.NaturalWin,
		},
		Changed:    changed,
		Parameters: params,
	}, nil
}
