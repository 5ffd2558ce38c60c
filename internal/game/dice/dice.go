// Package dice generates dice faces and evaluates a tier's win predicate.
//
// Faces are read as a base-6 number (the roll index, first die least
// significant). A tier wins when the index falls below its cutoff, so a
// probability maps onto an exact share of the 6^n equally likely rolls.
package dice

import (
	"errors"
	"fmt"
	"math"
)

const (
	// Sides is the number of faces on a die.
	Sides = 6

	// MaxDiceCount bounds the roll index space to 6^10.
	MaxDiceCount = 10

	// MaxRelativeDeviation is how far the effective probability of a tier may
	// drift from the configured one before a dice count is rejected.
	MaxRelativeDeviation = 0.10
)

// Errors for dice generation.
var (
	ErrInvalidDiceCount = errors.New("dice count out of range")
	ErrInvalidDice      = errors.New("dice values must be between 1 and 6")
	ErrMissingDice      = errors.New("dice values are required")
	ErrIndexOutOfRange  = errors.New("roll index out of range")
)

// Generate rolls diceCount faces. An empty seed uses the CSPRNG and the nonce
// is only recorded; a seed makes the roll a pure function of (seed, nonce).
func Generate(diceCount int, seed string, nonce uint64) ([]int, error) {
	if seed == "" {
		return Roll(NewCryptoStream(), diceCount)
	}
	return Roll(NewSeededStream(seed, nonce, LabelFaces), diceCount)
}

// Roll draws diceCount independent uniform faces from s.
func Roll(s Stream, diceCount int) ([]int, error) {
	if diceCount < 1 || diceCount > MaxDiceCount {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDiceCount, diceCount)
	}
	faces := make([]int, diceCount)
	for i := range faces {
		v, err := s.Uint64n(Sides)
		if err != nil {
			return nil, err
		}
		faces[i] = int(v) + 1
	}
	return faces, nil
}

// Space returns 6^diceCount.
func Space(diceCount int) uint64 {
	space := uint64(1)
	for i := 0; i < diceCount; i++ {
		space *= Sides
	}
	return space
}

// Index converts faces to the roll index.
func Index(faces []int) (uint64, error) {
	if len(faces) == 0 {
		return 0, ErrMissingDice
	}
	var idx, place uint64 = 0, 1
	for _, f := range faces {
		if f < 1 || f > Sides {
			return 0, fmt.Errorf("%w: got %d", ErrInvalidDice, f)
		}
		idx += uint64(f-1) * place
		place *= Sides
	}
	return idx, nil
}

// FacesFor converts a roll index back to faces.
func FacesFor(index uint64, diceCount int) ([]int, error) {
	if diceCount < 1 || diceCount > MaxDiceCount {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDiceCount, diceCount)
	}
	if index >= Space(diceCount) {
		return nil, ErrIndexOutOfRange
	}
	faces := make([]int, diceCount)
	for i := range faces {
		faces[i] = int(index%Sides) + 1
		index /= Sides
	}
	return faces, nil
}

// Cutoff returns how many of the 6^diceCount rolls win for a probability in
// percent. The result is at least one so every enabled tier can win.
func Cutoff(probability float64, diceCount int) uint64 {
	space := Space(diceCount)
	c := uint64(math.Round(probability / 100 * float64(space)))
	if c < 1 {
		c = 1
	}
	if c > space {
		c = space
	}
	return c
}

// EffectiveProbability is the exact win chance in percent for a cutoff.
func EffectiveProbability(cutoff uint64, diceCount int) float64 {
	return float64(cutoff) / float64(Space(diceCount)) * 100
}

// Representable reports whether diceCount dice can express probability
// within MaxRelativeDeviation.
func Representable(probability float64, diceCount int) bool {
	if probability <= 0 {
		return false
	}
	eff := EffectiveProbability(Cutoff(probability, diceCount), diceCount)
	return math.Abs(eff-probability)/probability <= MaxRelativeDeviation
}

// MinDiceFor returns the fewest dice that can represent probability.
func MinDiceFor(probability float64) (int, bool) {
	for n := 1; n <= MaxDiceCount; n++ {
		if Representable(probability, n) {
			return n, true
		}
	}
	return 0, false
}

// HasLosingRoll reports whether diceCount dice leave any losing roll for
// probability. A tier that rounds to every roll winning cannot show a loss.
func HasLosingRoll(probability float64, diceCount int) bool {
	return Cutoff(probability, diceCount) < Space(diceCount)
}

// IsWin evaluates the win predicate for faces under cutoff.
func IsWin(faces []int, cutoff uint64) (bool, error) {
	idx, err := Index(faces)
	if err != nil {
		return false, err
	}
	return idx < cutoff, nil
}

// FacesMatching draws faces uniformly from the winning range [0, cutoff) or
// the losing range [cutoff, 6^n). It is used to display a decided result.
func FacesMatching(s Stream, diceCount int, cutoff uint64, win bool) ([]int, error) {
	space := Space(diceCount)
	lo, hi := uint64(0), cutoff
	if !win {
		lo, hi = cutoff, space
	}
	if hi <= lo {
		return nil, fmt.Errorf("%w: no %s roll for cutoff %d of %d", ErrIndexOutOfRange, outcomeWord(win), cutoff, space)
	}
	v, err := s.Uint64n(hi - lo)
	if err != nil {
		return nil, err
	}
	return FacesFor(lo+v, diceCount)
}

func outcomeWord(win bool) string {
	if win {
		return "winning"
	}
	return "losing"
}
