package service

import (
	"sync"

	"github.com/rs/zerolog/log"

	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/settings"
)

// TierBreaker halts a tier after too many consecutive audit write failures.
// A halted tier stays halted until Resume or Reset.
type TierBreaker struct {
	threshold int

	mu       sync.Mutex
	failures map[string]int
	halted   map[string]bool
}

// NewTierBreaker creates a breaker. A threshold below 1 is treated as 1.
func NewTierBreaker(threshold int) *TierBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &TierBreaker{
		threshold: threshold,
		failures:  make(map[string]int),
		halted:    make(map[string]bool),
	}
}

// Halted reports whether tier is halted.
func (b *TierBreaker) Halted(tier string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halted[tier]
}

// Failure records an audit failure and returns the failure count and whether
// the tier is now halted.
func (b *TierBreaker) Failure(tier string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures[tier]++
	n := b.failures[tier]
	if n >= b.threshold {
		b.halted[tier] = true
	}
	return n, b.halted[tier]
}

// Success clears the failure streak.
func (b *TierBreaker) Success(tier string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, tier)
}

// Resume lifts a halt. It returns false if the tier was not halted.
func (b *TierBreaker) Resume(tier string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	was := b.halted[tier]
	delete(b.halted, tier)
	delete(b.failures, tier)
	return was
}

// Reset lifts every halt.
func (b *TierBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = make(map[string]int)
	b.halted = make(map[string]bool)
}

// HaltedTiers lists halted tiers.
func (b *TierBreaker) HaltedTiers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	tiers := make([]string, 0, len(b.halted))
	for t := range b.halted {
		tiers = append(tiers, t)
	}
	return tiers
}

// OnSettingsChange lifts every halt when an admin stores new settings.
// Versions written by the risk manager's own shutdown leave halts alone.
func (b *TierBreaker) OnSettingsChange(s *model.GameSettings) {
	if s.UpdatedBy == settings.ActorRiskManager {
		return
	}
	if tiers := b.HaltedTiers(); len(tiers) > 0 {
		b.Reset()
		log.Info().Strs("tiers", tiers).Int64("version", s.Version).Msg("Tier halts lifted by settings change")
	}
}
