package model

import (
	"maps"
	"time"
)

// ManipulationMode selects how the engine may override natural outcomes.
type ManipulationMode string

// Manipulation modes.
const (
	ModeFair              ManipulationMode = "fair"
	ModeBiasedWin         ManipulationMode = "biased_win"
	ModeBiasedLoss        ManipulationMode = "biased_loss"
	ModeFixedWin          ManipulationMode = "fixed_win"
	ModeFixedLoss         ManipulationMode = "fixed_loss"
	ModeCustomProbability ManipulationMode = "custom_probability"
	ModeDifficultyBased   ManipulationMode = "difficulty_based"
)

// Valid reports whether m is a known mode.
func (m ManipulationMode) Valid() bool {
	switch m {
	case ModeFair, ModeBiasedWin, ModeBiasedLoss, ModeFixedWin, ModeFixedLoss,
		ModeCustomProbability, ModeDifficultyBased:
		return true
	}
	return false
}

// GameVariant selects the payout rule.
type GameVariant string

// Game variants.
const (
	// VariantOdds pays the stake back plus stake x multiplier on a win.
	VariantOdds GameVariant = "odds"
	// VariantFixedTarget pays a flat amount on a win.
	VariantFixedTarget GameVariant = "fixed_target"
)

// OddsRange bounds the multiplier drawn for a winning wager.
type OddsRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Average returns the midpoint of the range.
func (r OddsRange) Average() float64 {
	return (r.Min + r.Max) / 2
}

// Tier is one difficulty level.
// Probability is expressed in percent, so 16.67 means one win in six.
type Tier struct {
	Enabled     bool      `json:"enabled" yaml:"enabled"`
	Odds        OddsRange `json:"oddsRange" yaml:"oddsRange"`
	Probability float64   `json:"probability" yaml:"probability"`
}

// FixedPayout configures the fixed_target variant.
type FixedPayout struct {
	WinAmount int64 `json:"winAmount" yaml:"winAmount"`
}

// Manipulation configures outcome overrides.
// Bias, WinProbability and DifficultySettings values are fractions in [0,1].
type Manipulation struct {
	Enabled            bool               `json:"enabled" yaml:"enabled"`
	Mode               ManipulationMode   `json:"mode" yaml:"mode"`
	Bias               float64            `json:"bias" yaml:"bias"`
	WinProbability     float64            `json:"winProbability" yaml:"winProbability"`
	Seed               string             `json:"seed,omitempty" yaml:"seed"`
	AllowSeededLive    bool               `json:"allowSeededLive" yaml:"allowSeededLive"`
	DifficultySettings map[string]float64 `json:"difficultySettings,omitempty" yaml:"difficultySettings"`
	LogManipulations   bool               `json:"logManipulations" yaml:"logManipulations"`
}

// Active reports whether a non-fair mode is in force.
func (m Manipulation) Active() bool {
	return m.Enabled && m.Mode != ModeFair && m.Mode != ""
}

// Seeded reports whether outcomes come from the reproducible stream.
func (m Manipulation) Seeded() bool {
	return m.Seed != ""
}

// RiskLimits configures the risk manager.
// MaxLossPerHour caps net player winnings in an hour bucket, MaxWinPerHour caps
// stakes kept by the house in the same bucket.
type RiskLimits struct {
	MaxLossPerHour      int64 `json:"maxLossPerHour" yaml:"maxLossPerHour"`
	MaxWinPerHour       int64 `json:"maxWinPerHour" yaml:"maxWinPerHour"`
	MaxDailyBetsPerUser int   `json:"maxDailyBetsPerUser" yaml:"maxDailyBetsPerUser"`
	AutoShutdown        bool  `json:"autoShutdown" yaml:"autoShutdown"`
}

// GameSettings is one immutable version of the engine configuration.
// Values handed out by the settings store must not be mutated; use Clone.
type GameSettings struct {
	Version   int64     `json:"version" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
	UpdatedBy string    `json:"updatedBy" yaml:"-"`

	GameEnabled     bool        `json:"gameEnabled" yaml:"gameEnabled"`
	MaintenanceMode bool        `json:"maintenanceMode" yaml:"maintenanceMode"`
	Variant         GameVariant `json:"variant" yaml:"variant"`

	MinBet           int64 `json:"minBet" yaml:"minBet"`
	MaxBet           int64 `json:"maxBet" yaml:"maxBet"`
	EntryFee         int64 `json:"entryFee" yaml:"entryFee"`
	MaxDiceCount     int   `json:"maxDiceCount" yaml:"maxDiceCount"`
	DefaultDiceCount int   `json:"defaultDiceCount" yaml:"defaultDiceCount"`

	DefaultTier     string          `json:"defaultTier" yaml:"defaultTier"`
	DifficultyTiers map[string]Tier `json:"difficultyTiers" yaml:"difficultyTiers"`
	FixedPayout     FixedPayout     `json:"fixedPayout" yaml:"fixedPayout"`

	HouseEdgeTarget      float64 `json:"houseEdgeTarget" yaml:"houseEdgeTarget"`
	EdgeTolerance        float64 `json:"edgeTolerance" yaml:"edgeTolerance"`
	PlayerFavorableGuard float64 `json:"playerFavorableGuard" yaml:"playerFavorableGuard"`

	Manipulation Manipulation `json:"manipulation" yaml:"manipulation"`
	Risk         RiskLimits   `json:"risk" yaml:"risk"`
}

// Clone returns a deep copy.
func (s *GameSettings) Clone() *GameSettings {
	if s == nil {
		return nil
	}
	c := *s
	c.DifficultyTiers = maps.Clone(s.DifficultyTiers)
	c.Manipulation.DifficultySettings = maps.Clone(s.Manipulation.DifficultySettings)
	return &c
}

// Tier looks up an enabled tier.
func (s *GameSettings) Tier(id string) (Tier, bool) {
	t, ok := s.DifficultyTiers[id]
	if !ok || !t.Enabled {
		return Tier{}, false
	}
	return t, true
}

// SettingsVersion is one row of settings history.
type SettingsVersion struct {
	Version   int64         `json:"version"`
	Settings  *GameSettings `json:"settings"`
	UpdatedBy string        `json:"updatedBy"`
	Reason    string        `json:"reason"`
	CreatedAt time.Time     `json:"createdAt"`
}
