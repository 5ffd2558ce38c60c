package model

import "time"

// AuditEntry is an append-only trace of a manipulated decision.
type AuditEntry struct {
	ID              string           `json:"id"`
	WagerKey        string           `json:"wagerKey"`
	UserID          int64            `json:"userId"`
	Tier            string           `json:"tier"`
	Mode            ManipulationMode `json:"mode"`
	Parameters      map[string]any   `json:"parameters"`
	NaturalFaces    []int            `json:"naturalFaces"`
	NaturalWin      bool             `json:"naturalWin"`
	DisplayedFaces  []int            `json:"displayedFaces"`
	DecidedWin      bool             `json:"decidedWin"`
	Changed         bool             `json:"changed"`
	SettingsVersion int64            `json:"settingsVersion"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// AuditFilter narrows audit listings.
type AuditFilter struct {
	UserID *int64
	Tier   string
	Mode   ManipulationMode
	From   *time.Time
	To     *time.Time
	Limit  int
}
