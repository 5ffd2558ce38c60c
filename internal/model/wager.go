package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WagerRequest is a player's request to play one wager.
type WagerRequest struct {
	UserID         int64  `json:"userId"`
	BetAmount      int64  `json:"betAmount"`
	Tier           string `json:"tier,omitempty"`
	DiceCount      int    `json:"diceCount,omitempty"`
	IdempotencyKey string `json:"-"`
}

// WagerState is a step of the wager lifecycle.
type WagerState string

// Wager states.
const (
	StateReceived          WagerState = "received"
	StateAdmitted          WagerState = "admitted"
	StateOutcomeDetermined WagerState = "outcome_determined"
	StateSettled           WagerState = "settled"
	StateCompleted         WagerState = "completed"
	StateReversed          WagerState = "reversed"
)

// AppliedMode tells whether the final result came from the dice or from an override.
type AppliedMode string

// Applied modes.
const (
	AppliedFair        AppliedMode = "fair"
	AppliedManipulated AppliedMode = "manipulated"
)

// Outcome is the decided result of one roll.
type Outcome struct {
	Faces        []int            `json:"faces"`
	IsWin        bool             `json:"isWin"`
	AppliedMode  AppliedMode      `json:"appliedMode"`
	Mode         ManipulationMode `json:"mode,omitempty"`
	NaturalFaces []int            `json:"-"`
	NaturalWin   bool             `json:"-"`
	SeedUsed     string           `json:"seedUsed,omitempty"`
	Nonce        uint64           `json:"nonce"`
}

// Manipulated reports whether an override decided the result.
func (o Outcome) Manipulated() bool {
	return o.AppliedMode == AppliedManipulated
}

// Quote is the money movement for one decided outcome.
// Net is credit minus debit from the player's point of view.
type Quote struct {
	Stake      int64           `json:"stake"`
	EntryFee   int64           `json:"entryFee"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Winnings   int64           `json:"winnings"`
	Credit     int64           `json:"credit"`
}

// Debit is everything taken from the balance.
func (q Quote) Debit() int64 {
	return q.Stake + q.EntryFee
}

// Net is the player's balance change.
func (q Quote) Net() int64 {
	return q.Credit - q.Debit()
}

// GameRecord is the immutable result of a settled wager.
type GameRecord struct {
	ID               string           `json:"id"`
	IdempotencyKey   string           `json:"idempotencyKey"`
	UserID           int64            `json:"userId"`
	SettingsVersion  int64            `json:"settingsVersion"`
	Variant          GameVariant      `json:"variant"`
	Tier             string           `json:"tier"`
	DiceCount        int              `json:"diceCount"`
	BetAmount        int64            `json:"betAmount"`
	Faces            []int            `json:"faces"`
	IsWin            bool             `json:"isWin"`
	AppliedMode      AppliedMode      `json:"appliedMode"`
	ManipulationMode ManipulationMode `json:"manipulationMode,omitempty"`
	SeedUsed         string           `json:"seedUsed,omitempty"`
	Nonce            uint64           `json:"nonce"`
	Stake            int64            `json:"stake"`
	EntryFee         int64            `json:"entryFee"`
	Multiplier       decimal.Decimal  `json:"multiplier"`
	Payout           int64            `json:"payout"`
	BalanceBefore    int64            `json:"balanceBefore"`
	BalanceAfter     int64            `json:"balanceAfter"`
	HourBucket       string           `json:"hourBucket"`
	DayBucket        string           `json:"dayBucket"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// Net is the player's balance change for the record.
func (r *GameRecord) Net() int64 {
	return r.BalanceAfter - r.BalanceBefore
}

// RecordFilter narrows record listings.
type RecordFilter struct {
	UserID *int64
	Tier   string
	From   *time.Time
	To     *time.Time
	Limit  int
}
