// Package model defines the data models for the wager engine.
package model

import "time"

// User represents a player account holding a points balance.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Balance   int64     `db:"balance" json:"balance"`
	Suspended bool      `db:"suspended" json:"suspended"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// LedgerEntry represents a balance change record.
type LedgerEntry struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"userId"`
	Amount      int64     `db:"amount" json:"amount"`
	Type        string    `db:"type" json:"type"`
	WagerID     *string   `db:"wager_id" json:"wagerId,omitempty"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// DailyRank represents a user's net wager result for one day.
type DailyRank struct {
	UserID    int64  `db:"user_id" json:"userId"`
	Username  string `db:"username" json:"username"`
	NetProfit int64  `db:"net_profit" json:"netProfit"`
}

// DailyHouseStats summarizes settled wagers for one day.
type DailyHouseStats struct {
	Day         string `json:"day"`
	Wagers      int64  `json:"wagers"`
	Wins        int64  `json:"wins"`
	Debited     int64  `json:"debited"`
	Credited    int64  `json:"credited"`
	HouseProfit int64  `json:"houseProfit"`
}

// Ledger entry types.
const (
	TxTypeEntryFee = "entry_fee" // Entry fee charged on every wager
	TxTypeStake    = "stake"     // Stake debited for an odds wager
	TxTypePayout   = "payout"    // Winnings credited on a winning wager
	TxTypeAdminAdd = "admin_add" // Admin added balance
	TxTypeAdminSub = "admin_sub" // Admin subtracted balance
)

// WagerTransactionTypes returns the ledger types that count towards daily rankings.
func WagerTransactionTypes() []string {
	return []string{TxTypeEntryFee, TxTypeStake, TxTypePayout}
}
