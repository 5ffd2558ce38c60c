package model

import "time"

// RiskBucket holds the rolling totals for one hour.
// TotalWin is what the house kept, TotalLoss what it paid out beyond stakes.
type RiskBucket struct {
	Key       string    `json:"key"`
	Start     time.Time `json:"start"`
	TotalWin  int64     `json:"totalWin"`
	TotalLoss int64     `json:"totalLoss"`
	Wagers    int64     `json:"wagers"`
}

// RiskDelta is the contribution of one wager to an hour bucket.
type RiskDelta struct {
	Win  int64
	Loss int64
}

// DeltaForNet splits a player's net result into house win and house loss.
func DeltaForNet(net int64) RiskDelta {
	if net > 0 {
		return RiskDelta{Loss: net}
	}
	return RiskDelta{Win: -net}
}

// DailyCount is a user's settled wager count for a day.
type DailyCount struct {
	Day    string `json:"day"`
	UserID int64  `json:"userId"`
	Count  int    `json:"count"`
}
