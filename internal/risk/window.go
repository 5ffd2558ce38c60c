// Package risk gates wagers on per-user daily counts and hourly house totals.
//
// A WindowStore is the single writer for every bucket: each reservation is an
// atomic check-and-increment, and reservations made for a wager that later
// fails are released again.
package risk

import (
	"context"
	"errors"
	"time"

	"dice-wager-engine/internal/model"
)

// Bucket key layouts.
const (
	HourLayout = "2006010215"
	DayLayout  = "2006-01-02"
)

// ErrDailyLimit means the user already used up the day's wagers.
var ErrDailyLimit = errors.New("daily wager limit reached")

// Breach names the hourly cap a projection would exceed.
type Breach string

// Breaches.
const (
	NoBreach   Breach = ""
	BreachLoss Breach = "loss"
	BreachWin  Breach = "win"
)

// HourlyCaps bounds one hour bucket. With Enforce set a breaching delta is not
// added; otherwise it is added and the breach only reported.
type HourlyCaps struct {
	MaxWin  int64
	MaxLoss int64
	Enforce bool
}

// breachOf checks projected totals against caps. Loss is checked first since
// it protects the house.
func breachOf(win, loss int64, caps HourlyCaps) Breach {
	switch {
	case loss > caps.MaxLoss:
		return BreachLoss
	case win > caps.MaxWin:
		return BreachWin
	default:
		return NoBreach
	}
}

// WindowStore holds the live risk windows.
type WindowStore interface {
	// ReserveDaily increments the user's count for day unless it already
	// reached limit, in which case it returns ErrDailyLimit.
	ReserveDaily(ctx context.Context, day string, userID int64, limit int) (int, error)
	ReleaseDaily(ctx context.Context, day string, userID int64) error
	DailyCount(ctx context.Context, day string, userID int64) (int, error)

	// ReserveHourly adds delta to the bucket subject to caps and returns the
	// bucket as it stands afterwards.
	ReserveHourly(ctx context.Context, key string, start time.Time, delta model.RiskDelta, caps HourlyCaps) (model.RiskBucket, Breach, error)
	ReleaseHourly(ctx context.Context, key string, delta model.RiskDelta) error
	Hourly(ctx context.Context, key string) (model.RiskBucket, error)

	// Prune drops buckets that started before before and counts for days
	// before beforeDay.
	Prune(ctx context.Context, before time.Time, beforeDay string) (int, error)
}

// Hydrator is implemented by stores that must be rebuilt from persisted
// totals after a restart.
type Hydrator interface {
	Hydrate(buckets []model.RiskBucket, counts []model.DailyCount)
}

// Clock derives bucket keys in a fixed timezone.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// NewClock creates a clock for loc. A nil loc means UTC.
func NewClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return Clock{loc: loc, now: time.Now}
}

// Now returns the current time in the clock's zone.
func (c Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// Hour returns the hour bucket key and start for t.
func (c Clock) Hour(t time.Time) (string, time.Time) {
	t = t.In(c.loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, c.loc)
	return start.Format(HourLayout), start
}

// Day returns the day bucket key for t.
func (c Clock) Day(t time.Time) string {
	return t.In(c.loc).Format(DayLayout)
}

// DayStart returns midnight of t's day.
func (c Clock) DayStart(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// Location returns the clock's zone.
func (c Clock) Location() *time.Location {
	return c.loc
}
