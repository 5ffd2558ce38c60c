package memory

import (
	"context"
	"sort"
	"time"

	"dice-wager-engine/internal/model"
)

// RiskRepository stores risk buckets and daily counts in memory.
type RiskRepository struct {
	db *DB
}

// NewRiskRepository creates a new RiskRepository.
func NewRiskRepository(db *DB) *RiskRepository {
	return &RiskRepository{db: db}
}

// AddToBucket adds delta to the bucket identified by key.
func (r *RiskRepository) AddToBucket(ctx context.Context, key string, start time.Time, delta model.RiskDelta) error {
	return r.db.write(ctx, func() (func(), error) {
		b, ok := r.db.buckets[key]
		if !ok {
			b = &model.RiskBucket{Key: key, Start: start}
			r.db.buckets[key] = b
		}
		b.TotalWin += delta.Win
		b.TotalLoss += delta.Loss
		b.Wagers++
		return func() {
			b.TotalWin -= delta.Win
			b.TotalLoss -= delta.Loss
			b.Wagers--
			if !ok {
				delete(r.db.buckets, key)
			}
		}, nil
	})
}

// IncrementDailyCount records one more settled wager for userID on day.
func (r *RiskRepository) IncrementDailyCount(ctx context.Context, day string, userID int64) error {
	k := dailyKey{day: day, userID: userID}
	return r.db.write(ctx, func() (func(), error) {
		r.db.daily[k]++
		return func() {
			if r.db.daily[k]--; r.db.daily[k] <= 0 {
				delete(r.db.daily, k)
			}
		}, nil
	})
}

// ListBuckets returns buckets starting in [from, to), oldest first.
func (r *RiskRepository) ListBuckets(ctx context.Context, from, to time.Time) ([]model.RiskBucket, error) {
	var buckets []model.RiskBucket
	r.db.read(func() {
		for _, b := range r.db.buckets {
			if !b.Start.Before(from) && b.Start.Before(to) {
				buckets = append(buckets, *b)
			}
		}
	})
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Start.Before(buckets[j].Start) })
	return buckets, nil
}

// LoadBuckets returns every bucket starting at or after since.
func (r *RiskRepository) LoadBuckets(ctx context.Context, since time.Time) ([]model.RiskBucket, error) {
	return r.ListBuckets(ctx, since, time.Now().Add(time.Hour))
}

// LoadDailyCounts returns all user counts for day.
func (r *RiskRepository) LoadDailyCounts(ctx context.Context, day string) ([]model.DailyCount, error) {
	var counts []model.DailyCount
	r.db.read(func() {
		for k, n := range r.db.daily {
			if k.day == day {
				counts = append(counts, model.DailyCount{Day: k.day, UserID: k.userID, Count: n})
			}
		}
	})
	sort.Slice(counts, func(i, j int) bool { return counts[i].UserID < counts[j].UserID })
	return counts, nil
}

// Cleanup deletes buckets older than before and counts for days before beforeDay.
func (r *RiskRepository) Cleanup(ctx context.Context, before time.Time, beforeDay string) (int64, error) {
	var removed int64
	err := r.db.write(ctx, func() (func(), error) {
		for key, b := range r.db.buckets {
			if b.Start.Before(before) {
				delete(r.db.buckets, key)
				removed++
			}
		}
		for k := range r.db.daily {
			if k.day < beforeDay {
				delete(r.db.daily, k)
				removed++
			}
		}
		return nil, nil
	})
	return removed, err
}
