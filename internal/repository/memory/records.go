package memory

import (
	"context"
	"slices"
	"time"

	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/repository"
)

// RecordRepository stores game records in memory.
type RecordRepository struct {
	db *DB
}

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func copyRecord(rec *model.GameRecord) *model.GameRecord {
	c := *rec
	c.Faces = slices.Clone(rec.Faces)
	return &c
}

// Insert stores a settled wager.
func (r *RecordRepository) Insert(ctx context.Context, rec *model.GameRecord) error {
	return r.db.write(ctx, func() (func(), error) {
		if _, ok := r.db.recordsByKey[rec.IdempotencyKey]; ok {
			return nil, repository.ErrDuplicateWager
		}
		if _, ok := r.db.users[rec.UserID]; !ok {
			return nil, repository.ErrUserNotFound
		}
		c := copyRecord(rec)
		r.db.records = append(r.db.records, c)
		r.db.recordsByKey[c.IdempotencyKey] = c
		n := len(r.db.records)
		return func() {
			r.db.records = r.db.records[:n-1]
			delete(r.db.recordsByKey, c.IdempotencyKey)
		}, nil
	})
}

// GetByIdempotencyKey returns the record settled for key.
func (r *RecordRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.GameRecord, error) {
	var rec *model.GameRecord
	r.db.read(func() {
		if found, ok := r.db.recordsByKey[key]; ok {
			rec = copyRecord(found)
		}
	})
	if rec == nil {
		return nil, repository.ErrRecordNotFound
	}
	return rec, nil
}

// GetByID returns a record by ID.
func (r *RecordRepository) GetByID(ctx context.Context, id string) (*model.GameRecord, error) {
	var rec *model.GameRecord
	r.db.read(func() {
		for _, found := range r.db.records {
			if found.ID == id {
				rec = copyRecord(found)
				return
			}
		}
	})
	if rec == nil {
		return nil, repository.ErrRecordNotFound
	}
	return rec, nil
}

func matchesRecord(rec *model.GameRecord, f model.RecordFilter) bool {
	switch {
	case f.UserID != nil && rec.UserID != *f.UserID:
		return false
	case f.Tier != "" && rec.Tier != f.Tier:
		return false
	case f.From != nil && rec.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && !rec.CreatedAt.Before(*f.To):
		return false
	}
	return true
}

// List returns records matching filter, newest first.
func (r *RecordRepository) List(ctx context.Context, f model.RecordFilter) ([]*model.GameRecord, error) {
	limit := limitOrDefault(f.Limit, 100, 1000)
	var records []*model.GameRecord
	r.db.read(func() {
		for i := len(r.db.records) - 1; i >= 0 && len(records) < limit; i-- {
			if rec := r.db.records[i]; matchesRecord(rec, f) {
				records = append(records, copyRecord(rec))
			}
		}
	})
	return records, nil
}

// DailyStats aggregates settled wagers for the day that starts at dayStart.
func (r *RecordRepository) DailyStats(ctx context.Context, dayStart time.Time) (*model.DailyHouseStats, error) {
	dayEnd := dayStart.AddDate(0, 0, 1)
	stats := &model.DailyHouseStats{Day: dayStart.Format("2006-01-02")}
	r.db.read(func() {
		for _, rec := range r.db.records {
			if rec.CreatedAt.Before(dayStart) || !rec.CreatedAt.Before(dayEnd) {
				continue
			}
			stats.Wagers++
			if rec.IsWin {
				stats.Wins++
			}
			stats.Debited += rec.Stake + rec.EntryFee
			stats.Credited += rec.Payout
		}
	})
	stats.HouseProfit = stats.Debited - stats.Credited
	return stats, nil
}
