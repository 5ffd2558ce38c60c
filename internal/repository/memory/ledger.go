package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/repository"
)

// LedgerRepository stores balance changes in memory.
type LedgerRepository struct {
	db *DB
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create appends a ledger entry and fills in its ID and timestamp.
func (r *LedgerRepository) Create(ctx context.Context, e *model.LedgerEntry) error {
	return r.db.write(ctx, func() (func(), error) {
		if _, ok := r.db.users[e.UserID]; !ok {
			return nil, repository.ErrUserNotFound
		}
		r.db.nextLedgerID++
		e.ID = r.db.nextLedgerID
		e.CreatedAt = time.Now()
		c := *e
		r.db.ledger = append(r.db.ledger, &c)
		n := len(r.db.ledger)
		return func() { r.db.ledger = r.db.ledger[:n-1] }, nil
	})
}

// GetByUserID retrieves a user's entries, newest first, optionally filtered by type.
func (r *LedgerRepository) GetByUserID(ctx context.Context, userID int64, txType string, limit int) ([]*model.LedgerEntry, error) {
	limit = limitOrDefault(limit, 50, 500)
	var entries []*model.LedgerEntry
	r.db.read(func() {
		for i := len(r.db.ledger) - 1; i >= 0 && len(entries) < limit; i-- {
			e := r.db.ledger[i]
			if e.UserID != userID || (txType != "" && e.Type != txType) {
				continue
			}
			c := *e
			entries = append(entries, &c)
		}
	})
	return entries, nil
}

// GetDailyRanking returns each player's net wager result for the day that
// starts at dayStart, best first.
func (r *LedgerRepository) GetDailyRanking(ctx context.Context, dayStart time.Time) ([]*model.DailyRank, error) {
	dayEnd := dayStart.AddDate(0, 0, 1)
	types := model.WagerTransactionTypes()
	byUser := make(map[int64]*model.DailyRank)

	r.db.read(func() {
		for _, e := range r.db.ledger {
			if !slices.Contains(types, e.Type) || e.CreatedAt.Before(dayStart) || !e.CreatedAt.Before(dayEnd) {
				continue
			}
			rank, ok := byUser[e.UserID]
			if !ok {
				rank = &model.DailyRank{UserID: e.UserID}
				if u, found := r.db.users[e.UserID]; found {
					rank.Username = u.Username
				}
				byUser[e.UserID] = rank
			}
			rank.NetProfit += e.Amount
		}
	})

	ranks := make([]*model.DailyRank, 0, len(byUser))
	for _, rank := range byUser {
		ranks = append(ranks, rank)
	}
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].NetProfit != ranks[j].NetProfit {
			return ranks[i].NetProfit > ranks[j].NetProfit
		}
		return ranks[i].UserID < ranks[j].UserID
	})
	return ranks, nil
}
