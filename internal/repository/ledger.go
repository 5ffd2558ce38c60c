package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dice-wager-engine/internal/model"
)

// LedgerRepository handles balance change history.
type LedgerRepository struct {
	conn
}

// NewLedgerRepository creates a new LedgerRepository instance.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{conn: newConn(pool)}
}

func scanLedgerEntries(rows pgx.Rows) ([]*model.LedgerEntry, error) {
	defer rows.Close()

	var entries []*model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Type, &e.WagerID, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}
	return entries, nil
}

// Create appends a ledger entry and fills in its ID and timestamp.
func (r *LedgerRepository) Create(ctx context.Context, e *model.LedgerEntry) error {
	const query = `
		INSERT INTO ledger_entries (user_id, amount, type, wager_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`

	err := r.db(ctx).QueryRow(ctx, query, e.UserID, e.Amount, e.Type, e.WagerID, e.Description).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return nil
}

// GetByUserID retrieves a user's entries, newest first, optionally filtered by type.
func (r *LedgerRepository) GetByUserID(ctx context.Context, userID int64, txType string, limit int) ([]*model.LedgerEntry, error) {
	q := psql.Select("id", "user_id", "amount", "type", "wager_id", "description", "created_at").
		From("ledger_entries").
		Where("user_id = ?", userID).
		OrderBy("created_at DESC", "id DESC").
		Limit(limitOrDefault(limit, 50, 500))
	if txType != "" {
		q = q.Where("type = ?", txType)
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build ledger query: %w", err)
	}
	rows, err := r.db(ctx).Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}
	return scanLedgerEntries(rows)
}

// GetDailyRanking returns each player's net wager result for the day that
// starts at dayStart, best first.
func (r *LedgerRepository) GetDailyRanking(ctx context.Context, dayStart time.Time) ([]*model.DailyRank, error) {
	const query = `
		SELECT l.user_id, u.username, COALESCE(SUM(l.amount), 0) AS net_profit
		FROM ledger_entries l
		JOIN users u ON l.user_id = u.id
		WHERE l.type = ANY($1)
		  AND l.created_at >= $2
		  AND l.created_at < $3
		GROUP BY l.user_id, u.username
		ORDER BY net_profit DESC
	`

	rows, err := r.db(ctx).Query(ctx, query, model.WagerTransactionTypes(), dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to get daily ranking: %w", err)
	}
	defer rows.Close()

	var ranks []*model.DailyRank
	for rows.Next() {
		var rank model.DailyRank
		if err := rows.Scan(&rank.UserID, &rank.Username, &rank.NetProfit); err != nil {
			return nil, fmt.Errorf("failed to scan daily rank: %w", err)
		}
		ranks = append(ranks, &rank)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily ranking: %w", err)
	}
	return ranks, nil
}
