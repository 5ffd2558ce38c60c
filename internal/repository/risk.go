package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dice-wager-engine/internal/model"
)

// RiskRepository persists hourly risk buckets and per-user daily counts.
// The in-process window store is rebuilt from these tables on start.
type RiskRepository struct {
	conn
}

// NewRiskRepository creates a new RiskRepository instance.
func NewRiskRepository(pool *pgxpool.Pool) *RiskRepository {
	return &RiskRepository{conn: newConn(pool)}
}

// AddToBucket adds delta to the bucket identified by key, creating it if needed.
func (r *RiskRepository) AddToBucket(ctx context.Context, key string, start time.Time, delta model.RiskDelta) error {
	const query = `
		INSERT INTO risk_hourly_buckets (bucket_key, bucket_start, total_win, total_loss, wagers, updated_at)
		VALUES ($1, $2, $3, $4, 1, NOW())
		ON CONFLICT (bucket_key) DO UPDATE SET
			total_win = risk_hourly_buckets.total_win + EXCLUDED.total_win,
			total_loss = risk_hourly_buckets.total_loss + EXCLUDED.total_loss,
			wagers = risk_hourly_buckets.wagers + 1,
			updated_at = NOW()
	`

	if _, err := r.db(ctx).Exec(ctx, query, key, start, delta.Win, delta.Loss); err != nil {
		return fmt.Errorf("failed to update risk bucket %s: %w", key, err)
	}
	return nil
}

// IncrementDailyCount records one more settled wager for userID on day.
func (r *RiskRepository) IncrementDailyCount(ctx context.Context, day string, userID int64) error {
	const query = `
		INSERT INTO risk_daily_counts (day, user_id, count, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (day, user_id) DO UPDATE SET
			count = risk_daily_counts.count + 1,
			updated_at = NOW()
	`

	if _, err := r.db(ctx).Exec(ctx, query, day, userID); err != nil {
		return fmt.Errorf("failed to increment daily count: %w", err)
	}
	return nil
}

// ListBuckets returns buckets starting in [from, to), oldest first.
func (r *RiskRepository) ListBuckets(ctx context.Context, from, to time.Time) ([]model.RiskBucket, error) {
	sqlStr, args, err := psql.
		Select("bucket_key", "bucket_start", "total_win", "total_loss", "wagers").
		From("risk_hourly_buckets").
		Where("bucket_start >= ?", from).
		Where("bucket_start < ?", to).
		OrderBy("bucket_start ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build bucket query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk buckets: %w", err)
	}
	defer rows.Close()

	var buckets []model.RiskBucket
	for rows.Next() {
		var b model.RiskBucket
		if err := rows.Scan(&b.Key, &b.Start, &b.TotalWin, &b.TotalLoss, &b.Wagers); err != nil {
			return nil, fmt.Errorf("failed to scan risk bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating risk buckets: %w", err)
	}
	return buckets, nil
}

// LoadBuckets returns every bucket starting at or after since.
func (r *RiskRepository) LoadBuckets(ctx context.Context, since time.Time) ([]model.RiskBucket, error) {
	return r.ListBuckets(ctx, since, time.Now().Add(time.Hour))
}

// LoadDailyCounts returns all user counts for day.
func (r *RiskRepository) LoadDailyCounts(ctx context.Context, day string) ([]model.DailyCount, error) {
	const query = `SELECT day, user_id, count FROM risk_daily_counts WHERE day = $1`

	rows, err := r.db(ctx).Query(ctx, query, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily counts: %w", err)
	}
	defer rows.Close()

	var counts []model.DailyCount
	for rows.Next() {
		var c model.DailyCount
		if err := rows.Scan(&c.Day, &c.UserID, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan daily count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily counts: %w", err)
	}
	return counts, nil
}

// Cleanup deletes buckets older than before and daily counts for days before
// beforeDay. It returns the number of removed rows.
func (r *RiskRepository) Cleanup(ctx context.Context, before time.Time, beforeDay string) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM risk_hourly_buckets WHERE bucket_start < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old risk buckets: %w", err)
	}
	removed := tag.RowsAffected()

	tag, err = r.db(ctx).Exec(ctx, `DELETE FROM risk_daily_counts WHERE day < $1`, beforeDay)
	if err != nil {
		return removed, fmt.Errorf("failed to delete old daily counts: %w", err)
	}
	return removed + tag.RowsAffected(), nil
}
