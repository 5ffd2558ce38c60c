package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"dice-wager-engine/internal/model"
)

// RecordRepository handles the append-only game record table.
type RecordRepository struct {
	conn
}

// NewRecordRepository creates a new RecordRepository instance.
func NewRecordRepository(pool *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{conn: newConn(pool)}
}

var recordColumns = []string{
	"id::text", "idempotency_key", "user_id", "settings_version", "variant", "tier",
	"dice_count", "bet_amount", "faces", "is_win", "applied_mode", "manipulation_mode",
	"seed_used", "nonce", "stake", "entry_fee", "multiplier::text", "payout",
	"balance_before", "balance_after", "hour_bucket", "day_bucket", "created_at",
}

func scanRecord(row pgx.Row) (*model.GameRecord, error) {
	var (
		rec        model.GameRecord
		nonce      int64
		multiplier string
	)
	err := row.Scan(
		&rec.ID, &rec.IdempotencyKey, &rec.UserID, &rec.SettingsVersion, &rec.Variant, &rec.Tier,
		&rec.DiceCount, &rec.BetAmount, &rec.Faces, &rec.IsWin, &rec.AppliedMode, &rec.ManipulationMode,
		&rec.SeedUsed, &nonce, &rec.Stake, &rec.EntryFee, &multiplier, &rec.Payout,
		&rec.BalanceBefore, &rec.BalanceAfter, &rec.HourBucket, &rec.DayBucket, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Nonce = uint64(nonce)
	rec.Multiplier, err = decimal.NewFromString(multiplier)
	if err != nil {
		return nil, fmt.Errorf("failed to parse multiplier %q: %w", multiplier, err)
	}
	return &rec, nil
}

// Insert stores a settled wager. A second insert with the same idempotency
// key returns ErrDuplicateWager.
func (r *RecordRepository) Insert(ctx context.Context, rec *model.GameRecord) error {
	q := psql.Insert("game_records").
		Columns(
			"id", "idempotency_key", "user_id", "settings_version", "variant", "tier",
			"dice_count", "bet_amount", "faces", "is_win", "applied_mode", "manipulation_mode",
			"seed_used", "nonce", "stake", "entry_fee", "multiplier", "payout",
			"balance_before", "balance_after", "hour_bucket", "day_bucket", "created_at",
		).
		Values(
			rec.ID, rec.IdempotencyKey, rec.UserID, rec.SettingsVersion, string(rec.Variant), rec.Tier,
			rec.DiceCount, rec.BetAmount, rec.Faces, rec.IsWin, string(rec.AppliedMode), string(rec.ManipulationMode),
			rec.SeedUsed, int64(rec.Nonce), rec.Stake, rec.EntryFee, rec.Multiplier.String(), rec.Payout,
			rec.BalanceBefore, rec.BalanceAfter, rec.HourBucket, rec.DayBucket, rec.CreatedAt,
		)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build record insert: %w", err)
	}
	if _, err := r.db(ctx).Exec(ctx, sqlStr, args...); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateWager
		}
		return fmt.Errorf("failed to insert game record: %w", err)
	}
	return nil
}

func (r *RecordRepository) getOne(ctx context.Context, where string, arg any) (*model.GameRecord, error) {
	sqlStr, args, err := psql.Select(recordColumns...).From("game_records").Where(where, arg).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build record query: %w", err)
	}
	rec, err := scanRecord(r.db(ctx).QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get game record: %w", err)
	}
	return rec, nil
}

// GetByIdempotencyKey returns the record settled for key.
func (r *RecordRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.GameRecord, error) {
	return r.getOne(ctx, "idempotency_key = ?", key)
}

// GetByID returns a record by ID.
func (r *RecordRepository) GetByID(ctx context.Context, id string) (*model.GameRecord, error) {
	return r.getOne(ctx, "id = ?::uuid", id)
}

// List returns records matching filter, newest first.
func (r *RecordRepository) List(ctx context.Context, f model.RecordFilter) ([]*model.GameRecord, error) {
	q := psql.Select(recordColumns...).
		From("game_records").
		OrderBy("created_at DESC").
		Limit(limitOrDefault(f.Limit, 100, 1000))
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.Tier != "" {
		q = q.Where("tier = ?", f.Tier)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build record query: %w", err)
	}
	rows, err := r.db(ctx).Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list game records: %w", err)
	}
	defer rows.Close()

	var records []*model.GameRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating game records: %w", err)
	}
	return records, nil
}

// DailyStats aggregates settled wagers for the day that starts at dayStart.
func (r *RecordRepository) DailyStats(ctx context.Context, dayStart time.Time) (*model.DailyHouseStats, error) {
	const query = `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_win),
		       COALESCE(SUM(stake + entry_fee), 0),
		       COALESCE(SUM(payout), 0)
		FROM game_records
		WHERE created_at >= $1 AND created_at < $2
	`

	stats := model.DailyHouseStats{Day: dayStart.Format("2006-01-02")}
	err := r.db(ctx).QueryRow(ctx, query, dayStart, dayStart.AddDate(0, 0, 1)).
		Scan(&stats.Wagers, &stats.Wins, &stats.Debited, &stats.Credited)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	stats.HouseProfit = stats.Debited - stats.Credited
	return &stats, nil
}
