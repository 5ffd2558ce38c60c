package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"dice-wager-engine/internal/model"
)

// AuditRepository handles the append-only audit trail of manipulated outcomes.
type AuditRepository struct {
	conn
}

// NewAuditRepository creates a new AuditRepository instance.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{conn: newConn(pool)}
}

// Insert appends an audit entry.
func (r *AuditRepository) Insert(ctx context.Context, e *model.AuditEntry) error {
	const query = `
		INSERT INTO audit_entries (
			id, wager_key, user_id, tier, mode, parameters, natural_faces, natural_win,
			displayed_faces, decided_win, changed, settings_version, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	params := e.Parameters
	if params == nil {
		params = map[string]any{}
	}
	_, err := r.db(ctx).Exec(ctx, query,
		e.ID, e.WagerKey, e.UserID, e.Tier, string(e.Mode), params, e.NaturalFaces, e.NaturalWin,
		e.DisplayedFaces, e.DecidedWin, e.Changed, e.SettingsVersion, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// List returns audit entries matching filter, newest first.
func (r *AuditRepository) List(ctx context.Context, f model.AuditFilter) ([]*model.AuditEntry, error) {
	q := psql.Select(
		"id::text", "wager_key", "user_id", "tier", "mode", "parameters", "natural_faces",
		"natural_win", "displayed_faces", "decided_win", "changed", "settings_version", "created_at",
	).
		From("audit_entries").
		OrderBy("created_at DESC").
		Limit(limitOrDefault(f.Limit, 100, 1000))
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.Tier != "" {
		q = q.Where("tier = ?", f.Tier)
	}
	if f.Mode != "" {
		q = q.Where("mode = ?", string(f.Mode))
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build audit query: %w", err)
	}
	rows, err := r.db(ctx).Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		err := rows.Scan(
			&e.ID, &e.WagerKey, &e.UserID, &e.Tier, &e.Mode, &e.Parameters, &e.NaturalFaces,
			&e.NaturalWin, &e.DisplayedFaces, &e.DecidedWin, &e.Changed, &e.SettingsVersion, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}
