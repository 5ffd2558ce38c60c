package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dice-wager-engine/internal/model"
)

// SettingsRepository stores every settings version as a JSON document.
type SettingsRepository struct {
	conn
}

// NewSettingsRepository creates a new SettingsRepository instance.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{conn: newConn(pool)}
}

func scanSettingsVersion(row pgx.Row) (*model.SettingsVersion, error) {
	var (
		v   model.SettingsVersion
		doc []byte
	)
	if err := row.Scan(&v.Version, &doc, &v.UpdatedBy, &v.Reason, &v.CreatedAt); err != nil {
		return nil, err
	}
	var s model.GameSettings
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("failed to decode settings version %d: %w", v.Version, err)
	}
	s.Version = v.Version
	v.Settings = &s
	return &v, nil
}

// Latest returns the newest version or ErrNoSettings.
func (r *SettingsRepository) Latest(ctx context.Context) (*model.SettingsVersion, error) {
	const query = `
		SELECT version, document, updated_by, reason, created_at
		FROM settings_versions
		ORDER BY version DESC
		LIMIT 1
	`

	v, err := scanSettingsVersion(r.db(ctx).QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSettings
		}
		return nil, fmt.Errorf("failed to get latest settings: %w", err)
	}
	return v, nil
}

// Append stores a new version. Versions are never overwritten.
func (r *SettingsRepository) Append(ctx context.Context, v *model.SettingsVersion) error {
	const query = `
		INSERT INTO settings_versions (version, document, updated_by, reason, created_at)
		VALUES ($1, $2::jsonb, $3, $4, $5)
	`

	doc, err := json.Marshal(v.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if _, err := r.db(ctx).Exec(ctx, query, v.Version, string(doc), v.UpdatedBy, v.Reason, v.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrSettingsVersionConflict
		}
		return fmt.Errorf("failed to append settings version: %w", err)
	}
	return nil
}

// History returns up to limit versions, newest first.
func (r *SettingsRepository) History(ctx context.Context, limit int) ([]*model.SettingsVersion, error) {
	const query = `
		SELECT version, document, updated_by, reason, created_at
		FROM settings_versions
		ORDER BY version DESC
		LIMIT $1
	`

	rows, err := r.db(ctx).Query(ctx, query, int64(limitOrDefault(limit, 20, 200)))
	if err != nil {
		return nil, fmt.Errorf("failed to get settings history: %w", err)
	}
	defer rows.Close()

	var versions []*model.SettingsVersion
	for rows.Next() {
		v, err := scanSettingsVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settings version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings history: %w", err)
	}
	return versions, nil
}
