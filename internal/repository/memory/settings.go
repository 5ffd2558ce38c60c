package memory

import (
	"context"

	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/repository"
)

// SettingsRepository stores settings versions in memory.
type SettingsRepository struct {
	db *DB
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func copyVersion(v *model.SettingsVersion) *model.SettingsVersion {
	c := *v
	c.Settings = v.Settings.Clone()
	return &c
}

// Latest returns the newest version or ErrNoSettings.
func (r *SettingsRepository) Latest(ctx context.Context) (*model.SettingsVersion, error) {
	var v *model.SettingsVersion
	r.db.read(func() {
		if n := len(r.db.settings); n > 0 {
			v = copyVersion(r.db.settings[n-1])
		}
	})
	if v == nil {
		return nil, repository.ErrNoSettings
	}
	return v, nil
}

// Append stores a new version. Versions must be strictly increasing.
func (r *SettingsRepository) Append(ctx context.Context, v *model.SettingsVersion) error {
	return r.db.write(ctx, func() (func(), error) {
		if n := len(r.db.settings); n > 0 && r.db.settings[n-1].Version >= v.Version {
			return nil, repository.ErrSettingsVersionConflict
		}
		r.db.settings = append(r.db.settings, copyVersion(v))
		n := len(r.db.settings)
		return func() { r.db.settings = r.db.settings[:n-1] }, nil
	})
}

// History returns up to limit versions, newest first.
func (r *SettingsRepository) History(ctx context.Context, limit int) ([]*model.SettingsVersion, error) {
	limit = limitOrDefault(limit, 20, 200)
	var versions []*model.SettingsVersion
	r.db.read(func() {
		for i := len(r.db.settings) - 1; i >= 0 && len(versions) < limit; i-- {
			versions = append(versions, copyVersion(r.db.settings[i]))
		}
	})
	return versions, nil
}
