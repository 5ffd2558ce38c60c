// Package settings holds the versioned game settings document.
//
// Every version is immutable once stored: readers get a pointer to a
// snapshot that is never written again, and writers build a new version
// from a clone. Writes go through validation first, so nothing invalid is
// ever persisted.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"dice-wager-engine/internal/game/payout"
	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/repository"
)

// Store errors, shared with the repositories that back the store.
var (
	ErrNoSettings      = repository.ErrNoSettings
	ErrVersionConflict = repository.ErrSettingsVersionConflict
)

// ActorRiskManager is the actor recorded on versions written by an automatic
// risk shutdown.
const ActorRiskManager = "risk-manager"

// Repository persists settings versions.
type Repository interface {
	Latest(ctx context.Context) (*model.SettingsVersion, error)
	Append(ctx context.Context, v *model.SettingsVersion) error
	History(ctx context.Context, limit int) ([]*model.SettingsVersion, error)
}

// Store serves the current snapshot and serializes writers.
type Store struct {
	repo      Repository
	validator *Validator
	defaults  *model.GameSettings
	timeout   time.Duration

	current atomic.Pointer[model.GameSettings]
	mu      sync.Mutex

	listenersMu sync.RWMutex
	listeners   []func(*model.GameSettings)

	now func() time.Time
}

// NewStore loads the latest version from repo, writing defaults as
// version 1 when nothing is stored yet.
func NewStore(ctx context.Context, repo Repository, validator *Validator, defaults *model.GameSettings, timeout time.Duration) (*Store, error) {
	if _, err := validator.Validate(defaults, true); err != nil {
		return nil, fmt.Errorf("default settings are invalid: %w", err)
	}

	s := &Store{
		repo:      repo,
		validator: validator,
		defaults:  defaults.Clone(),
		timeout:   timeout,
		now:       time.Now,
	}

	latest, err := s.latest(ctx)
	switch {
	case err == nil:
		s.current.Store(latest.Settings)
		log.Info().Int64("version", latest.Settings.Version).Msg("Loaded game settings")
		return s, nil
	case errors.Is(err, ErrNoSettings):
		if _, err := s.write(ctx, defaults.Clone(), "system", "bootstrap", 0); err != nil {
			return nil, fmt.Errorf("failed to store default settings: %w", err)
		}
		log.Info().Msg("Stored default game settings as version 1")
		return s, nil
	default:
		return nil, err
	}
}

func (s *Store) latest(ctx context.Context) (*model.SettingsVersion, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.repo.Latest(ctx)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Snapshot returns the current version. Callers must not modify it.
func (s *Store) Snapshot() *model.GameSettings {
	return s.current.Load()
}

// OnChange registers fn to run after every successful write.
func (s *Store) OnChange(fn func(*model.GameSettings)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Put validates and stores next as a new version. expected is the version
// next was derived from; a write on top of any other version fails with
// ErrVersionConflict. Zero skips the check.
func (s *Store) Put(ctx context.Context, next *model.GameSettings, actor string, acknowledged bool, expected int64) (*model.GameSettings, payout.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.currentVersion(); expected != 0 && expected != cur {
		return nil, payout.Report{}, fmt.Errorf("%w: document is based on version %d, current is %d", ErrVersionConflict, expected, cur)
	}
	report, err := s.validator.Validate(next, acknowledged)
	if err != nil {
		return nil, report, err
	}
	stored, err := s.write(ctx, next.Clone(), actor, "update", s.currentVersion())
	return stored, report, err
}

// Update applies edits to the current version and stores the result.
// The read-modify-write happens under the writer lock.
func (s *Store) Update(ctx context.Context, actor string, acknowledged bool, edit func(*Editor) *Editor) (*model.GameSettings, payout.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := edit(Edit(s.current.Load())).Build()
	if err != nil {
		return nil, payout.Report{}, err
	}
	report, err := s.validator.Validate(next, acknowledged)
	if err != nil {
		return nil, report, err
	}
	stored, err := s.write(ctx, next, actor, "update", s.currentVersion())
	return stored, report, err
}

// Reset stores the defaults as a new version.
func (s *Store) Reset(ctx context.Context, actor string) (*model.GameSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.defaults.Clone()
	if _, err := s.validator.Validate(next, true); err != nil {
		return nil, err
	}
	return s.write(ctx, next, actor, "reset", s.currentVersion())
}

// Disable stores a version with gameEnabled=false. It skips economic
// validation so a risk shutdown can never be blocked by it.
func (s *Store) Disable(ctx context.Context, reason string) (*model.GameSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if !cur.GameEnabled {
		return cur, nil
	}
	next := cur.Clone()
	next.GameEnabled = false
	return s.write(ctx, next, ActorRiskManager, reason, cur.Version)
}

// Refresh reloads the latest stored version.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.latest(ctx)
	if err != nil {
		return err
	}
	if latest.Settings.Version != s.currentVersion() {
		s.current.Store(latest.Settings)
	}
	return nil
}

// History returns recent versions, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]*model.SettingsVersion, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.repo.History(ctx, limit)
}

func (s *Store) currentVersion() int64 {
	if cur := s.current.Load(); cur != nil {
		return cur.Version
	}
	return 0
}

// write must be called with mu held (or during construction).
func (s *Store) write(ctx context.Context, next *model.GameSettings, actor, reason string, prev int64) (*model.GameSettings, error) {
	next.Version = prev + 1
	next.UpdatedAt = s.now().UTC()
	next.UpdatedBy = actor

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.repo.Append(ctx, &model.SettingsVersion{
		Version:   next.Version,
		Settings:  next,
		UpdatedBy: actor,
		Reason:    reason,
		CreatedAt: next.UpdatedAt,
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// another writer got there first; pick up its version
			if latest, lerr := s.repo.Latest(ctx); lerr == nil {
				s.current.Store(latest.Settings)
			}
		}
		return nil, fmt.Errorf("failed to persist settings version %d: %w", next.Version, err)
	}
	s.current.Store(next)

	log.Info().
		Int64("version", next.Version).
		Str("actor", actor).
		Str("reason", reason).
		Bool("game_enabled", next.GameEnabled).
		Msg("Game settings updated")

	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(next)
	}
	return next, nil
}
