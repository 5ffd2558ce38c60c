package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/pkg/apperrors"
	"dice-wager-engine/internal/pkg/metrics"
)

// Shutdowner persists gameEnabled=false.
type Shutdowner interface {
	Disable(ctx context.Context, reason string) (*model.GameSettings, error)
}

// Alerter is told about automatic shutdowns.
type Alerter interface {
	AutoShutdown(ctx context.Context, reason string, bucket model.RiskBucket)
}

// Manager is the admission gate.
type Manager struct {
	store    WindowStore
	shutdown Shutdowner
	alerter  Alerter
	clock    Clock
	timeout  time.Duration
}

// NewManager creates a risk manager. alerter may be nil.
func NewManager(store WindowStore, shutdown Shutdowner, alerter Alerter, clock Clock, timeout time.Duration) *Manager {
	return &Manager{
		store:    store,
		shutdown: shutdown,
		alerter:  alerter,
		clock:    clock,
		timeout:  timeout,
	}
}

// Clock returns the manager's bucket clock.
func (m *Manager) Clock() Clock {
	return m.clock
}

// Store returns the live window store.
func (m *Manager) Store() WindowStore {
	return m.store
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.timeout)
}

// Admission tracks what a wager reserved so it can be confirmed or released.
// The bucket keys are fixed when the wager is admitted.
type Admission struct {
	UserID    int64
	Day       string
	HourKey   string
	HourStart time.Time

	m         *Manager
	daily     bool
	hourly    *model.RiskDelta
	committed bool
}

func deny(reason string) error {
	metrics.RiskRejects.WithLabelValues(reason).Inc()
	return apperrors.NewRiskDenied(reason)
}

// Admit runs the synchronous checks in order: availability, bet bounds, then
// the daily count, which is reserved provisionally.
func (m *Manager) Admit(ctx context.Context, s *model.GameSettings, userID, bet int64) (*Admission, error) {
	if !s.GameEnabled {
		return nil, deny(apperrors.ReasonGameDisabled)
	}
	if s.MaintenanceMode {
		return nil, deny(apperrors.ReasonMaintenance)
	}
	if bet < s.MinBet || bet > s.MaxBet {
		return nil, apperrors.NewValidation(fmt.Sprintf("bet must be between %d and %d", s.MinBet, s.MaxBet), nil)
	}

	now := m.clock.Now()
	hourKey, hourStart := m.clock.Hour(now)
	a := &Admission{
		UserID:    userID,
		Day:       m.clock.Day(now),
		HourKey:   hourKey,
		HourStart: hourStart,
		m:         m,
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	count, err := m.store.ReserveDaily(ctx, a.Day, userID, s.Risk.MaxDailyBetsPerUser)
	if err != nil {
		if errors.Is(err, ErrDailyLimit) {
			log.Info().Int64("user_id", userID).Str("day", a.Day).Int("limit", s.Risk.MaxDailyBetsPerUser).
				Msg("Wager denied: daily limit")
			return nil, deny(apperrors.ReasonDailyLimit)
		}
		return nil, apperrors.NewTransient("risk store unavailable", err)
	}
	a.daily = true

	log.Debug().Int64("user_id", userID).Int("daily_count", count).Msg("Daily count reserved")
	return a, nil
}

// Project reserves the wager's effect on the hour bucket once the outcome is
// known. net is the player's balance change.
func (m *Manager) Project(ctx context.Context, s *model.GameSettings, a *Admission, net int64) error {
	delta := model.DeltaForNet(net)
	caps := HourlyCaps{
		MaxWin:  s.Risk.MaxWinPerHour,
		MaxLoss: s.Risk.MaxLossPerHour,
		Enforce: s.Risk.AutoShutdown,
	}

	rctx, cancel := m.withTimeout(ctx)
	bucket, breach, err := m.store.ReserveHourly(rctx, a.HourKey, a.HourStart, delta, caps)
	cancel()
	if err != nil {
		return apperrors.NewTransient("risk store unavailable", err)
	}

	if breach == NoBreach {
		a.hourly = &delta
		return nil
	}

	reason := apperrors.ReasonHourlyLoss
	if breach == BreachWin {
		reason = apperrors.ReasonHourlyWin
	}

	if !caps.Enforce {
		a.hourly = &delta
		log.Warn().
			Str("bucket", a.HourKey).
			Str("reason", reason).
			Int64("total_win", bucket.TotalWin).
			Int64("total_loss", bucket.TotalLoss).
			Msg("Hourly risk cap exceeded, auto shutdown is off")
		return nil
	}

	log.Error().
		Str("bucket", a.HourKey).
		Str("reason", reason).
		Int64("total_win", bucket.TotalWin).
		Int64("total_loss", bucket.TotalLoss).
		Msg("Hourly risk cap exceeded, disabling game")

	if _, err := m.shutdown.Disable(context.WithoutCancel(ctx), reason); err != nil {
		log.Error().Err(err).Msg("Failed to persist auto shutdown")
	} else {
		metrics.AutoShutdowns.Inc()
		if m.alerter != nil {
			m.alerter.AutoShutdown(ctx, reason, bucket)
		}
	}
	return deny(reason)
}

// Commit marks the reservations as settled so Release keeps them.
func (a *Admission) Commit() {
	a.committed = true
}

// Release undoes whatever the wager reserved unless it was committed.
// It runs even when ctx is already canceled.
func (a *Admission) Release(ctx context.Context) {
	if a == nil || a.committed {
		return
	}
	ctx, cancel := a.m.withTimeout(context.WithoutCancel(ctx))
	defer cancel()

	if a.hourly != nil {
		if err := a.m.store.ReleaseHourly(ctx, a.HourKey, *a.hourly); err != nil {
			log.Error().Err(err).Str("bucket", a.HourKey).Msg("Failed to release hourly reservation")
		}
		a.hourly = nil
	}
	if a.daily {
		if err := a.m.store.ReleaseDaily(ctx, a.Day, a.UserID); err != nil {
			log.Error().Err(err).Int64("user_id", a.UserID).Msg("Failed to release daily reservation")
		}
		a.daily = false
	}
}

// CurrentHour returns the live totals of the current hour bucket.
func (m *Manager) CurrentHour(ctx context.Context) (model.RiskBucket, error) {
	key, _ := m.clock.Hour(m.clock.Now())
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.store.Hourly(ctx, key)
}

// BucketLoader reads persisted windows for hydration.
type BucketLoader interface {
	LoadBuckets(ctx context.Context, since time.Time) ([]model.RiskBucket, error)
	LoadDailyCounts(ctx context.Context, day string) ([]model.DailyCount, error)
}

// Hydrate rebuilds an in-process store from persisted totals. Stores that
// are shared between instances are left alone.
func (m *Manager) Hydrate(ctx context.Context, loader BucketLoader) error {
	h, ok := m.store.(Hydrator)
	if !ok {
		return nil
	}

	now := m.clock.Now()
	_, hourStart := m.clock.Hour(now)
	buckets, err := loader.LoadBuckets(ctx, hourStart)
	if err != nil {
		return fmt.Errorf("failed to load risk buckets: %w", err)
	}
	counts, err := loader.LoadDailyCounts(ctx, m.clock.Day(now))
	if err != nil {
		return fmt.Errorf("failed to load daily counts: %w", err)
	}
	h.Hydrate(buckets, counts)

	log.Info().Int("buckets", len(buckets)).Int("daily_counts", len(counts)).Msg("Risk windows hydrated")
	return nil
}
