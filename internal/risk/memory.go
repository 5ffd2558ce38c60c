package risk

import (
	"context"
	"sync"
	"time"

	"dice-wager-engine/internal/model"
	"dice-wager-engine/internal/pkg/lock"
)

type dailyKey struct {
	day    string
	userID int64
}

// MemoryStore keeps windows in process. Each bucket has its own lock so
// unrelated buckets never contend.
type MemoryStore struct {
	hourLocks *lock.KeyLock[string]
	dayLocks  *lock.KeyLock[dailyKey]

	mu      sync.RWMutex
	buckets map[string]*model.RiskBucket
	daily   map[dailyKey]int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hourLocks: lock.New[string](),
		dayLocks:  lock.New[dailyKey](),
		buckets:   make(map[string]*model.RiskBucket),
		daily:     make(map[dailyKey]int),
	}
}

// Hydrate replaces the windows with persisted totals.
func (s *MemoryStore) Hydrate(buckets []model.RiskBucket, counts []model.DailyCount) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range buckets {
		b := b
		s.buckets[b.Key] = &b
	}
	for _, c := range counts {
		s.daily[dailyKey{day: c.Day, userID: c.UserID}] = c.Count
	}
}

func (s *MemoryStore) ReserveDaily(ctx context.Context, day string, userID int64, limit int) (int, error) {
	k := dailyKey{day: day, userID: userID}
	var count int
	err := s.dayLocks.WithLock(k, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.daily[k] >= limit {
			count = s.daily[k]
			return ErrDailyLimit
		}
		s.daily[k]++
		count = s.daily[k]
		return nil
	})
	return count, err
}

func (s *MemoryStore) ReleaseDaily(ctx context.Context, day string, userID int64) error {
	k := dailyKey{day: day, userID: userID}
	return s.dayLocks.WithLock(k, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.daily[k] > 0 {
			s.daily[k]--
		}
		return nil
	})
}

func (s *MemoryStore) DailyCount(ctx context.Context, day string, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.daily[dailyKey{day: day, userID: userID}], nil
}

func (s *MemoryStore) bucket(key string, start time.Time) *model.RiskBucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok {
		b = &model.RiskBucket{Key: key, Start: start}
		s.buckets[key] = b
	}
	return b
}

func (s *MemoryStore) ReserveHourly(ctx context.Context, key string, start time.Time, delta model.RiskDelta, caps HourlyCaps) (model.RiskBucket, Breach, error) {
	var (
		out    model.RiskBucket
		breach Breach
	)
	err := s.hourLocks.WithLock(key, func() error {
		b := s.bucket(key, start)
		breach = breachOf(b.TotalWin+delta.Win, b.TotalLoss+delta.Loss, caps)
		if breach == NoBreach || !caps.Enforce {
			b.TotalWin += delta.Win
			b.TotalLoss += delta.Loss
			b.Wagers++
		}
		out = *b
		return nil
	})
	return out, breach, err
}

func (s *MemoryStore) ReleaseHourly(ctx context.Context, key string, delta model.RiskDelta) error {
	return s.hourLocks.WithLock(key, func() error {
		s.mu.RLock()
		b, ok := s.buckets[key]
		s.mu.RUnlock()
		if !ok {
			return nil
		}
		b.TotalWin -= delta.Win
		b.TotalLoss -= delta.Loss
		b.Wagers--
		return nil
	})
}

func (s *MemoryStore) Hourly(ctx context.Context, key string) (model.RiskBucket, error) {
	var out model.RiskBucket
	err := s.hourLocks.WithLock(key, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if b, ok := s.buckets[key]; ok {
			out = *b
		} else {
			out.Key = key
		}
		return nil
	})
	return out, err
}

func (s *MemoryStore) Prune(ctx context.Context, before time.Time, beforeDay string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, b := range s.buckets {
		if b.Start.Before(before) {
			delete(s.buckets, key)
			removed++
		}
	}
	for k := range s.daily {
		if k.day < beforeDay {
			delete(s.daily, k)
			removed++
		}
	}
	return removed, nil
}
