package handler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// UserLimiter rate limits wagers per user.
type UserLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[int64]*userLimiter
	now      func() time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewUserLimiter creates a limiter allowing perSecond wagers with the given
// burst. A non-positive perSecond disables limiting.
func NewUserLimiter(perSecond float64, burst int) *UserLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &UserLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[int64]*userLimiter),
		now:      time.Now,
	}
}

// Allow reports whether userID may place another wager now.
func (l *UserLimiter) Allow(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ul, ok := l.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = ul
	}
	ul.lastSeen = l.now()
	return ul.limiter.Allow()
}

// Cleanup forgets users idle for longer than idle.
func (l *UserLimiter) Cleanup(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for id, ul := range l.limiters {
		if ul.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked users.
func (l *UserLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// StartCleaner drops idle users every interval until ctx is done.
func (l *UserLimiter) StartCleaner(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := l.Cleanup(interval); n > 0 {
					log.Debug().Int("removed", n).Msg("Dropped idle rate limiters")
				}
			}
		}
	}()
}
