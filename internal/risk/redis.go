package risk

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"dice-wager-engine/internal/model"
)

// Lua keeps every check-and-increment atomic on the Redis side, so several
// engine instances can share one set of windows.
var (
	reserveDailyScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[2])
end
if count > tonumber(ARGV[1]) then
	redis.call('DECR', KEYS[1])
	return -1
end
return count
`)

	releaseDailyScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count > 0 then
	return redis.call('DECR', KEYS[1])
end
return 0
`)

	reserveHourlyScript = redis.NewScript(`
local win = tonumber(redis.call('HGET', KEYS[1], 'win') or '0')
local loss = tonumber(redis.call('HGET', KEYS[1], 'loss') or '0')
local wagers = tonumber(redis.call('HGET', KEYS[1], 'wagers') or '0')
local nwin = win + tonumber(ARGV[1])
local nloss = loss + tonumber(ARGV[2])
local breach = ''
if nloss > tonumber(ARGV[4]) then
	breach = 'loss'
elseif nwin > tonumber(ARGV[3]) then
	breach = 'win'
end
if breach ~= '' and ARGV[5] == '1' then
	return {breach, win, loss, wagers}
end
redis.call('HSET', KEYS[1], 'win', nwin, 'loss', nloss, 'wagers', wagers + 1)
redis.call('HSETNX', KEYS[1], 'start', ARGV[6])
redis.call('EXPIRE', KEYS[1], ARGV[7])
return {breach, nwin, nloss, wagers + 1}
`)

	releaseHourlyScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HINCRBY', KEYS[1], 'win', -tonumber(ARGV[1]))
redis.call('HINCRBY', KEYS[1], 'loss', -tonumber(ARGV[2]))
redis.call('HINCRBY', KEYS[1], 'wagers', -1)
return 1
`)
)

// RedisStore keeps windows in Redis. Keys expire after the retention period,
// so Prune has nothing to do.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a store on client. Keys are namespaced by prefix.
func NewRedisStore(client *redis.Client, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "risk"
	}
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func (s *RedisStore) dayKey(day string, userID int64) string {
	return fmt.Sprintf("%s:day:%s:%d", s.prefix, day, userID)
}

func (s *RedisStore) hourKey(key string) string {
	return fmt.Sprintf("%s:hour:%s", s.prefix, key)
}

func (s *RedisStore) ttlSeconds() int64 {
	return int64(s.retention / time.Second)
}

func (s *RedisStore) ReserveDaily(ctx context.Context, day string, userID int64, limit int) (int, error) {
	n, err := reserveDailyScript.Run(ctx, s.client, []string{s.dayKey(day, userID)}, limit, s.ttlSeconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to reserve daily count: %w", err)
	}
	if n < 0 {
		return limit, ErrDailyLimit
	}
	return int(n), nil
}

func (s *RedisStore) ReleaseDaily(ctx context.Context, day string, userID int64) error {
	if err := releaseDailyScript.Run(ctx, s.client, []string{s.dayKey(day, userID)}).Err(); err != nil {
		return fmt.Errorf("failed to release daily count: %w", err)
	}
	return nil
}

func (s *RedisStore) DailyCount(ctx context.Context, day string, userID int64) (int, error) {
	n, err := s.client.Get(ctx, s.dayKey(day, userID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read daily count: %w", err)
	}
	return n, nil
}

func (s *RedisStore) ReserveHourly(ctx context.Context, key string, start time.Time, delta model.RiskDelta, caps HourlyCaps) (model.RiskBucket, Breach, error) {
	enforce := "0"
	if caps.Enforce {
		enforce = "1"
	}
	res, err := reserveHourlyScript.Run(ctx, s.client, []string{s.hourKey(key)},
		delta.Win, delta.Loss, caps.MaxWin, caps.MaxLoss, enforce, start.Unix(), s.ttlSeconds(),
	).Slice()
	if err != nil {
		return model.RiskBucket{}, NoBreach, fmt.Errorf("failed to reserve hourly totals: %w", err)
	}
	if len(res) != 4 {
		return model.RiskBucket{}, NoBreach, fmt.Errorf("unexpected hourly script reply %v", res)
	}

	breach, _ := res[0].(string)
	bucket := model.RiskBucket{
		Key:       key,
		Start:     start,
		TotalWin:  toInt64(res[1]),
		TotalLoss: toInt64(res[2]),
		Wagers:    toInt64(res[3]),
	}
	return bucket, Breach(breach), nil
}

func (s *RedisStore) ReleaseHourly(ctx context.Context, key string, delta model.RiskDelta) error {
	if err := releaseHourlyScript.Run(ctx, s.client, []string{s.hourKey(key)}, delta.Win, delta.Loss).Err(); err != nil {
		return fmt.Errorf("failed to release hourly totals: %w", err)
	}
	return nil
}

func (s *RedisStore) Hourly(ctx context.Context, key string) (model.RiskBucket, error) {
	vals, err := s.client.HGetAll(ctx, s.hourKey(key)).Result()
	if err != nil {
		return model.RiskBucket{}, fmt.Errorf("failed to read hourly totals: %w", err)
	}

	bucket := model.RiskBucket{Key: key}
	bucket.TotalWin, _ = strconv.ParseInt(vals["win"], 10, 64)
	bucket.TotalLoss, _ = strconv.ParseInt(vals["loss"], 10, 64)
	bucket.Wagers, _ = strconv.ParseInt(vals["wagers"], 10, 64)
	if sec, err := strconv.ParseInt(vals["start"], 10, 64); err == nil {
		bucket.Start = time.Unix(sec, 0)
	}
	return bucket, nil
}

func (s *RedisStore) Prune(ctx context.Context, before time.Time, beforeDay string) (int, error) {
	return 0, nil
}

// Lua numbers come back as int64, but be lenient with strings.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}
