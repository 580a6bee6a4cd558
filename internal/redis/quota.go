package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DailyQuota caps sends per UTC day across every process sharing the
// Redis instance.
type DailyQuota struct {
	client *Client
	limit  int
	logger *zap.Logger
}

func NewDailyQuota(client *Client, limit int, logger *zap.Logger) *DailyQuota {
	return &DailyQuota{client: client, limit: limit, logger: logger}
}

func quotaKey(now time.Time) string {
	return key("sendquota", now.UTC().Format("2006-01-02"))
}

// Take claims one send slot for now's UTC day. It returns false once the
// limit is reached; a refused claim does not count against the day.
func (q *DailyQuota) Take(ctx context.Context, now time.Time) (bool, error) {
	if q.limit <= 0 {
		return true, nil
	}
	k := quotaKey(now)

	pipe := q.client.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	// keep the key a little past midnight so late passes still see it
	pipe.Expire(ctx, k, 26*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis quota incr failed: %w", err)
	}

	if incr.Val() > int64(q.limit) {
		if err := q.client.rdb.Decr(ctx, k).Err(); err != nil {
			q.logger.Warn("failed to release refused quota slot", zap.Error(err))
		}
		q.logger.Debug("daily send cap reached",
			zap.String("day", now.UTC().Format("2006-01-02")),
			zap.Int("limit", q.limit),
		)
		return false, nil
	}
	return true, nil
}

// releaseSlotScript decrements the day's counter without taking it below zero,
// so a release after the key expired is a no-op.
var releaseSlotScript = redis.NewScript(`
local n = tonumber(redis.call("GET", KEYS[1]) or "0")
if n > 0 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

// Release hands back a slot taken for now's UTC day whose send never
// happened.
func (q *DailyQuota) Release(ctx context.Context, now time.Time) error {
	if q.limit <= 0 {
		return nil
	}
	if err := releaseSlotScript.Run(ctx, q.client.rdb, []string{quotaKey(now)}).Err(); err != nil && !isNil(err) {
		return fmt.Errorf("redis quota release failed: %w", err)
	}
	return nil
}

// Used reports how many slots now's UTC day has consumed.
func (q *DailyQuota) Used(ctx context.Context, now time.Time) (int, error) {
	n, err := q.client.rdb.Get(ctx, quotaKey(now)).Int()
	if err != nil {
		if isNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis quota get failed: %w", err)
	}
	return n, nil
}
