package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SyncLocker provides per-binding mutual exclusion for mailbox sync runs.
// Multiple callers may trigger a sync concurrently; the lock keeps two runs
// from fetching the same binding at once. When Redis is unavailable the lock
// fails open: the (binding_id, uid) unique index is the real safety net, the
// lock only avoids wasted work.
type SyncLocker struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewSyncLocker(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *SyncLocker {
	return &SyncLocker{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// TryLock attempts to acquire the sync lock for a binding. It returns a
// release function and whether the lock was acquired. The release function
// is safe to call even when acquisition failed open.
func (l *SyncLocker) TryLock(ctx context.Context, bindingID int) (func(), bool) {
	key := fmt.Sprintf("synclock:binding:%d", bindingID)

	ok, err := l.rdb.SetNX(ctx, key, 1, l.ttl).Result()
	if err != nil {
		if l.logger != nil {
			l.logger.Warn("Redis sync lock failed, proceeding without lock",
				zap.Int("binding_id", bindingID),
				zap.Error(err),
			)
		}
		return func() {}, true
	}

	if !ok {
		if l.logger != nil {
			l.logger.Info("Sync already running for binding, skipping",
				zap.Int("binding_id", bindingID),
				zap.String("lock_key", key),
			)
		}
		return func() {}, false
	}

	return func() {
		if err := l.rdb.Del(context.Background(), key).Err(); err != nil && l.logger != nil {
			l.logger.Warn("Failed to release sync lock",
				zap.Int("binding_id", bindingID),
				zap.Error(err),
			)
		}
	}, true
}
