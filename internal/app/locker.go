package app

import (
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/logistics-ledger/internal/ledger"
	"github.com/odyssey-erp/logistics-ledger/internal/platform/cache"
)

// NewLocker selects the per-ledger lock implementation named by LOCK_BACKEND.
// The redis backend falls back to in-process locks when no client is given.
func NewLocker(cfg *Config, client *redis.Client, logger *slog.Logger) ledger.Locker {
	if cfg != nil && cfg.LockBackend == LockBackendRedis && client != nil {
		return cache.NewLocker(client, cfg.LockTTL, logger)
	}
	if cfg != nil && cfg.LockBackend == LockBackendRedis {
		logger.Warn("redis lock backend requested without client, using in-process locks")
	}
	return ledger.NewMutexLocker()
}
