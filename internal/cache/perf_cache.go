package cache

import (
	"context"
	"time"

	"binary-options-bot/internal/adaptive"
)

// PerfCache mirrors rolling performance windows into Redis so the
// consistency manager can warm up after a restart. All writes are
// best-effort: a degraded cache never blocks trade recording.
type PerfCache struct {
	cache *CacheService
}

// NewPerfCache creates a performance cache over an existing CacheService.
func NewPerfCache(cache *CacheService) *PerfCache {
	return &PerfCache{cache: cache}
}

// RecordWindow stores one window snapshot. Failures are swallowed so the
// caller's hot path is never coupled to Redis availability.
func (pc *PerfCache) RecordWindow(scope, key string, w adaptive.Window) {
	if pc.cache == nil || !pc.cache.IsHealthy() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_ = pc.cache.SetJSON(ctx, PerfWindowKey(scope, key), w, DefaultWindowTTL)
}

// LoadWindows reads back every cached window for a scope. A cache miss or
// degraded Redis yields an empty map, never an error the caller must act on.
func (pc *PerfCache) LoadWindows(ctx context.Context, scope string) map[string]adaptive.Window {
	out := make(map[string]adaptive.Window)
	if pc.cache == nil || !pc.cache.IsHealthy() {
		return out
	}

	pattern := PerfWindowKey(scope, "*")
	prefix := PerfWindowKey(scope, "")

	iter := pc.cache.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		var w adaptive.Window
		if err := pc.cache.GetJSON(ctx, fullKey, &w); err != nil {
			continue
		}
		out[fullKey[len(prefix):]] = w
	}
	if err := iter.Err(); err != nil {
		pc.cache.recordFailure()
	}
	return out
}

// SaveBalance caches the last known broker balance for the status API.
func (pc *PerfCache) SaveBalance(ctx context.Context, balance float64) {
	if pc.cache == nil || !pc.cache.IsHealthy() {
		return
	}
	_ = pc.cache.Set(ctx, PrefixLastBalance, balance, DefaultBalanceTTL)
}

// LastBalance returns the cached balance, or ok=false on miss or degradation.
func (pc *PerfCache) LastBalance(ctx context.Context) (float64, bool) {
	if pc.cache == nil || !pc.cache.IsHealthy() {
		return 0, false
	}
	var balance float64
	if err := pc.cache.GetJSON(ctx, PrefixLastBalance, &balance); err != nil {
		return 0, false
	}
	return balance, true
}
