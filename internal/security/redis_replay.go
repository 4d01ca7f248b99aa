package security

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stratecode/triage-sub002/internal/logging"
)

// RedisMirror mirrors ValidateAndMark decisions into Redis with a TTL equal
// to the replay window, so multiple Gateway instances behind a load
// balancer share replay state without requiring the Plugin Registry itself
// to coordinate across instances (SPEC_FULL §4.8). This is a shared cache,
// not distributed consensus: a brief window where two instances both
// accept the same signature is tolerated, matching the in-memory guard's
// own best-effort semantics under concurrent requests.
type RedisMirror struct {
	client *redis.Client
	window time.Duration
	local  *ReplayProtection
	logger *logging.Logger
}

// NewRedisMirror wraps a local ReplayProtection guard with a Redis-backed
// cross-instance mirror.
func NewRedisMirror(client *redis.Client, window time.Duration, local *ReplayProtection, logger *logging.Logger) *RedisMirror {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &RedisMirror{client: client, window: window, local: local, logger: logger}
}

// ValidateAndMark checks the local guard first (cheap, no network round
// trip), then consults Redis via SETNX to catch replays seen by a sibling
// instance. On Redis error it fails open to the local-only result rather
// than rejecting legitimate traffic because of a cache outage.
func (m *RedisMirror) ValidateAndMark(ctx context.Context, signature string) bool {
	if !m.local.ValidateAndMark(signature) {
		return false
	}

	key := "webhook:replay:" + signature
	ok, err := m.client.SetNX(ctx, key, 1, m.window).Result()
	if err != nil {
		if m.logger != nil {
			m.logger.WithError(err).Warn("redis replay mirror unavailable, failing open to local guard")
		}
		return true
	}
	return ok
}

// Sweep is a no-op for Redis (TTL expiry handles cleanup); it exists so the
// Housekeeper can treat both guards uniformly.
func (m *RedisMirror) Sweep() {
	m.local.cleanupExpired()
}
