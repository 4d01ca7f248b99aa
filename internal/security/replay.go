// Package security provides the Webhook Gateway's signature verification
// and replay-protection primitives (§4.8).
package security

import (
	"sync"
	"time"

	"github.com/stratecode/triage-sub002/internal/logging"
)

// ReplayProtection tracks seen webhook signatures within a sliding window,
// rejecting duplicates without ever logging the signature value itself
// (§7: "no logging of the bad signature").
type ReplayProtection struct {
	window  time.Duration
	maxSize int

	mu   sync.RWMutex
	seen map[string]time.Time

	logger *logging.Logger
}

// NewReplayProtection creates a replay guard remembering signatures for window.
func NewReplayProtection(window time.Duration, logger *logging.Logger) *ReplayProtection {
	return NewReplayProtectionWithMaxSize(window, 0, logger)
}

// NewReplayProtectionWithMaxSize bounds the tracked-signature set to maxSize
// entries (0 = unlimited), guarding against unbounded memory growth under
// sustained replay attempts.
func NewReplayProtectionWithMaxSize(window time.Duration, maxSize int, logger *logging.Logger) *ReplayProtection {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &ReplayProtection{
		window:  window,
		maxSize: maxSize,
		seen:    make(map[string]time.Time),
		logger:  logger,
	}
}

// ValidateAndMark reports whether signature is fresh (not a replay) and, if
// so, marks it seen. Empty signatures are always rejected.
func (rp *ReplayProtection) ValidateAndMark(signature string) bool {
	if signature == "" {
		return false
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	if len(rp.seen)%100 == 0 {
		rp.cleanupExpired()
	}

	if seenAt, exists := rp.seen[signature]; exists {
		if time.Since(seenAt) < rp.window {
			return false
		}
		delete(rp.seen, signature)
	}

	if rp.maxSize > 0 && len(rp.seen) >= rp.maxSize {
		rp.cleanupExpired()
		if len(rp.seen) >= rp.maxSize {
			if rp.logger != nil {
				rp.logger.WithFields(map[string]interface{}{"max_size": rp.maxSize}).
					Warn("replay protection at capacity, rejecting request")
			}
			return false
		}
	}

	rp.seen[signature] = time.Now()
	return true
}

// IsReplay reports whether signature was already seen within the window,
// without marking it.
func (rp *ReplayProtection) IsReplay(signature string) bool {
	if signature == "" {
		return false
	}
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	seenAt, exists := rp.seen[signature]
	return exists && time.Since(seenAt) < rp.window
}

func (rp *ReplayProtection) cleanupExpired() {
	now := time.Now()
	for sig, seenAt := range rp.seen {
		if now.Sub(seenAt) > rp.window {
			delete(rp.seen, sig)
		}
	}
}

// Sweep evicts every entry older than the guard's window. It is the public
// entry point the Housekeeper's cron job calls (§4.11); cleanupExpired
// above is also invoked opportunistically from ValidateAndMark.
func (rp *ReplayProtection) Sweep() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.cleanupExpired()
}

// Size returns the number of tracked signatures.
func (rp *ReplayProtection) Size() int {
	rp.mu.RLock()
	defer rp.mu.RUnlock()
	return len(rp.seen)
}

// Clear removes all tracked signatures. Used by the Housekeeper's sweep and
// by tests.
func (rp *ReplayProtection) Clear() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.seen = make(map[string]time.Time)
}
