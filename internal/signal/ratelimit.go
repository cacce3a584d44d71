package signal

import (
	"sync"
	"time"

	"github.com/mlevan/huddle/internal/domain"
)

// floodGuard is a sliding-window rate limiter over inbound messages, keyed
// by peer. A connection that exceeds the window is terminated by the read
// loop; well-behaved clients never come close.
type floodGuard struct {
	mu       sync.Mutex
	history  map[domain.PeerID][]time.Time
	limit    int
	interval time.Duration
}

func newFloodGuard(limit int, interval time.Duration) *floodGuard {
	return &floodGuard{
		history:  make(map[domain.PeerID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

// Allow records one message for the peer and reports whether it is still
// within the window. A zero limit disables the guard.
func (fg *floodGuard) Allow(peerID domain.PeerID) bool {
	if fg.limit <= 0 {
		return true
	}
	fg.mu.Lock()
	defer fg.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-fg.interval)

	attempts := fg.history[peerID]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= fg.limit {
		fg.history[peerID] = fresh
		return false
	}

	fresh = append(fresh, now)
	fg.history[peerID] = fresh
	return true
}

// Forget drops the peer's window once its connection is gone.
func (fg *floodGuard) Forget(peerID domain.PeerID) {
	fg.mu.Lock()
	delete(fg.history, peerID)
	fg.mu.Unlock()
}
