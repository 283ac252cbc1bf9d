package risk

import (
	"sync"

	"github.com/Rajchodisetti/spx0dte/internal/observ"
)

// LockTracker remembers the last observed loss lock so engagements are counted once.
type LockTracker struct {
	mu   sync.Mutex
	last LossLock
	seen bool
}

func NewLockTracker() *LockTracker {
	return &LockTracker{}
}

// Observe records the current exposure. It reports whether the lock newly engaged.
func (lt *LockTracker) Observe(e Exposure) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	observ.SetGauge("sleeve_open_risk_dollars", e.OpenRisk, nil)
	observ.SetGauge("sleeve_open_risk_headroom_dollars", e.Headroom(), nil)
	observ.SetGauge("sleeve_net_delta", e.NetDelta, nil)
	observ.SetGauge("sleeve_realized_pnl", e.Settings.DailyRealizedPnL, map[string]string{"window": "daily"})
	observ.SetGauge("sleeve_realized_pnl", e.Settings.WeeklyRealizedPnL, map[string]string{"window": "weekly"})
	observ.SetGauge("sleeve_loss_lock_active", boolGauge(e.Lock.Active()), nil)

	prev := lt.last
	lt.last = e.Lock
	first := !lt.seen
	lt.seen = true

	engaged := false
	if e.Lock.Daily && (first || !prev.Daily) {
		observ.IncCounter("sleeve_loss_locks_total", map[string]string{"type": "daily"})
		engaged = true
	}
	if e.Lock.Weekly && (first || !prev.Weekly) {
		observ.IncCounter("sleeve_loss_locks_total", map[string]string{"type": "weekly"})
		engaged = true
	}
	if engaged {
		observ.Warn("sleeve_loss_lock", map[string]any{"detail": e.Lock.Detail})
	} else if prev.Active() && !e.Lock.Active() {
		observ.Log("sleeve_loss_lock_cleared", map[string]any{"detail": e.Lock.Detail})
	}
	return engaged
}

// Current is the last observed lock.
func (lt *LockTracker) Current() LossLock {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.last
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
