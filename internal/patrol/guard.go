package patrol

import (
	"sync"
	"time"
)

// safetyGuard bounds how long an optimistic "run requested" state may exist
// without confirmation from the stream. At most one timer is armed at a time;
// Arm replaces any prior timer rather than stacking a second one.
type safetyGuard struct {
	mu    sync.Mutex
	timer *time.Timer
}

// Arm schedules fire after d, cancelling any previously armed timer first.
func (g *safetyGuard) Arm(d time.Duration, fire func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		g.clear(t)
		fire()
	})
	g.timer = t
}

// clear forgets the timer handle, but only if it is still the armed one.
// A timer that fires after being replaced must not disarm its successor.
func (g *safetyGuard) clear(t *time.Timer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer == t {
		g.timer = nil
	}
}

// Disarm cancels the armed timer, if any. Idempotent.
func (g *safetyGuard) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// Armed reports whether a timer is currently pending.
func (g *safetyGuard) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timer != nil
}
