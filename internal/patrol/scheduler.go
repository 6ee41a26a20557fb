package patrol

import (
	"sync"
	"time"
)

// pollScheduler owns the two recurring refresh timers: a coarse full-refresh
// tick and a fine pending-approvals tick. The two are always started and
// stopped together, so either zero or two timers are live.
type pollScheduler struct {
	fullInterval      time.Duration
	approvalsInterval time.Duration
	onFull            func()
	onApprovals       func()

	mu     sync.Mutex
	stopCh chan struct{}
	active int
}

func newPollScheduler(full, approvals time.Duration, onFull, onApprovals func()) *pollScheduler {
	return &pollScheduler{
		fullInterval:      full,
		approvalsInterval: approvals,
		onFull:            onFull,
		onApprovals:       onApprovals,
	}
}

// Start launches both tickers. It stops any previous pair first, so repeated
// starts never accumulate timers. The stop-and-replace happens under one lock
// hold; concurrent starts must not orphan a live pair.
func (s *pollScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	stop := make(chan struct{})
	s.stopCh = stop
	s.active = 2

	go s.loop(s.fullInterval, s.onFull, stop)
	go s.loop(s.approvalsInterval, s.onApprovals, stop)
}

// Stop cancels both tickers. Idempotent.
func (s *pollScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *pollScheduler) stopLocked() {
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.active = 0
}

// Running reports how many recurring timers are live: always 0 or 2.
func (s *pollScheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *pollScheduler) loop(interval time.Duration, fn func(), stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			fn()
		}
	}
}
