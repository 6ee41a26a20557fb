package patrol

import (
	"github.com/patrolhq/patrolctl/internal/types"
)

// DisplayedHistory returns the view-ready run list. While a run is in
// progress a synthesized record with the live sentinel id is prepended, so
// the display never shows a run disappearing in the gap between completion
// and the next history fetch. The synthetic record is recomputed on every
// read and never written anywhere; it vanishes on the first read after
// RunInProgress flips false.
func (c *Controller) DisplayedHistory() []types.PatrolRunRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recomputeLocked()

	out := make([]types.PatrolRunRecord, 0, len(c.history)+1)
	if c.runInProgressLocked() {
		started := c.liveStartedAt
		if started.IsZero() {
			started = c.now()
		}
		out = append(out, types.PatrolRunRecord{
			ID:        types.LiveRunID,
			StartedAt: started,
			Status:    "running",
		})
	}
	return append(out, c.history...)
}
