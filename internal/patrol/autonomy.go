package patrol

import (
	"context"
	"errors"
	"fmt"

	"github.com/patrolhq/patrolctl/internal/client"
	"github.com/patrolhq/patrolctl/internal/types"
)

// ResolveEffectiveLevel maps the three-way mode selector plus the auto-fix
// sub-toggle onto the backend enum. Pure function, applied identically at
// both call sites: the optimistic local write and the save payload.
func ResolveEffectiveLevel(mode types.Mode, autoFix bool) types.AutonomyLevel {
	if mode == types.ModeAssisted && autoFix {
		return types.AutonomyFull
	}
	switch mode {
	case types.ModeMonitor:
		return types.AutonomyMonitor
	case types.ModeApproval:
		return types.AutonomyApproval
	default:
		return types.AutonomyAssisted
	}
}

// ActiveMode projects a backend level onto the selector. full highlights the
// assisted option; it has no option of its own.
func ActiveMode(level types.AutonomyLevel) types.Mode {
	switch level {
	case types.AutonomyMonitor:
		return types.ModeMonitor
	case types.AutonomyApproval:
		return types.ModeApproval
	default:
		return types.ModeAssisted
	}
}

// FullModeToggleEnabled reports whether the auto-fix sub-toggle is meaningful
// for the given level. The toggle only matters when the selector is on
// assisted (or the level is already full); otherwise the control is disabled.
func FullModeToggleEnabled(level types.AutonomyLevel) bool {
	return level == types.AutonomyAssisted || level == types.AutonomyFull
}

// ApplyLevelChange writes the level optimistically, then confirms it with the
// server. Rejected while another update is in flight. On failure the level
// rolls back to the exact prior value and the server's message (when present)
// is surfaced; on success local state adopts the server's returned settings,
// which may carry a downgrade.
func (c *Controller) ApplyLevelChange(ctx context.Context, level types.AutonomyLevel) error {
	if !level.Valid() {
		return fmt.Errorf("invalid autonomy level %q", level)
	}

	c.mu.Lock()
	if c.updating {
		c.mu.Unlock()
		return ErrUpdateInFlight
	}
	c.updating = true
	prev := c.settings.AutonomyLevel
	c.settings.AutonomyLevel = level
	req := types.AutonomyUpdateRequest{
		AutonomyLevel:           level,
		InvestigationBudget:     c.settings.InvestigationBudget,
		InvestigationTimeoutSec: c.settings.InvestigationTimeoutSec,
	}
	c.mu.Unlock()

	updated, err := c.api.UpdateAutonomySettings(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.updating = false
	if err != nil {
		c.settings.AutonomyLevel = prev
		c.notifier.Error(updateErrorMessage(err))
		return fmt.Errorf("updating autonomy level: %w", err)
	}
	c.settings = *updated
	return nil
}

// SaveAdvancedSettings re-derives the effective level from the auto-fix
// sub-toggle and persists it together with the investigation budget and
// timeout. Local state always ends at the server's returned values, not our
// own computation; the server may downgrade full to assisted when the unlock
// is revoked mid-flight.
func (c *Controller) SaveAdvancedSettings(ctx context.Context, autoFix bool, budget, timeoutSec int) error {
	c.mu.Lock()
	if c.updating {
		c.mu.Unlock()
		return ErrUpdateInFlight
	}
	c.updating = true
	prev := c.settings
	level := ResolveEffectiveLevel(ActiveMode(c.settings.AutonomyLevel), autoFix)
	c.settings.AutonomyLevel = level
	c.settings.FullModeUnlocked = autoFix
	c.settings.InvestigationBudget = budget
	c.settings.InvestigationTimeoutSec = timeoutSec
	req := types.AutonomyUpdateRequest{
		AutonomyLevel:           level,
		FullModeUnlocked:        &autoFix,
		InvestigationBudget:     budget,
		InvestigationTimeoutSec: timeoutSec,
	}
	c.mu.Unlock()

	updated, err := c.api.UpdateAutonomySettings(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.updating = false
	if err != nil {
		c.settings = prev
		c.notifier.Error(updateErrorMessage(err))
		return fmt.Errorf("saving autonomy settings: %w", err)
	}
	c.settings = *updated
	return nil
}

// updateErrorMessage prefers the server's own message over a generic one.
func updateErrorMessage(err error) string {
	var reqErr *client.RequestError
	if errors.As(err, &reqErr) && reqErr.Message != "" {
		return reqErr.Message
	}
	return "Failed to update autonomy settings"
}
