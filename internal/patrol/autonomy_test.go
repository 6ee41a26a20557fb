package patrol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrolhq/patrolctl/internal/client"
	"github.com/patrolhq/patrolctl/internal/notify"
	"github.com/patrolhq/patrolctl/internal/types"
)

func TestResolveEffectiveLevel(t *testing.T) {
	tests := []struct {
		name    string
		mode    types.Mode
		autoFix bool
		want    types.AutonomyLevel
	}{
		{"assisted with auto-fix escalates to full", types.ModeAssisted, true, types.AutonomyFull},
		{"assisted without auto-fix stays assisted", types.ModeAssisted, false, types.AutonomyAssisted},
		{"monitor ignores auto-fix", types.ModeMonitor, true, types.AutonomyMonitor},
		{"monitor without auto-fix", types.ModeMonitor, false, types.AutonomyMonitor},
		{"approval ignores auto-fix", types.ModeApproval, true, types.AutonomyApproval},
		{"approval without auto-fix", types.ModeApproval, false, types.AutonomyApproval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveEffectiveLevel(tt.mode, tt.autoFix))
		})
	}
}

func TestActiveMode(t *testing.T) {
	assert.Equal(t, types.ModeMonitor, ActiveMode(types.AutonomyMonitor))
	assert.Equal(t, types.ModeApproval, ActiveMode(types.AutonomyApproval))
	assert.Equal(t, types.ModeAssisted, ActiveMode(types.AutonomyAssisted))
	// full has no selector option of its own; it highlights assisted
	assert.Equal(t, types.ModeAssisted, ActiveMode(types.AutonomyFull))
}

func TestFullModeToggleEnabled(t *testing.T) {
	assert.False(t, FullModeToggleEnabled(types.AutonomyMonitor))
	assert.False(t, FullModeToggleEnabled(types.AutonomyApproval))
	assert.True(t, FullModeToggleEnabled(types.AutonomyAssisted))
	assert.True(t, FullModeToggleEnabled(types.AutonomyFull))
}

func TestApplyLevelChange_AdoptsServerResponse(t *testing.T) {
	api := newFakeAPI()
	c := New(testConfig(), api, nil, nil)
	require.NoError(t, c.Reload(context.Background()))

	require.NoError(t, c.ApplyLevelChange(context.Background(), types.AutonomyAssisted))
	assert.Equal(t, types.AutonomyAssisted, c.Settings().AutonomyLevel)
}

func TestApplyLevelChange_RollbackOnFailure(t *testing.T) {
	api := newFakeAPI()
	api.updateFn = func(types.AutonomyUpdateRequest) (*types.AutonomySettings, error) {
		return nil, &client.RequestError{StatusCode: 403, Code: "license_required", Message: "AI Auto-Fix requires a license"}
	}
	rec := &notify.Recorder{}
	c := New(testConfig(), api, nil, rec)
	require.NoError(t, c.Reload(context.Background()))
	prev := c.Settings().AutonomyLevel

	err := c.ApplyLevelChange(context.Background(), types.AutonomyAssisted)
	require.Error(t, err)

	// Exact rollback to the previously held value, not a default.
	assert.Equal(t, prev, c.Settings().AutonomyLevel)
	// The server's own message is surfaced, not a generic fallback.
	require.Len(t, rec.Errors(), 1)
	assert.Equal(t, "AI Auto-Fix requires a license", rec.Errors()[0])
}

func TestApplyLevelChange_GenericMessageWithoutPayload(t *testing.T) {
	api := newFakeAPI()
	api.updateFn = func(types.AutonomyUpdateRequest) (*types.AutonomySettings, error) {
		return nil, context.DeadlineExceeded
	}
	rec := &notify.Recorder{}
	c := New(testConfig(), api, nil, rec)
	require.NoError(t, c.Reload(context.Background()))

	require.Error(t, c.ApplyLevelChange(context.Background(), types.AutonomyAssisted))
	require.Len(t, rec.Errors(), 1)
	assert.Equal(t, "Failed to update autonomy settings", rec.Errors()[0])
}

func TestApplyLevelChange_RejectsConcurrentUpdate(t *testing.T) {
	api := newFakeAPI()
	release := make(chan struct{})
	entered := make(chan struct{})
	api.updateFn = func(req types.AutonomyUpdateRequest) (*types.AutonomySettings, error) {
		close(entered)
		<-release
		s := types.AutonomySettings{AutonomyLevel: req.AutonomyLevel}
		return &s, nil
	}
	c := New(testConfig(), api, nil, nil)
	require.NoError(t, c.Reload(context.Background()))

	done := make(chan error, 1)
	go func() {
		done <- c.ApplyLevelChange(context.Background(), types.AutonomyAssisted)
	}()
	<-entered

	// Second update while the first is in flight is rejected re-entrantly.
	err := c.ApplyLevelChange(context.Background(), types.AutonomyMonitor)
	assert.ErrorIs(t, err, ErrUpdateInFlight)

	close(release)
	require.NoError(t, <-done)
}

func TestApplyLevelChange_RejectsInvalidLevel(t *testing.T) {
	c := New(testConfig(), newFakeAPI(), nil, nil)
	assert.Error(t, c.ApplyLevelChange(context.Background(), types.AutonomyLevel("autonomous")))
}

func TestSaveAdvancedSettings_ComposesFullPayload(t *testing.T) {
	api := newFakeAPI()
	api.settings.AutonomyLevel = types.AutonomyAssisted
	c := New(testConfig(), api, nil, nil)
	require.NoError(t, c.Reload(context.Background()))

	require.NoError(t, c.SaveAdvancedSettings(context.Background(), true, 12, 300))

	req := api.lastUpdateReq()
	assert.Equal(t, types.AutonomyFull, req.AutonomyLevel)
	require.NotNil(t, req.FullModeUnlocked)
	assert.True(t, *req.FullModeUnlocked)
	assert.Equal(t, 12, req.InvestigationBudget)

	assert.Equal(t, types.AutonomyFull, c.Settings().AutonomyLevel)
	assert.True(t, c.Settings().FullModeUnlocked)
}

func TestSaveAdvancedSettings_ServerDowngradeWins(t *testing.T) {
	api := newFakeAPI()
	api.settings.AutonomyLevel = types.AutonomyAssisted
	// Entitlement revoked mid-flight: the requested full/true comes back
	// as assisted/false, and that is what must stick locally.
	api.updateFn = func(req types.AutonomyUpdateRequest) (*types.AutonomySettings, error) {
		return &types.AutonomySettings{
			AutonomyLevel:           types.AutonomyAssisted,
			FullModeUnlocked:        false,
			InvestigationBudget:     req.InvestigationBudget,
			InvestigationTimeoutSec: req.InvestigationTimeoutSec,
		}, nil
	}
	c := New(testConfig(), api, nil, nil)
	require.NoError(t, c.Reload(context.Background()))

	require.NoError(t, c.SaveAdvancedSettings(context.Background(), true, 10, 300))

	assert.Equal(t, types.AutonomyFull, api.lastUpdateReq().AutonomyLevel)
	assert.Equal(t, types.AutonomyAssisted, c.Settings().AutonomyLevel)
	assert.False(t, c.Settings().FullModeUnlocked)
}

func TestSaveAdvancedSettings_RollbackOnFailure(t *testing.T) {
	api := newFakeAPI()
	api.settings.AutonomyLevel = types.AutonomyAssisted
	api.settings.FullModeUnlocked = false
	api.updateFn = func(types.AutonomyUpdateRequest) (*types.AutonomySettings, error) {
		return nil, &client.RequestError{StatusCode: 500, Message: "internal error"}
	}
	c := New(testConfig(), api, nil, nil)
	require.NoError(t, c.Reload(context.Background()))
	before := c.Settings()

	require.Error(t, c.SaveAdvancedSettings(context.Background(), true, 20, 600))
	assert.Equal(t, before, c.Settings())
}
