package patrol

import (
	"context"
	"sync"
	"time"

	"github.com/patrolhq/patrolctl/internal/types"
)

// fakeAPI is a controllable in-memory API for controller tests.
type fakeAPI struct {
	mu        sync.Mutex
	status    types.PatrolStatus
	settings  types.AutonomySettings
	history   []types.PatrolRunRecord
	approvals []types.Approval

	statusCalls    int
	triggerCalls   int
	updateCalls    int
	approvalsCalls int

	statusErr  error
	triggerErr error

	// updateFn, when set, overrides the default update behavior
	updateFn func(types.AutonomyUpdateRequest) (*types.AutonomySettings, error)
	// onTrigger runs inside TriggerRun, after the controller's bookkeeping
	onTrigger func()

	lastUpdate types.AutonomyUpdateRequest
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		status: types.PatrolStatus{Enabled: true},
		settings: types.AutonomySettings{
			AutonomyLevel:           types.AutonomyApproval,
			InvestigationBudget:     10,
			InvestigationTimeoutSec: 300,
		},
	}
}

func (f *fakeAPI) Status(ctx context.Context) (*types.PatrolStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	st := f.status
	return &st, nil
}

func (f *fakeAPI) AutonomySettings(ctx context.Context) (*types.AutonomySettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.settings
	return &s, nil
}

func (f *fakeAPI) UpdateAutonomySettings(ctx context.Context, req types.AutonomyUpdateRequest) (*types.AutonomySettings, error) {
	f.mu.Lock()
	f.updateCalls++
	f.lastUpdate = req
	fn := f.updateFn
	f.mu.Unlock()

	if fn != nil {
		return fn(req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.AutonomyLevel = req.AutonomyLevel
	if req.FullModeUnlocked != nil {
		f.settings.FullModeUnlocked = *req.FullModeUnlocked
	}
	f.settings.InvestigationBudget = req.InvestigationBudget
	f.settings.InvestigationTimeoutSec = req.InvestigationTimeoutSec
	s := f.settings
	return &s, nil
}

func (f *fakeAPI) TriggerRun(ctx context.Context) error {
	f.mu.Lock()
	f.triggerCalls++
	cb := f.onTrigger
	err := f.triggerErr
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
	return err
}

func (f *fakeAPI) RunHistory(ctx context.Context, limit int) ([]types.PatrolRunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.PatrolRunRecord(nil), f.history...), nil
}

func (f *fakeAPI) PendingApprovals(ctx context.Context) ([]types.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvalsCalls++
	return append([]types.Approval(nil), f.approvals...), nil
}

func (f *fakeAPI) triggers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggerCalls
}

func (f *fakeAPI) statuses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

func (f *fakeAPI) setRunning(running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.Running = running
}

func (f *fakeAPI) lastUpdateReq() types.AutonomyUpdateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUpdate
}

// fakeStream is a controllable activity projection.
type fakeStream struct {
	mu     sync.Mutex
	active bool
}

func (s *fakeStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *fakeStream) setActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

// testConfig uses long poll intervals so background timers never interfere
// with call-count assertions.
func testConfig() Config {
	return Config{
		FullInterval:      time.Hour,
		ApprovalsInterval: time.Hour,
		SafetyTimeout:     time.Hour,
		BlockedFreshness:  10 * time.Minute,
		HistoryLimit:      50,
	}
}
