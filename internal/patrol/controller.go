// Package patrol reconciles the patrol run lifecycle: an optimistic manual
// trigger, the lifecycle stream, a safety-timeout fallback, and periodic
// polling converge on one consistent view of "is a run happening" and which
// autonomy policy is in force. The backend is the single source of truth;
// every local value is provisional until the next authoritative response.
package patrol

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/patrolhq/patrolctl/internal/notify"
	"github.com/patrolhq/patrolctl/internal/stream"
	"github.com/patrolhq/patrolctl/internal/types"
)

var (
	// ErrTriggerInFlight means a trigger request is already outstanding
	ErrTriggerInFlight = errors.New("a trigger request is already in flight")
	// ErrRunOutstanding means a manual run is awaiting confirmation
	ErrRunOutstanding = errors.New("a manual run is already outstanding")
	// ErrRunStreaming means the stream is already delivering run events
	ErrRunStreaming = errors.New("a patrol run is already streaming")
	// ErrPatrolDisabled means the patrol service is turned off
	ErrPatrolDisabled = errors.New("patrol is disabled")
	// ErrPatrolBlocked means the server reported a fresh blocked reason
	ErrPatrolBlocked = errors.New("patrol is blocked")
	// ErrUpdateInFlight means an autonomy update is already outstanding
	ErrUpdateInFlight = errors.New("an autonomy update is already in flight")
)

// Phase tracks the manual-run confirmation handshake. Whichever of stream
// event, safety timer, or trigger failure arrives first drives the
// transition out of PhaseAwaiting.
type Phase int

const (
	// PhaseIdle means no manual run is outstanding
	PhaseIdle Phase = iota
	// PhaseAwaiting means a trigger was accepted and no stream event has arrived yet
	PhaseAwaiting
	// PhaseConfirmed means the stream confirmed the run started
	PhaseConfirmed
	// PhaseTimedOut means the safety timer fired before any confirmation
	PhaseTimedOut
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaiting:
		return "awaiting_confirmation"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseTimedOut:
		return "timed_out"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// API is the REST surface the controller reconciles against.
type API interface {
	Status(ctx context.Context) (*types.PatrolStatus, error)
	AutonomySettings(ctx context.Context) (*types.AutonomySettings, error)
	UpdateAutonomySettings(ctx context.Context, req types.AutonomyUpdateRequest) (*types.AutonomySettings, error)
	TriggerRun(ctx context.Context) error
	RunHistory(ctx context.Context, limit int) ([]types.PatrolRunRecord, error)
	PendingApprovals(ctx context.Context) ([]types.Approval, error)
}

// ActiveReporter is the live-stream activity projection the controller polls.
type ActiveReporter interface {
	Active() bool
}

// Config holds controller timing knobs.
type Config struct {
	// FullInterval drives the coarse full-refresh poll
	FullInterval time.Duration
	// ApprovalsInterval drives the fine pending-approvals poll. Approvals
	// carry a short absolute expiry, so they refresh more often than status.
	ApprovalsInterval time.Duration
	// SafetyTimeout bounds how long a manual run may await stream confirmation
	SafetyTimeout time.Duration
	// BlockedFreshness is how long a server-reported blocked reason is honored
	BlockedFreshness time.Duration
	// HistoryLimit caps fetched run history length
	HistoryLimit int
}

// DefaultConfig returns controller defaults.
func DefaultConfig() Config {
	return Config{
		FullInterval:      30 * time.Second,
		ApprovalsInterval: 5 * time.Second,
		SafetyTimeout:     15 * time.Second,
		BlockedFreshness:  10 * time.Minute,
		HistoryLimit:      50,
	}
}

// Progress is the latest progress frame from the stream.
type Progress struct {
	Phase       string
	CurrentTool string
	TokenCount  int
}

// Controller owns the patrol page state. All state is in-memory and scoped to
// this controller's lifetime; nothing is persisted or shared.
type Controller struct {
	cfg      Config
	api      API
	stream   ActiveReporter
	notifier notify.Notifier
	guard    safetyGuard
	sched    *pollScheduler
	reloads  *rate.Limiter

	mu         sync.Mutex
	status     types.PatrolStatus
	settings   types.AutonomySettings
	history    []types.PatrolRunRecord
	approvals  []types.Approval
	manualRun  bool
	triggering bool
	updating   bool
	phase      Phase
	progress   Progress
	// liveStartedAt is set on the first false→true edge of RunInProgress and
	// held stable until the true→false edge, so a run in progress shows one
	// start time even as the underlying signals fluctuate.
	liveStartedAt time.Time
	visible       bool
	ctx           context.Context
	cancel        context.CancelFunc

	now func() time.Time
}

// New creates a controller. stream may be nil for surfaces that never watch
// live runs (one-shot CLI commands); notifier may be nil to discard messages.
func New(cfg Config, api API, streamer ActiveReporter, notifier notify.Notifier) *Controller {
	def := DefaultConfig()
	if cfg.FullInterval <= 0 {
		cfg.FullInterval = def.FullInterval
	}
	if cfg.ApprovalsInterval <= 0 {
		cfg.ApprovalsInterval = def.ApprovalsInterval
	}
	if cfg.SafetyTimeout <= 0 {
		cfg.SafetyTimeout = def.SafetyTimeout
	}
	if cfg.BlockedFreshness <= 0 {
		cfg.BlockedFreshness = def.BlockedFreshness
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}

	c := &Controller{
		cfg:      cfg,
		api:      api,
		stream:   streamer,
		notifier: notifier,
		reloads:  rate.NewLimiter(rate.Every(time.Second), 2),
		visible:  true,
		now:      time.Now,
	}
	c.sched = newPollScheduler(cfg.FullInterval, cfg.ApprovalsInterval, c.pollFull, c.pollApprovals)
	return c
}

// Start performs the initial reload and begins the poll timers. A failed
// initial reload is surfaced as a warning rather than an error; the pollers
// retry until the server becomes reachable.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("controller already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.ctx = runCtx
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.Reload(runCtx); err != nil {
		c.notifier.Warn(fmt.Sprintf("Initial patrol refresh failed, retrying in background: %v", err))
	}
	c.sched.Start()
	return nil
}

// Close tears down timers and background work. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.ctx = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.sched.Stop()
	c.guard.Disarm()
}

// SetVisible suspends polling while the surface is hidden and resumes when it
// is shown again. Resume performs one immediate reload before re-arming the
// timers: the intervals elapsed while hidden and the view may be stale by an
// unbounded amount.
func (c *Controller) SetVisible(visible bool) {
	c.mu.Lock()
	if c.visible == visible {
		c.mu.Unlock()
		return
	}
	c.visible = visible
	ctx := c.ctx
	c.mu.Unlock()

	if !visible {
		c.sched.Stop()
		return
	}
	if ctx == nil {
		// Not started (or already closed); nothing to resume.
		return
	}
	if err := c.Reload(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "patrol: resume refresh failed: %v\n", err)
	}
	c.sched.Start()
}

// Reload fetches server truth (status, autonomy settings, run history,
// pending approvals) and reconciles local state against it. Partial results
// are applied even when some fetches fail.
func (c *Controller) Reload(ctx context.Context) error {
	st, stErr := c.api.Status(ctx)
	se, seErr := c.api.AutonomySettings(ctx)
	runs, runsErr := c.api.RunHistory(ctx, c.cfg.HistoryLimit)
	approvals, apprErr := c.api.PendingApprovals(ctx)

	c.mu.Lock()
	if st != nil {
		c.applyStatusLocked(*st)
	}
	if se != nil {
		// Server truth overwrites any optimistic autonomy guess.
		if !c.updating {
			c.settings = *se
		}
	}
	if runs != nil {
		sort.Slice(runs, func(i, j int) bool {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		})
		c.history = runs
	}
	if approvals != nil {
		c.approvals = approvals
	}
	c.recomputeLocked()
	c.mu.Unlock()

	return errors.Join(stErr, seErr, runsErr, apprErr)
}

// applyStatusLocked adopts the server status. Discovering that patrol has
// been disabled clears any outstanding optimistic run state; turning patrol
// off mid-run must not leave a dangling "running" view.
func (c *Controller) applyStatusLocked(st types.PatrolStatus) {
	c.status = st
	if !st.Enabled {
		c.manualRun = false
		c.phase = PhaseIdle
		c.guard.Disarm()
	}
}

// SetPatrolEnabled is the local echo of the patrol on/off switch. Disabling
// clears the manual-run flag and disarms the safety timer.
func (c *Controller) SetPatrolEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status
	st.Enabled = enabled
	c.applyStatusLocked(st)
	c.recomputeLocked()
}

// RunInProgress combines three independent signals: the server-reported run
// status, the optimistic manual-run flag, and live-stream activity. No single
// signal is authoritative alone; each can lag or fail independently.
func (c *Controller) RunInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recomputeLocked()
	return c.runInProgressLocked()
}

func (c *Controller) runInProgressLocked() bool {
	return c.status.Enabled && (c.status.Running || c.manualRun || c.streamActive())
}

func (c *Controller) streamActive() bool {
	return c.stream != nil && c.stream.Active()
}

// recomputeLocked refreshes the derived live-run start timestamp on the
// RunInProgress edges: set once when a run first becomes visible, cleared
// exactly when it stops being visible.
func (c *Controller) recomputeLocked() {
	if c.runInProgressLocked() {
		if c.liveStartedAt.IsZero() {
			c.liveStartedAt = c.now()
		}
	} else {
		c.liveStartedAt = time.Time{}
		c.progress = Progress{}
	}
}

// CanTrigger reports whether a new manual run may be requested.
func (c *Controller) CanTrigger() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canTriggerLocked()
}

func (c *Controller) canTriggerLocked() bool {
	return c.status.Enabled && !c.blockedLocked()
}

// blockedLocked reports whether the blocked banner is showing: patrol is
// enabled and the server reported a non-blank reason that is still fresh.
// A reason whose blocked_at has aged past the freshness window is stale
// server state, not a live block.
func (c *Controller) blockedLocked() bool {
	if !c.status.Enabled {
		return false
	}
	if strings.TrimSpace(c.status.BlockedReason) == "" {
		return false
	}
	if c.status.BlockedAt != nil && c.now().Sub(*c.status.BlockedAt) > c.cfg.BlockedFreshness {
		return false
	}
	return true
}

// BlockedReason returns the trimmed blocked reason when the banner is
// showing, empty otherwise.
func (c *Controller) BlockedReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.blockedLocked() {
		return ""
	}
	return strings.TrimSpace(c.status.BlockedReason)
}

// TriggerManualRun requests a patrol run. The manual-run flag and the safety
// timer are both in place before the network call leaves, so a stream event
// arriving in the same instant cannot race ahead of our own bookkeeping.
func (c *Controller) TriggerManualRun(ctx context.Context) error {
	c.mu.Lock()
	if c.triggering {
		c.mu.Unlock()
		return ErrTriggerInFlight
	}
	if !c.status.Enabled {
		c.mu.Unlock()
		return ErrPatrolDisabled
	}
	if c.blockedLocked() {
		reason := strings.TrimSpace(c.status.BlockedReason)
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPatrolBlocked, reason)
	}
	if c.manualRun {
		c.mu.Unlock()
		return ErrRunOutstanding
	}
	if c.streamActive() {
		c.mu.Unlock()
		return ErrRunStreaming
	}
	c.triggering = true
	c.manualRun = true
	c.phase = PhaseAwaiting
	c.recomputeLocked()
	c.mu.Unlock()

	c.guard.Arm(c.cfg.SafetyTimeout, c.onGuardFire)

	defer func() {
		c.mu.Lock()
		c.triggering = false
		c.mu.Unlock()
	}()

	if err := c.api.TriggerRun(ctx); err != nil {
		c.mu.Lock()
		c.manualRun = false
		c.phase = PhaseIdle
		c.recomputeLocked()
		c.mu.Unlock()
		c.guard.Disarm()
		c.notifier.Error(fmt.Sprintf("Failed to start patrol run: %v", err))
		return fmt.Errorf("triggering patrol run: %w", err)
	}

	if err := c.Reload(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "patrol: post-trigger refresh failed: %v\n", err)
	}
	return nil
}

// onGuardFire is the safety-timeout callback. Conditions are re-checked at
// fire time: if the stream confirmed in the meantime, or the flag was cleared
// by another path, the fire is a silent no-op. Confirmation always wins over
// the timer.
func (c *Controller) onGuardFire() {
	c.mu.Lock()
	if !c.manualRun || c.streamActive() {
		c.mu.Unlock()
		return
	}
	c.manualRun = false
	c.phase = PhaseTimedOut
	c.recomputeLocked()
	c.mu.Unlock()

	c.notifier.Error("Patrol run connection timed out: the run was accepted but never confirmed by the event stream")
	c.forceReload()
}

// HandleStreamStart is the stream-start confirmation path.
func (c *Controller) HandleStreamStart(ev stream.Event) {
	c.mu.Lock()
	c.manualRun = false
	if c.phase == PhaseAwaiting {
		c.phase = PhaseConfirmed
	}
	c.recomputeLocked()
	c.mu.Unlock()
	c.guard.Disarm()
}

// HandleStreamProgress records the latest progress frame for display.
func (c *Controller) HandleStreamProgress(ev stream.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = Progress{Phase: ev.Phase, CurrentTool: ev.CurrentTool, TokenCount: ev.TokenCount}
}

// HandleStreamComplete confirms the run ended; reload picks up the
// authoritative post-run status and history.
func (c *Controller) HandleStreamComplete(ev stream.Event) {
	c.finishRun()
}

// HandleStreamError confirms the run ended in error. Beyond clearing the
// optimistic flag and resyncing, run errors are the stream's own concern.
func (c *Controller) HandleStreamError(ev stream.Event) {
	c.finishRun()
}

func (c *Controller) finishRun() {
	c.mu.Lock()
	c.manualRun = false
	c.phase = PhaseIdle
	c.recomputeLocked()
	c.mu.Unlock()
	c.guard.Disarm()
	c.forceReload()
}

// Handlers bundles the controller's stream entry points for wiring into a
// stream consumer.
func (c *Controller) Handlers() stream.Handlers {
	return stream.Handlers{
		OnStart:    c.HandleStreamStart,
		OnProgress: c.HandleStreamProgress,
		OnComplete: c.HandleStreamComplete,
		OnError:    c.HandleStreamError,
	}
}

// forceReload resynchronizes from server truth in the background. Rate
// limited: several confirmation paths can converge in the same instant and
// must not stampede the API. A throttled reload is deferred behind the
// limiter, not dropped; the timeout and completion paths rely on the resync
// actually happening.
func (c *Controller) forceReload() {
	ctx := c.context()
	if ctx == nil {
		return
	}
	go func() {
		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := c.reloads.Wait(rctx); err != nil {
			return
		}
		if err := c.Reload(rctx); err != nil {
			fmt.Fprintf(os.Stderr, "patrol: forced refresh failed: %v\n", err)
		}
	}()
}

func (c *Controller) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *Controller) pollFull() {
	ctx := c.context()
	if ctx == nil {
		return
	}
	if err := c.Reload(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "patrol: periodic refresh failed: %v\n", err)
	}
}

func (c *Controller) pollApprovals() {
	ctx := c.context()
	if ctx == nil {
		return
	}
	approvals, err := c.api.PendingApprovals(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "patrol: approvals refresh failed: %v\n", err)
		return
	}
	c.mu.Lock()
	c.approvals = approvals
	c.mu.Unlock()
}

// Status returns the last server-reported patrol status.
func (c *Controller) Status() types.PatrolStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Settings returns the current autonomy settings (optimistic values included).
func (c *Controller) Settings() types.AutonomySettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// PendingApprovals returns unexpired approvals awaiting a decision.
func (c *Controller) PendingApprovals() []types.Approval {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make([]types.Approval, 0, len(c.approvals))
	for _, a := range c.approvals {
		if !a.Expired(now) {
			out = append(out, a)
		}
	}
	return out
}

// Phase returns the manual-run confirmation phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Progress returns the latest stream progress frame.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// ManualRunRequested reports whether an optimistic manual run is outstanding.
func (c *Controller) ManualRunRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manualRun
}

// GuardArmed reports whether the safety timer is pending.
func (c *Controller) GuardArmed() bool {
	return c.guard.Armed()
}

// TimersRunning reports how many poll timers are live (0 or 2).
func (c *Controller) TimersRunning() int {
	return c.sched.Running()
}
