// Package types holds the domain types shared between the patrol controller,
// the API client, and the CLI surface.
package types

import (
	"fmt"
	"strings"
	"time"
)

// AutonomyLevel is the backend autonomy policy enum, ordered by increasing
// automation.
type AutonomyLevel string

const (
	// AutonomyMonitor detects issues but takes no action
	AutonomyMonitor AutonomyLevel = "monitor"
	// AutonomyApproval investigates issues but requires approval for every action
	AutonomyApproval AutonomyLevel = "approval"
	// AutonomyAssisted auto-fixes behind an approval gate for risky actions
	AutonomyAssisted AutonomyLevel = "assisted"
	// AutonomyFull auto-fixes without an approval gate. Not directly selectable;
	// reached from assisted via the auto-fix sub-toggle.
	AutonomyFull AutonomyLevel = "full"
)

// Valid reports whether l is one of the four known levels.
func (l AutonomyLevel) Valid() bool {
	switch l {
	case AutonomyMonitor, AutonomyApproval, AutonomyAssisted, AutonomyFull:
		return true
	}
	return false
}

// Rank returns the level's position in the automation ordering
// (monitor=0 .. full=3). Unknown levels rank below monitor.
func (l AutonomyLevel) Rank() int {
	switch l {
	case AutonomyMonitor:
		return 0
	case AutonomyApproval:
		return 1
	case AutonomyAssisted:
		return 2
	case AutonomyFull:
		return 3
	}
	return -1
}

// Mode is the user-facing three-way autonomy selector. The backend's "full"
// level has no mode of its own; it highlights the assisted option.
type Mode string

const (
	ModeMonitor  Mode = "monitor"
	ModeApproval Mode = "approval"
	ModeAssisted Mode = "assisted"
)

// ParseMode validates a user-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMonitor:
		return ModeMonitor, nil
	case ModeApproval:
		return ModeApproval, nil
	case ModeAssisted:
		return ModeAssisted, nil
	}
	return "", fmt.Errorf("invalid mode %q: must be 'monitor', 'approval', or 'assisted'", s)
}

// PatrolStatus is the server's view of the patrol service.
type PatrolStatus struct {
	// Running indicates a patrol run is executing server-side
	Running bool `json:"running"`
	// Enabled indicates the patrol service is turned on
	Enabled bool `json:"enabled"`
	// LastPatrolAt is when the previous run finished (nil if never ran)
	LastPatrolAt *time.Time `json:"last_patrol_at,omitempty"`
	// NextPatrolAt is when the next scheduled run starts (nil if unscheduled)
	NextPatrolAt *time.Time `json:"next_patrol_at,omitempty"`
	// IntervalMs is the server-side patrol interval in milliseconds
	IntervalMs int64 `json:"interval_ms"`
	// LicenseRequired indicates patrol needs a license feature not present
	LicenseRequired bool `json:"license_required,omitempty"`
	// BlockedReason explains why runs cannot start right now, empty otherwise
	BlockedReason string `json:"blocked_reason,omitempty"`
	// BlockedAt is when the blocked condition was recorded
	BlockedAt *time.Time `json:"blocked_at,omitempty"`
}

// AutonomySettings is the persisted autonomy policy.
type AutonomySettings struct {
	AutonomyLevel           AutonomyLevel `json:"autonomy_level"`
	FullModeUnlocked        bool          `json:"full_mode_unlocked"`
	InvestigationBudget     int           `json:"investigation_budget"`
	InvestigationTimeoutSec int           `json:"investigation_timeout_sec"`
}

// AutonomyUpdateRequest updates the autonomy policy. FullModeUnlocked is a
// pointer so "not sent" (preserve existing) is distinct from "sent as false".
type AutonomyUpdateRequest struct {
	AutonomyLevel           AutonomyLevel `json:"autonomy_level"`
	FullModeUnlocked        *bool         `json:"full_mode_unlocked,omitempty"`
	InvestigationBudget     int           `json:"investigation_budget"`
	InvestigationTimeoutSec int           `json:"investigation_timeout_sec"`
}

// LiveRunID is the sentinel id of the synthesized in-progress run record. It
// exists only in memory and must never collide with a real run id.
const LiveRunID = "__live__"

// PatrolRunRecord is one historical patrol run. Immutable once fetched,
// except for the single synthesized live record identified by LiveRunID.
type PatrolRunRecord struct {
	ID               string    `json:"id"`
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
	DurationMs       int64     `json:"duration_ms"`
	TriggerReason    string    `json:"trigger_reason,omitempty"`
	ResourcesChecked int       `json:"resources_checked"`
	NewFindings      int       `json:"new_findings"`
	ExistingFindings int       `json:"existing_findings"`
	ResolvedFindings int       `json:"resolved_findings"`
	AutoFixCount     int       `json:"auto_fix_count,omitempty"`
	ErrorCount       int       `json:"error_count"`
	FindingsSummary  string    `json:"findings_summary"`
	// Status is "running", "healthy", "issues_found", or "error"
	Status       string `json:"status"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Live reports whether r is the synthesized in-progress placeholder.
func (r *PatrolRunRecord) Live() bool {
	return r.ID == LiveRunID
}

// Approval is a pending remediation approval. Approvals expire on an absolute
// deadline, which is why they are polled on a finer interval than full status.
type Approval struct {
	ID          string    `json:"id"`
	Command     string    `json:"command"`
	TargetType  string    `json:"targetType"`
	TargetID    string    `json:"targetId"`
	TargetName  string    `json:"targetName"`
	Context     string    `json:"context"`
	RiskLevel   string    `json:"riskLevel"`
	Status      string    `json:"status"`
	RequestedAt time.Time `json:"requestedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the approval's decision window has passed.
func (a *Approval) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}
