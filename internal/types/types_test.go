package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutonomyLevel_Valid(t *testing.T) {
	for _, l := range []AutonomyLevel{AutonomyMonitor, AutonomyApproval, AutonomyAssisted, AutonomyFull} {
		assert.True(t, l.Valid(), string(l))
	}
	assert.False(t, AutonomyLevel("").Valid())
	assert.False(t, AutonomyLevel("turbo").Valid())
}

func TestAutonomyLevel_RankOrdering(t *testing.T) {
	assert.Less(t, AutonomyMonitor.Rank(), AutonomyApproval.Rank())
	assert.Less(t, AutonomyApproval.Rank(), AutonomyAssisted.Rank())
	assert.Less(t, AutonomyAssisted.Rank(), AutonomyFull.Rank())
	assert.Less(t, AutonomyLevel("bogus").Rank(), AutonomyMonitor.Rank())
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "monitor", want: ModeMonitor},
		{in: "approval", want: ModeApproval},
		{in: "assisted", want: ModeAssisted},
		{in: "  Assisted ", want: ModeAssisted},
		{in: "MONITOR", want: ModeMonitor},
		{in: "full", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestPatrolRunRecord_Live(t *testing.T) {
	live := PatrolRunRecord{ID: LiveRunID}
	assert.True(t, live.Live())

	fetched := PatrolRunRecord{ID: "a1b2c3"}
	assert.False(t, fetched.Live())
}

func TestApproval_Expired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	past := Approval{ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, past.Expired(now))

	future := Approval{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, future.Expired(now))

	// A zero deadline means the approval never expires.
	var open Approval
	assert.False(t, open.Expired(now))
}
