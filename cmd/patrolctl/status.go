package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/patrolhq/patrolctl/internal/patrol"
	"github.com/patrolhq/patrolctl/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show patrol status and autonomy policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		api := apiClient()

		st, err := api.Status(ctx)
		if err != nil {
			return fmt.Errorf("fetching patrol status: %w", err)
		}
		settings, err := api.AutonomySettings(ctx)
		if err != nil {
			return fmt.Errorf("fetching autonomy settings: %w", err)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Patrol Status ==="))

		if !st.Enabled {
			fmt.Printf("  %s Patrol is disabled\n", gray("○"))
		} else if st.Running {
			fmt.Printf("  %s Run in progress\n", green("●"))
		} else {
			fmt.Printf("  %s Idle\n", green("○"))
		}

		if reason := strings.TrimSpace(st.BlockedReason); st.Enabled && reason != "" {
			fmt.Printf("  %s Blocked: %s\n", red("✗"), reason)
		}
		if st.LicenseRequired {
			fmt.Printf("  %s License feature required\n", yellow("!"))
		}
		if st.LastPatrolAt != nil {
			fmt.Printf("  Last run:  %s (%s ago)\n", st.LastPatrolAt.Format(time.RFC3339),
				time.Since(*st.LastPatrolAt).Round(time.Second))
		}
		if st.NextPatrolAt != nil {
			fmt.Printf("  Next run:  %s\n", st.NextPatrolAt.Format(time.RFC3339))
		}
		if st.IntervalMs > 0 {
			fmt.Printf("  Interval:  %s\n", time.Duration(st.IntervalMs)*time.Millisecond)
		}

		fmt.Printf("\n%s\n\n", cyan("=== Autonomy Policy ==="))
		fmt.Printf("  Level:     %s%s\n", levelLabel(settings.AutonomyLevel),
			fullModeSuffix(settings, gray))
		fmt.Printf("  Budget:    %d turns per investigation\n", settings.InvestigationBudget)
		fmt.Printf("  Timeout:   %ds per investigation\n", settings.InvestigationTimeoutSec)
		fmt.Println()
		return nil
	},
}

func levelLabel(level types.AutonomyLevel) string {
	switch level {
	case types.AutonomyFull:
		return color.New(color.FgRed, color.Bold).Sprint(string(level))
	case types.AutonomyAssisted:
		return color.New(color.FgYellow).Sprint(string(level))
	default:
		return string(level)
	}
}

func fullModeSuffix(settings *types.AutonomySettings, gray func(a ...interface{}) string) string {
	if !patrol.FullModeToggleEnabled(settings.AutonomyLevel) {
		return ""
	}
	if settings.FullModeUnlocked {
		return gray(" (auto-fix critical unlocked)")
	}
	return gray(" (auto-fix critical locked)")
}
