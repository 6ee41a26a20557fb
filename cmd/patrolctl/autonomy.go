package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/patrolhq/patrolctl/internal/notify"
	"github.com/patrolhq/patrolctl/internal/patrol"
	"github.com/patrolhq/patrolctl/internal/types"
)

var (
	autonomyAutoFix bool
	autonomyBudget  int
	autonomyTimeout int
)

var autonomyCmd = &cobra.Command{
	Use:   "autonomy",
	Short: "Show or change the patrol autonomy policy",
}

var autonomyGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the current autonomy settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := apiClient().AutonomySettings(cmd.Context())
		if err != nil {
			return fmt.Errorf("fetching autonomy settings: %w", err)
		}
		printSettings(settings)
		return nil
	},
}

var autonomySetCmd = &cobra.Command{
	Use:   "set <monitor|approval|assisted>",
	Short: "Set the autonomy mode",
	Long: `Set the autonomy mode. When the auto-fix unlock is already in place,
selecting assisted resolves to the backend's full level; the server may still
downgrade it (e.g. when the required entitlement is missing) and its answer is
what sticks.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mode, err := types.ParseMode(args[0])
		if err != nil {
			return err
		}

		ctrl := patrol.New(controllerConfig(), apiClient(), nil, notify.NewCLI(os.Stderr))
		if err := ctrl.Reload(ctx); err != nil {
			return fmt.Errorf("fetching current settings: %w", err)
		}

		level := patrol.ResolveEffectiveLevel(mode, ctrl.Settings().FullModeUnlocked)
		if err := ctrl.ApplyLevelChange(ctx, level); err != nil {
			return err
		}

		applied := ctrl.Settings()
		printSettings(&applied)
		return nil
	},
}

var autonomySaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save advanced autonomy settings",
	Long: `Persist the auto-fix sub-toggle together with the investigation budget
and timeout. The effective level is re-derived from the toggle, and local
state adopts whatever the server returns.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ctrl := patrol.New(controllerConfig(), apiClient(), nil, notify.NewCLI(os.Stderr))
		if err := ctrl.Reload(ctx); err != nil {
			return fmt.Errorf("fetching current settings: %w", err)
		}

		current := ctrl.Settings()
		budget := autonomyBudget
		if budget == 0 {
			budget = current.InvestigationBudget
		}
		timeout := autonomyTimeout
		if timeout == 0 {
			timeout = current.InvestigationTimeoutSec
		}

		if err := ctrl.SaveAdvancedSettings(ctx, autonomyAutoFix, budget, timeout); err != nil {
			return err
		}

		applied := ctrl.Settings()
		printSettings(&applied)
		return nil
	},
}

func printSettings(s *types.AutonomySettings) {
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Printf("Level:   %s%s\n", levelLabel(s.AutonomyLevel), fullModeSuffix(s, gray))
	fmt.Printf("Budget:  %d turns\n", s.InvestigationBudget)
	fmt.Printf("Timeout: %ds\n", s.InvestigationTimeoutSec)
}

func init() {
	autonomySaveCmd.Flags().BoolVar(&autonomyAutoFix, "auto-fix", false, "unlock and enable full auto-fix for critical issues")
	autonomySaveCmd.Flags().IntVar(&autonomyBudget, "budget", 0, "max turns per investigation (5-30, 0 keeps current)")
	autonomySaveCmd.Flags().IntVar(&autonomyTimeout, "timeout", 0, "investigation timeout in seconds (0 keeps current)")

	autonomyCmd.AddCommand(autonomyGetCmd)
	autonomyCmd.AddCommand(autonomySetCmd)
	autonomyCmd.AddCommand(autonomySaveCmd)
}
