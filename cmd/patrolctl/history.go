package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/patrolhq/patrolctl/internal/notify"
	"github.com/patrolhq/patrolctl/internal/patrol"
	"github.com/patrolhq/patrolctl/internal/types"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show patrol run history",
	Long: `List recent patrol runs, most recent first. A run currently in
progress shows as a live row at the top.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ctrlCfg := controllerConfig()
		if historyLimit > 0 {
			ctrlCfg.HistoryLimit = historyLimit
		}
		ctrl := patrol.New(ctrlCfg, apiClient(), nil, notify.NewCLI(nil))
		if err := ctrl.Reload(ctx); err != nil {
			return fmt.Errorf("fetching run history: %w", err)
		}

		runs := ctrl.DisplayedHistory()
		if len(runs) == 0 {
			fmt.Println("No patrol runs recorded")
			return nil
		}
		for _, run := range runs {
			fmt.Println(formatRunRow(run))
		}
		return nil
	},
}

func formatRunRow(run types.PatrolRunRecord) string {
	started := run.StartedAt.Format("2006-01-02 15:04:05")
	if run.Live() {
		yellow := color.New(color.FgYellow).SprintFunc()
		return fmt.Sprintf("%s  %s", started, yellow("● running"))
	}

	statusIcon := statusMarker(run.Status)
	duration := time.Duration(run.DurationMs) * time.Millisecond
	summary := run.FindingsSummary
	if summary == "" {
		summary = fmt.Sprintf("%d new, %d resolved findings", run.NewFindings, run.ResolvedFindings)
	}
	row := fmt.Sprintf("%s  %s %-12s %8s  %s", started, statusIcon, run.Status, duration.Round(time.Second), summary)
	if run.TriggerReason != "" {
		gray := color.New(color.FgHiBlack).SprintFunc()
		row += gray(fmt.Sprintf(" [%s]", run.TriggerReason))
	}
	return row
}

func statusMarker(status string) string {
	switch status {
	case "healthy":
		return color.New(color.FgGreen).Sprint("●")
	case "issues_found":
		return color.New(color.FgYellow).Sprint("●")
	case "error":
		return color.New(color.FgRed).Sprint("●")
	}
	return color.New(color.FgHiBlack).Sprint("○")
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "max runs to fetch (0 uses the configured default)")
}
