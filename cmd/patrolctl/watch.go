package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/patrolhq/patrolctl/internal/notify"
	"github.com/patrolhq/patrolctl/internal/patrol"
	"github.com/patrolhq/patrolctl/internal/stream"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow patrol activity live",
	Long: `Keep a live view of patrol state: run progress from the event stream,
periodic status refreshes, and pending approvals. Suspending the process
(Ctrl-Z) pauses polling; resuming refreshes immediately and re-arms it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		api := apiClient()
		consumer := stream.New(streamConfig())
		ctrl := patrol.New(controllerConfig(), api, consumer, notify.NewCLI(os.Stderr))
		consumer.SetHandlers(ctrl.Handlers())

		if err := consumer.Start(ctx); err != nil {
			return err
		}
		defer consumer.Close()

		if err := ctrl.Start(ctx); err != nil {
			return err
		}
		defer ctrl.Close()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return watchSuspension(gctx, ctrl) })
		g.Go(func() error { return renderLoop(gctx, ctrl) })

		err := g.Wait()
		if err == context.Canceled {
			return nil
		}
		return err
	},
}

// watchSuspension maps terminal job control onto controller visibility:
// SIGTSTP hides (polling stops, then the process actually suspends), SIGCONT
// shows again (one immediate refresh, then polling resumes).
func watchSuspension(ctx context.Context, ctrl *patrol.Controller) error {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTSTP, syscall.SIGCONT)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGTSTP:
				ctrl.SetVisible(false)
				syscall.Kill(syscall.Getpid(), syscall.SIGSTOP)
			case syscall.SIGCONT:
				ctrl.SetVisible(true)
			}
		}
	}
}

func renderLoop(ctx context.Context, ctrl *patrol.Controller) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return ctx.Err()
		case <-ticker.C:
			fmt.Printf("\r\033[K%s", renderStatusLine(ctrl))
		}
	}
}

func renderStatusLine(ctrl *patrol.Controller) string {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	var parts []string
	st := ctrl.Status()
	switch {
	case !st.Enabled:
		parts = append(parts, gray("patrol disabled"))
	case ctrl.RunInProgress():
		parts = append(parts, green("● run in progress"))
		if p := ctrl.Progress(); p.Phase != "" {
			detail := p.Phase
			if p.CurrentTool != "" {
				detail += " · " + p.CurrentTool
			}
			if p.TokenCount > 0 {
				detail += fmt.Sprintf(" · %d tokens", p.TokenCount)
			}
			parts = append(parts, gray(detail))
		}
	default:
		parts = append(parts, "idle")
		if st.NextPatrolAt != nil {
			parts = append(parts, gray("next "+time.Until(*st.NextPatrolAt).Round(time.Second).String()))
		}
	}

	if reason := ctrl.BlockedReason(); reason != "" {
		parts = append(parts, yellow("blocked: "+reason))
	}
	if n := len(ctrl.PendingApprovals()); n > 0 {
		parts = append(parts, yellow(fmt.Sprintf("%d approval(s) pending", n)))
	}
	return strings.Join(parts, "  ")
}
