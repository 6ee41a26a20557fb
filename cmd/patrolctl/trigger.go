package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/patrolhq/patrolctl/internal/notify"
	"github.com/patrolhq/patrolctl/internal/patrol"
	"github.com/patrolhq/patrolctl/internal/stream"
)

var triggerNoWait bool

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Trigger a manual patrol run",
	Long: `Request a patrol run and wait for the event stream to confirm it
started. The trigger call is fire-and-acknowledge: acceptance does not mean a
run began, so confirmation is awaited up to the safety timeout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
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

		if err := ctrl.TriggerManualRun(ctx); err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		if triggerNoWait {
			fmt.Printf("%s Patrol run requested\n", green("✓"))
			return nil
		}

		phase, err := awaitConfirmation(ctx, ctrl.Phase, cfg.SafetyTimeout+2*time.Second, 200*time.Millisecond)
		if err != nil {
			return err
		}
		switch phase {
		case patrol.PhaseConfirmed:
			fmt.Printf("%s Patrol run started\n", green("✓"))
		case patrol.PhaseIdle:
			// Start and completion both landed between two polls; the run is
			// already over.
			fmt.Printf("%s Patrol run completed\n", green("✓"))
		case patrol.PhaseTimedOut:
			return fmt.Errorf("patrol run was accepted but never confirmed by the event stream")
		}
		return nil
	},
}

// awaitConfirmation polls the confirmation phase until the stream or the
// safety timer settles it. The guard itself enforces the deadline; the extra
// grace here only covers callback delivery. A return to PhaseIdle is terminal
// too: once the trigger was accepted, idle can only mean a complete or error
// event (or a patrol disable) already landed.
func awaitConfirmation(ctx context.Context, phase func() patrol.Phase, timeout, pollEvery time.Duration) (patrol.Phase, error) {
	deadline := time.After(timeout)
	tick := time.NewTicker(pollEvery)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return patrol.PhaseIdle, ctx.Err()
		case <-deadline:
			return patrol.PhaseIdle, fmt.Errorf("no confirmation within %s", timeout)
		case <-tick.C:
			switch p := phase(); p {
			case patrol.PhaseConfirmed, patrol.PhaseTimedOut, patrol.PhaseIdle:
				return p, nil
			}
		}
	}
}

func init() {
	triggerCmd.Flags().BoolVar(&triggerNoWait, "no-wait", false, "return immediately after the trigger is accepted")
}
