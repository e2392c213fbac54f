package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/growkeeper/internal/monitor"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Interval time.Duration
}

// newWatchCommand creates the watch command.
func newWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the integrity probe and device sweep on their schedules",
		Long: `Keep the store open and run the periodic jobs until interrupted.

The integrity probe runs on monitor.integrity_schedule and recovers a
corrupt store in place. The device sweep runs on monitor.sweep_schedule
and prints a line whenever a device switches on or off.

Example:
  growkeeper watch --db ./data/grow.db
  GROWKEEPER_MONITOR_SWEEP_SCHEDULE="@every 30s" growkeeper watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts.RootOptions, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
				return runWatch(ctx, opts, a, out, cmd)
			})
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 10*time.Second, "how often to check for due jobs")

	return cmd
}

func runWatch(parentCtx context.Context, opts *WatchOptions, a *app, out *OutputFormatter, cmd *cobra.Command) error {
	if err := a.guard.Open(parentCtx); err != nil {
		return out.Fail("open store", err)
	}

	w := cmd.OutOrStdout()
	mon, err := monitor.New(a.guard, a.svc,
		monitor.Config{
			IntegritySchedule: a.cfg.Monitor.IntegritySchedule,
			SweepSchedule:     a.cfg.Monitor.SweepSchedule,
		},
		monitor.WithClock(opts.now),
		monitor.WithLocation(a.loc),
		monitor.WithInterval(opts.Interval),
		monitor.WithLogger(a.log),
		monitor.OnTransition(func(tr monitor.Transition) {
			if opts.Format == "json" {
				_ = json.NewEncoder(w).Encode(tr)
				return
			}
			state := "off"
			if tr.Active {
				state = "on"
			}
			fmt.Fprintf(w, "%s %s %s %s\n", tr.At.Format(time.RFC3339), tr.UnitName, tr.DeviceType, state)
		}),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid monitor schedule", err)
	}

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			a.log.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	// Report the current state before waiting for the first tick.
	if a.cfg.Monitor.SweepSchedule != "" {
		if err := mon.RunNow(ctx, monitor.JobSweep); err != nil {
			a.log.Warn("initial sweep failed", zap.Error(err))
		}
	}

	a.log.Info("watching store", zap.String("path", a.guard.Path()))
	if err := mon.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "monitor error", err)
	}
	a.log.Info("watch stopped")
	return nil
}
