package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/growkeeper/internal/schedule"
	"github.com/roach88/growkeeper/internal/settings"
)

// ScheduleList is the output of schedule list.
type ScheduleList struct {
	UnitID      string                      `json:"unit_id"`
	Schedules   []schedule.DeviceSchedule   `json:"schedules"`
	LegacyLight *settings.LegacyLightWindow `json:"legacy_light,omitempty"`
}

func newScheduleCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage per-device on/off schedules",
	}

	var start, end string
	var disabled bool
	set := &cobra.Command{
		Use:   "set <unit-id> <device-type>",
		Short: "Create or replace a device schedule",
		Long: `Create or replace the daily on/off window of a device.

Times are HH:MM in the configured time zone. A window whose end is before
its start crosses midnight; a window whose start equals its end is never
active.

Example:
  growkeeper schedule set 0193a0c2-... light --start 18:00 --end 06:00`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
				s, err := parseWindow(start, end)
				if err != nil {
					return out.Fail("set schedule", err)
				}
				s.Enabled = !disabled
				if err := a.svc.SetDeviceSchedule(ctx, args[0], args[1], s); err != nil {
					return out.Fail("set schedule", err)
				}
				dt, _ := schedule.NormalizeDeviceType(args[1])
				s.DeviceType = dt
				return out.Success(s, func(w io.Writer) {
					fmt.Fprintf(w, "Scheduled %s %s-%s%s\n", dt, s.Start, s.End, disabledSuffix(s.Enabled))
				})
			})
		},
	}
	set.Flags().StringVar(&start, "start", "", "switch-on time, HH:MM (required)")
	set.Flags().StringVar(&end, "end", "", "switch-off time, HH:MM (required)")
	set.Flags().BoolVar(&disabled, "disabled", false, "store the schedule but keep the device off")
	_ = set.MarkFlagRequired("start")
	_ = set.MarkFlagRequired("end")

	cmd.AddCommand(
		set,
		&cobra.Command{
			Use:   "delete <unit-id> <device-type>",
			Short: "Remove a device schedule",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(opts, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
					if err := a.svc.DeleteDeviceSchedule(ctx, args[0], args[1]); err != nil {
						return out.Fail("delete schedule", err)
					}
					return out.Success(map[string]string{"unit_id": args[0], "deleted": args[1]}, func(w io.Writer) {
						fmt.Fprintf(w, "Deleted %s schedule\n", args[1])
					})
				})
			},
		},
		&cobra.Command{
			Use:   "list <unit-id>",
			Short: "List a unit's device schedules",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(opts, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
					return runScheduleList(ctx, a, out, args[0])
				})
			},
		},
	)
	return cmd
}

func runScheduleList(ctx context.Context, a *app, out *OutputFormatter, unitID string) error {
	us, err := a.svc.GetUnitSettings(ctx, unitID)
	if err != nil {
		return out.Fail("list schedules", err)
	}

	result := ScheduleList{UnitID: unitID, Schedules: []schedule.DeviceSchedule{}, LegacyLight: us.LegacyLight}
	for _, s := range us.Schedules {
		result.Schedules = append(result.Schedules, s)
	}
	sort.Slice(result.Schedules, func(i, j int) bool {
		return result.Schedules[i].DeviceType < result.Schedules[j].DeviceType
	})

	return out.Success(result, func(w io.Writer) {
		if len(result.Schedules) == 0 {
			fmt.Fprintln(w, "No schedules")
			return
		}
		tw := newTable(w)
		fmt.Fprintln(tw, "DEVICE\tON\tOFF\tENABLED")
		for _, s := range result.Schedules {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", s.DeviceType, s.Start, s.End, s.Enabled)
		}
		tw.Flush()
	})
}

func parseWindow(start, end string) (schedule.DeviceSchedule, error) {
	s, err := schedule.ParseMinute(start)
	if err != nil {
		return schedule.DeviceSchedule{}, fmt.Errorf("--start: %w", err)
	}
	e, err := schedule.ParseMinute(end)
	if err != nil {
		return schedule.DeviceSchedule{}, fmt.Errorf("--end: %w", err)
	}
	return schedule.DeviceSchedule{Start: s, End: e}, nil
}

func disabledSuffix(enabled bool) string {
	if enabled {
		return ""
	}
	return " (disabled)"
}
