package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/growkeeper/internal/schedule"
)

// ActiveResult is the output of the active command.
type ActiveResult struct {
	UnitID  string   `json:"unit_id"`
	At      string   `json:"at"`
	Devices []string `json:"devices"`
}

func newActiveCommand(opts *RootOptions) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "active <unit-id>",
		Short: "List the devices that should be on",
		Long: `List the devices of a unit whose schedule is active.

By default the current time is used. --at takes HH:MM (today, in the
configured time zone) or an RFC 3339 timestamp.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
				now, err := resolveAt(at, opts.now().In(a.svc.Location()))
				if err != nil {
					return out.Fail("active devices", err)
				}
				devices, err := a.svc.GetActiveDevices(ctx, args[0], now)
				if err != nil {
					return out.Fail("active devices", err)
				}
				result := ActiveResult{
					UnitID:  args[0],
					At:      schedule.MinuteOf(now.In(a.svc.Location())).String(),
					Devices: devices,
				}
				return out.Success(result, func(w io.Writer) {
					if len(devices) == 0 {
						fmt.Fprintf(w, "No devices active at %s\n", result.At)
						return
					}
					fmt.Fprintf(w, "Active at %s: %s\n", result.At, strings.Join(devices, ", "))
				})
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "time to evaluate (HH:MM or RFC 3339)")
	return cmd
}

// resolveAt turns the --at flag into a time; base supplies the date and
// time zone for HH:MM.
func resolveAt(at string, base time.Time) (time.Time, error) {
	if at == "" {
		return base, nil
	}
	if t, err := time.Parse(time.RFC3339, at); err == nil {
		return t, nil
	}
	m, err := schedule.ParseMinute(at)
	if err != nil {
		return time.Time{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid --at %q: want HH:MM or RFC 3339", at))
	}
	y, mo, d := base.Date()
	return time.Date(y, mo, d, int(m)/60, int(m)%60, 0, 0, base.Location()), nil
}
