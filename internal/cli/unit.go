package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newUnitCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unit",
		Short: "Create, list and delete grow units",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <name>",
			Short: "Create a unit with default thresholds",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(opts, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
					u, err := a.svc.CreateUnit(ctx, args[0])
					if err != nil {
						return out.Fail("create unit", err)
					}
					return out.Success(u, func(w io.Writer) {
						fmt.Fprintf(w, "Created unit %s (%s)\n", u.ID, u.Name)
					})
				})
			},
		},
		&cobra.Command{
			Use:   "delete <unit-id>",
			Short: "Delete a unit with its settings and schedules",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(opts, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
					if err := a.svc.DeleteUnit(ctx, args[0]); err != nil {
						return out.Fail("delete unit", err)
					}
					return out.Success(map[string]string{"deleted": args[0]}, func(w io.Writer) {
						fmt.Fprintf(w, "Deleted unit %s\n", args[0])
					})
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List units, oldest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(opts, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
					units, err := a.svc.ListUnits(ctx)
					if err != nil {
						return out.Fail("list units", err)
					}
					return out.Success(units, func(w io.Writer) {
						if len(units) == 0 {
							fmt.Fprintln(w, "No units")
							return
						}
						tw := newTable(w)
						fmt.Fprintln(tw, "ID\tNAME\tCREATED")
						for _, u := range units {
							fmt.Fprintf(tw, "%s\t%s\t%s\n", u.ID, u.Name, u.CreatedAt.UTC().Format(time.RFC3339))
						}
						tw.Flush()
					})
				})
			},
		},
	)
	return cmd
}
