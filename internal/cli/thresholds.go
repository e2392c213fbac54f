package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/growkeeper/internal/threshold"
)

// ThresholdsResult is the output of thresholds set.
type ThresholdsResult struct {
	UnitID      string                 `json:"unit_id"`
	Thresholds  threshold.Set          `json:"thresholds"`
	Corrections []threshold.Correction `json:"corrections"`
}

// RangeRow is one row of thresholds ranges.
type RangeRow struct {
	Name string `json:"field"`
	threshold.Field
}

func newThresholdsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "Read and write unit thresholds",
	}

	var fromJSON string
	set := &cobra.Command{
		Use:   "set <unit-id> [field=value ...]",
		Short: "Change thresholds; values outside their range are clamped",
		Long: `Change thresholds of a unit.

Fields not named keep their current value. With --json the given object
replaces the whole set and missing fields fall back to their defaults.
Out-of-range values are clamped and unreadable values replaced by the
default; every such correction is reported.

Example:
  growkeeper thresholds set 0193a0c2-... temperature=26 humidity=55
  growkeeper thresholds set 0193a0c2-... --json '{"co2": 800}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
				return runThresholdsSet(ctx, a, out, args[0], args[1:], fromJSON)
			})
		},
	}
	set.Flags().StringVar(&fromJSON, "json", "", "replace the whole set with this JSON object")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <unit-id>",
			Short: "Show a unit's thresholds",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(opts, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
					s, err := a.svc.GetThresholds(ctx, args[0])
					if err != nil {
						return out.Fail("get thresholds", err)
					}
					return out.Success(s, func(w io.Writer) {
						writeThresholds(w, a.svc.Table(), s)
					})
				})
			},
		},
		set,
		&cobra.Command{
			Use:   "ranges",
			Short: "Show the declared threshold ranges",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runThresholdsRanges(newFormatter(opts, cmd), threshold.DefaultTable())
			},
		},
	)
	return cmd
}

func runThresholdsSet(ctx context.Context, a *app, out *OutputFormatter, unitID string, pairs []string, fromJSON string) error {
	var raw threshold.Raw
	switch {
	case fromJSON != "" && len(pairs) > 0:
		return out.Fail("set thresholds", NewExitError(ExitCommandError, "use either --json or field=value pairs"))
	case fromJSON != "":
		var err error
		raw, err = threshold.ParseRaw([]byte(fromJSON))
		if err != nil {
			return out.Fail("set thresholds", WrapExitError(ExitCommandError, "invalid --json", err))
		}
	case len(pairs) == 0:
		return out.Fail("set thresholds", NewExitError(ExitCommandError, "nothing to set"))
	default:
		current, err := a.svc.GetThresholds(ctx, unitID)
		if err != nil {
			return out.Fail("set thresholds", err)
		}
		raw = current.AsRaw()
		for _, pair := range pairs {
			field, value, ok := strings.Cut(pair, "=")
			if !ok || field == "" {
				return out.Fail("set thresholds", NewExitError(ExitCommandError, fmt.Sprintf("expected field=value, got %q", pair)))
			}
			raw[strings.TrimSpace(field)] = parseValue(value)
		}
	}

	s, corrections, err := a.svc.SetThresholds(ctx, unitID, raw)
	if err != nil {
		return out.Fail("set thresholds", err)
	}
	if corrections == nil {
		corrections = []threshold.Correction{}
	}
	result := ThresholdsResult{UnitID: unitID, Thresholds: s, Corrections: corrections}
	return out.Success(result, func(w io.Writer) {
		writeThresholds(w, a.svc.Table(), s)
		for _, c := range corrections {
			fmt.Fprintf(w, "corrected: %s\n", c)
		}
	})
}

// parseValue keeps numbers as json.Number so the sanitizer sees them the
// way it sees stored JSON; anything else is passed on as a string.
func parseValue(v string) any {
	v = strings.TrimSpace(v)
	var n json.Number
	if err := json.Unmarshal([]byte(v), &n); err == nil {
		return n
	}
	return v
}

func writeThresholds(w io.Writer, table *threshold.Table, s threshold.Set) {
	tw := newTable(w)
	fmt.Fprintln(tw, "FIELD\tVALUE\tUNIT")
	for _, f := range table.Fields() {
		v, _ := s.Get(f.Name)
		fmt.Fprintf(tw, "%s\t%g\t%s\n", f.Name, v, f.Unit)
	}
	tw.Flush()
}

func runThresholdsRanges(out *OutputFormatter, table *threshold.Table) error {
	fields := table.Fields()
	rows := make([]RangeRow, 0, len(fields))
	for _, f := range fields {
		rows = append(rows, RangeRow{Name: f.Name, Field: f})
	}
	data := map[string]any{"version": table.Version, "fields": rows}
	return out.Success(data, func(w io.Writer) {
		fmt.Fprintf(w, "Threshold ranges (version %d)\n", table.Version)
		tw := newTable(w)
		fmt.Fprintln(tw, "FIELD\tMIN\tMAX\tDEFAULT\tUNIT")
		var legacy []string
		for _, f := range fields {
			fmt.Fprintf(tw, "%s\t%g\t%g\t%g\t%s\n", f.Name, f.Min, f.Max, f.Default, f.Unit)
			if f.Legacy {
				legacy = append(legacy, f.Name)
			}
		}
		tw.Flush()
		if len(legacy) > 0 {
			fmt.Fprintf(w, "legacy fields: %s\n", strings.Join(legacy, ", "))
		}
	})
}
