package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/growkeeper/internal/store"
)

// CheckResult is the outcome of the check command.
type CheckResult struct {
	Path        string                   `json:"path"`
	Status      string                   `json:"status"` // "ok" | "recovered"
	Quarantined []store.QuarantineRecord `json:"quarantined,omitempty"`
}

func newCheckCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Open the store and run the integrity probe",
		Long: `Open the store and run the integrity probe.

A store that fails the probe is quarantined and recreated; the command then
reports "recovered" together with the quarantine record. A store that
cannot be opened or recovered exits with code 1.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, runCheck)
		},
	}
}

func runCheck(ctx context.Context, a *app, out *OutputFormatter) error {
	if err := a.guard.Open(ctx); err != nil {
		return out.Fail("open store", err)
	}
	if err := a.guard.Probe(ctx); err != nil {
		return out.Fail("integrity probe", err)
	}

	result := CheckResult{Path: a.guard.Path(), Status: "ok"}
	if recs := a.guard.Records(); len(recs) > 0 {
		result.Status = "recovered"
		result.Quarantined = recs
	}

	return out.Success(result, func(w io.Writer) {
		if result.Status == "ok" {
			fmt.Fprintf(w, "✓ %s ok\n", result.Path)
			return
		}
		fmt.Fprintf(w, "! %s was corrupt and has been recreated\n", result.Path)
		for _, rec := range result.Quarantined {
			fmt.Fprintf(w, "  %s: %s moved to %s\n", rec.Evidence.Kind, rec.RelocatedFiles, rec.QuarantineDirectory)
		}
	})
}
