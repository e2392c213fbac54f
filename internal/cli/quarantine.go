package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/growkeeper/internal/store"
)

func newQuarantineCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Inspect quarantined stores",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List quarantine records, oldest first",
		Long: `List the records written when a corrupt store was quarantined.

The store itself is not opened, so listing never triggers a recovery.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(opts, cmd)
			cfg, err := opts.loadConfig()
			if err != nil {
				_ = out.Error(ErrCodeConfig, err.Error(), nil)
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}

			root := store.QuarantineRoot(cfg.Database.Path)
			out.VerboseLog("Reading quarantine records from %s", root)
			records, err := store.ListQuarantineRecords(root)
			if err != nil {
				return out.Fail("list quarantine records", err)
			}
			return out.Success(records, func(w io.Writer) {
				if len(records) == 0 {
					fmt.Fprintln(w, "No quarantined stores")
					return
				}
				tw := newTable(w)
				fmt.Fprintln(tw, "TIME\tKIND\tDIRECTORY\tFILES")
				for _, rec := range records {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", rec.Timestamp.UTC().Format(time.RFC3339), rec.Evidence.Kind, rec.QuarantineDirectory, len(rec.RelocatedFiles))
				}
				tw.Flush()
			})
		},
	})
	return cmd
}
