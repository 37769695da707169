package cli

import (
	"fmt"

	"github.com/mattbonnell/syncq"
	"github.com/spf13/cobra"
)

func NewDrainCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "drain [domain...]",
		Short: "Deliver queued jobs now; without domains every queue is drained",
		RunE: func(cmd *cobra.Command, args []string) error {
			var reports []syncq.DrainReport
			if len(args) == 0 {
				reports = app.Client.Syncer.DrainAll(cmd.Context())
			} else {
				for _, d := range args {
					n, err := app.Client.Syncer.Drain(cmd.Context(), d)
					reports = append(reports, syncq.DrainReport{Domain: d, Delivered: n, Err: err})
				}
			}
			failed := 0
			for _, r := range reports {
				switch {
				case r.Err != nil:
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: delivered=%d error=%s\n", r.Domain, r.Delivered, r.Err)
				case r.Skipped:
					fmt.Fprintf(cmd.OutOrStdout(), "%s: skipped, drain in flight\n", r.Domain)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "%s: delivered=%d\n", r.Domain, r.Delivered)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d domain(s) failed to drain", failed)
			}
			return nil
		},
	}
}
