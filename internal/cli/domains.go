package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func NewDomainsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "domains",
		Short: "List queues and how many jobs each holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			domains, err := app.Client.Syncer.Domains(ctx)
			if err != nil {
				return err
			}
			if len(domains) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No queues.")
				return nil
			}
			for _, d := range domains {
				jobs, err := app.Client.Queue.Load(ctx, d)
				if err != nil {
					return err
				}
				oldest := "-"
				if len(jobs) > 0 {
					oldest = humanize.Time(jobs[0].CreatedAt)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s jobs=%d oldest=%s policy=%s\n",
					d, len(jobs), oldest, app.Client.Drainer.Policy(d))
			}
			return nil
		},
	}
}
