package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func NewJobsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and purge queued jobs",
	}
	cmd.AddCommand(NewJobsListCmd(app), NewJobsPurgeCmd(app))
	return cmd
}

func NewJobsListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list <domain>",
		Short: "List the jobs queued for a domain, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := app.Client.Queue.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs queued.")
				return nil
			}
			for _, j := range jobs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s | %s | %s | attempts=%d",
					j.ID, humanize.Time(j.CreatedAt), humanize.Bytes(uint64(len(j.Payload))), j.Attempts)
				if j.LastError != "" {
					fmt.Fprintf(cmd.OutOrStdout(), " | %s", j.LastError)
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
}

func NewJobsPurgeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <domain> [jobID...]",
		Short: "Remove stuck jobs; without ids the whole queue is purged",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain, ids := args[0], args[1:]
			var (
				n   int
				err error
			)
			if len(ids) == 0 {
				n, err = app.Client.Queue.Purge(cmd.Context(), domain)
			} else {
				n, err = app.Client.Queue.Remove(cmd.Context(), domain, ids...)
			}
			if err != nil {
				return fmt.Errorf("purge failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d job(s) from %s\n", n, domain)
			return nil
		},
	}
}
