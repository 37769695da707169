package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewEnqueueCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <domain> '<json payload>'",
		Short: "Queue a payload for later delivery",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := app.Client.Queue.Enqueue(cmd.Context(), args[0], []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Job enqueued:", job.ID)
			return nil
		},
	}
}
