package cli

import (
	"github.com/mattbonnell/syncq/internal/config"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	app := &App{}
	cmd := &cobra.Command{
		Use:           "syncq",
		Short:         "Offline-first submission queue for kiosk check-ins and appraisal drafts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			SetupLogging(cfg)
			a, err := NewApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			*app = *a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}
	cmd.AddCommand(
		NewRunCmd(app),
		NewDomainsCmd(app),
		NewJobsCmd(app),
		NewDrainCmd(app),
		NewEnqueueCmd(app),
	)
	return cmd
}
