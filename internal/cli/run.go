package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func NewRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Serve the local API and sync queues whenever the CRM is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              app.Config.ListenAddr,
				Handler:           app.API.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()
			log.Info().Str("addr", srv.Addr).Msg("listening")

			go app.Client.Monitor.Run(ctx)
			startup := make(chan struct{})
			go func() {
				defer close(startup)
				app.Client.Start(ctx)
			}()

			var err error
			select {
			case <-ctx.Done():
				log.Info().Msg("shutting down")
			case err = <-serveErr:
				log.Error().Err(err).Msg("server failed")
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
				err = serr
			}
			<-startup
			app.Client.Syncer.Wait()
			return err
		},
	}
}
