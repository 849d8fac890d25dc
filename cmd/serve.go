/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fraudgate/internal/api"
	"fraudgate/internal/bootstrap"
	"fraudgate/internal/bootstrap/logging"
	"fraudgate/internal/errs"
	"fraudgate/internal/usecase/ingest"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP ingestion API",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, ingestSvc *ingest.Service) error {
		if !app.Config.HTTP.Enabled {
			return errors.New("http adapter is disabled, set http.enabled to run serve")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		handler := api.NewHandler(ingestSvc, app.DB)
		server := api.NewServer(app.Config.HTTP, handler.Routes())

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(ctx)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return errs.Wrap(err, "http server")
			}
			return nil
		case <-ctx.Done():
		}

		logging.Info(ctx, "shutdown signal received", slog.String("command", cmd.CommandPath()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errs.Wrap(err, "shut down http server")
		}
		return <-errCh
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
