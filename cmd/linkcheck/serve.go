package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"linkcheck/internal/logger"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled checking passes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, seeds, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.Log.Sync()

			if err := a.Migrate(); err != nil {
				return err
			}
			if err := a.SeedExclusions(ctx, seeds); err != nil {
				return err
			}

			a.Scheduler.Start()
			srv := a.Server()

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-quit:
				a.Log.Info("Shutting down server")
			case err := <-errCh:
				if err != nil {
					a.Log.Error("Server error", logger.Error(err))
				}
			}

			a.Scheduler.Stop()
			if err := srv.Shutdown(); err != nil {
				a.Log.Error("Server forced to shutdown", logger.Error(err))
				return err
			}
			a.Log.Info("Server exited")
			return nil
		},
	}
}
