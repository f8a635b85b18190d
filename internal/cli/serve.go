package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"membercycle/internal/jobs"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job scheduler and the manual trigger API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	svc, err := a.jobs()
	if err != nil {
		return err
	}
	scheduler, err := jobs.NewScheduler(svc, a.schedule(), a.logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           jobs.NewHandler(svc, a.authChain(), a.logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheduler.Start(ctx)
	defer scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("membercycle listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
