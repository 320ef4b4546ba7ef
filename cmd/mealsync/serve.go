package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "daemon",
	Short:   "Run the HTTP API and the background sync scheduler",
	Long: `Run the local HTTP API and sync in the background.

On start the daemon optionally pulls remote entries, pushes today's analyzed
entries, and then pushes again every MEALSYNC_SYNC_INTERVAL (default 5m).

Live events are available on ws://localhost:<port>/ws.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      a.srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	a.srv.Start(ctx)

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("mealsync listening", "addr", httpServer.Addr, "user", a.srv.Entries().UserID(), "remote", a.cfg.RemoteEnabled())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		a.srv.Stop()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("shutdown error", "error", err)
	}
	a.srv.Stop()
	return nil
}
