package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keyshop-api/internal/api"
	"keyshop-api/internal/metrics"
	"keyshop-api/internal/middleware"
	"keyshop-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	gin.SetMode(a.cfg.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(), metrics.GinMiddleware())

	api.SetupRoutes(r, api.NewHandler(api.Deps{
		Config:       a.cfg,
		Gateway:      a.paypal,
		Roblox:       a.roblox,
		Fulfillment:  a.fulfillment,
		Verification: a.verification,
		Tickets:      a.tickets,
		Sessions:     a.sessions,
		Auth:         middleware.NewAuth(a.cfg.AdminPassword, a.sessions),
	}))

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := scheduler.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := a.verification.CleanupExpired(ctx); err != nil {
			logging.Errorf("Verification code cleanup failed: %v", err)
		}
	}); err != nil {
		return err
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("Starting server on port %s", a.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case sig := <-sigChan:
		logging.Infof("Shutdown signal received (%s), draining connections", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Errorf("Server shutdown failed: %v", err)
		return err
	}

	logging.Infof("Server stopped")
	return nil
}
