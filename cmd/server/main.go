package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nicktill/devicepulse/pkg/config"
	"github.com/nicktill/devicepulse/pkg/server"
)

func main() {
	log.Println("Starting devicepulse server...")

	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Configuration: backend = %s, storage limit = %d GB, keep %d days, retention every %v",
		cfg.StorageBackend, cfg.MaxStorageGB, cfg.DataExpiryDays, cfg.RetentionInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := server.OpenStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	app, err := server.New(cfg, store, nil)
	if err != nil {
		store.Close()
		log.Fatalf("Failed to assemble server: %v", err)
	}
	defer app.Close()

	var wg sync.WaitGroup
	app.StartBackground(ctx, &wg)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      app.Router(),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.Addr)
		log.Println("API endpoints:")
		log.Println("   POST /api/submit              - Submit a device snapshot")
		log.Println("   GET  /api/dashboard/overview  - Totals and active devices")
		log.Println("   GET  /api/dashboard/timeline  - Records per hour or day")
		log.Println("   GET  /api/export              - Export JSON or CSV")
		log.Println("   GET  /health                  - Health check")
		log.Println("   GET  /metrics                 - Prometheus endpoint")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received...")

	// Cancel first so background loops exit before wg.Wait
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	log.Println("Gracefully shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown warning: %v", err)
	}

	log.Println("Waiting for background tasks to complete...")
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("devicepulse server exited")
}
