package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/spewite/score-to-midi/internal/config"
	"github.com/spewite/score-to-midi/internal/handlers"
	"github.com/spewite/score-to-midi/internal/metrics"
	"github.com/spewite/score-to-midi/internal/validation"
	"github.com/spewite/score-to-midi/pkg/runner"
)

// HTTP server for score uploads. Converts synchronously on /api/upload and,
// when DBOS_SYSTEM_DATABASE_URL is set, enqueues durable conversions on /v1/convert.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rn, err := runner.New(context.Background(), cfg, runner.Options{Registerer: reg})
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}
	defer rn.Shutdown(10 * time.Second)

	log.Printf("✓ Pipeline initialized")
	log.Printf("  Uploads: %s", cfg.Roots.Uploads)
	log.Printf("  MIDI: %s", cfg.Roots.MIDI)
	log.Printf("  Converter: %s", cfg.ConverterMode)
	log.Printf("  Durable queue: %t", rn.Durable())

	h, err := handlers.New(rn.Workflows(), cfg.Roots, validation.Limits{
		MaxBytes:  cfg.MaxUploadBytes,
		MaxPixels: cfg.MaxPixels,
	})
	if err != nil {
		log.Fatalf("Failed to create handlers: %v", err)
	}
	if l := rn.Ledger(); l != nil {
		h.WithSeenCounter(l)
	}

	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: h.Router(handlers.RouterOptions{
			CORSOrigins: cfg.CORSOrigins,
			Metrics:     metrics.Handler(reg),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Score server starting on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Conversions in progress hold the request open, so allow them to finish.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.OMRTimeout+cfg.ConvertTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
