package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/spewite/score-to-midi/internal/config"
	"github.com/spewite/score-to-midi/internal/metrics"
	"github.com/spewite/score-to-midi/pkg/runner"
)

// DBOS worker: executes conversions enqueued by score-server or runner.Client.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatalf("DBOS_SYSTEM_DATABASE_URL is required")
	}
	httpAddr := config.GetEnv("WORKER_HTTP_ADDR", ":8081")

	reg := prometheus.NewRegistry()
	rn, err := runner.New(context.Background(), cfg, runner.Options{Registerer: reg})
	if err != nil {
		log.Fatalf("Failed to initialize worker: %v", err)
	}
	defer rn.Shutdown(10 * time.Second)

	log.Printf("✓ Worker initialized")
	log.Printf("  Queue: %s", cfg.QueueName)
	log.Printf("  Concurrency: %d", cfg.Concurrency)

	// The worker only exposes health and metrics; conversions arrive through the queue.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", metrics.Handler(reg))

	server := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Score worker starting on %s", httpAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Worker stopped")
}

// handleHealth returns health status
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"mode":   "worker",
	})
}
