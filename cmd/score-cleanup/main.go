package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spewite/score-to-midi/internal/config"
	"github.com/spewite/score-to-midi/internal/workspace"
)

// Removes conversion files from the storage roots. Run it out of band; the
// server never deletes request directories on its own.
func main() {
	token := flag.String("token", "", "remove only this request's directories")
	all := flag.Bool("all", false, "empty every storage root")
	flag.Parse()

	if (*token == "") == !*all {
		log.Fatalf("exactly one of -token or -all is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := workspace.Clean(ctx, cfg.Roots, *token)
	if err != nil {
		log.Fatalf("Cleanup failed after removing %d entries: %v", n, err)
	}
	log.Printf("Removed %d entries from %s, %s, %s, %s", n, cfg.Roots.Uploads, cfg.Roots.MXL, cfg.Roots.MIDI, cfg.Roots.OMROutput)
}
