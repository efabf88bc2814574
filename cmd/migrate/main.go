package main

import (
	"flag"
	"log"

	"github.com/ipimonitor/ipi-api/internal/config"
	"github.com/ipimonitor/ipi-api/migrations"
)

// Usage: go run ./cmd/migrate [-down N] [-version]
func main() {
	down := flag.Int("down", 0, "roll back N migrations")
	version := flag.Bool("version", false, "print the applied schema version")
	flag.Parse()

	cfg := config.Load()
	dbURL := cfg.DB.URL()

	switch {
	case *version:
		v, dirty, err := migrations.Version(dbURL)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		log.Printf("📦 Schema version %d (dirty: %v)", v, dirty)
	case *down > 0:
		if err := migrations.Rollback(dbURL, *down); err != nil {
			log.Fatalf("❌ %v", err)
		}
	default:
		if err := migrations.Run(dbURL); err != nil {
			log.Fatalf("❌ %v", err)
		}
	}
}
