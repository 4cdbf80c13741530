// cmd/reindex-quotes/main.go
// Rebuilds quote aggregates and post reply counts after a partial failure
// or a manual data fix.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"

	_ "github.com/lib/pq"

	"Marginalia/internal/config"
	"Marginalia/internal/db/kvstore"
	postgresRepo "Marginalia/internal/db/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	ctx := context.Background()

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		log.Printf("Connecting to database...")
		db, err := sql.Open("postgres", cfg.Storage.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		stats, err := postgresRepo.RebuildCounts(ctx, db)
		if err != nil {
			log.Fatalf("Rebuild failed: %v", err)
		}
		log.Printf("✓ Rebuilt %d quote count entries, corrected %d post reply counts",
			stats.QuoteEntries, stats.PostsCorrected)

	case config.DriverPebble:
		// the key layout has no post listing; posts are named on the command line
		postIDs := flag.Args()
		if len(postIDs) == 0 {
			log.Printf("usage: reindex-quotes [-config file] <postId>...")
			os.Exit(2)
		}

		store, err := kvstore.Open(cfg.Storage.PebblePath, nil)
		if err != nil {
			log.Fatalf("Failed to open pebble store: %v", err)
		}
		defer store.Close()

		for _, id := range postIDs {
			n, err := store.ReconcileReplyCount(ctx, id)
			if err != nil {
				log.Printf("Warning: failed to reconcile %s: %v", id, err)
				continue
			}
			log.Printf("Post %s: %d replies", id, n)
		}
	}
}
