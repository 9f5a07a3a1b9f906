package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

func main() {
	dir := flag.String("dir", "migrations", "directory of .sql files")
	listOnly := flag.Bool("list", false, "list applied migrations and exit")
	flag.Parse()

	log := logger.New(os.Stderr, logger.Options{Level: logger.INFO, Component: "migrate"})

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Error("connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Error("ping", "error", err)
		os.Exit(1)
	}
	log.Info("connected to database")

	r := &Runner{db: db, log: log}
	if *listOnly {
		applied, err := r.Applied(ctx)
		if err != nil {
			log.Error("list migrations", "error", err)
			os.Exit(1)
		}
		for _, a := range applied {
			fmt.Printf("  %s  %s\n", a.AppliedAt.Format(time.RFC3339), a.Name)
		}
		fmt.Printf("Total: %d applied\n", len(applied))
		return
	}

	res, err := r.Run(ctx, *dir)
	if err != nil {
		log.Error("migrations failed", "applied", res.Applied, "skipped", res.Skipped, "error", err)
		os.Exit(1)
	}
	log.Info("migrations complete", "applied", res.Applied, "skipped", res.Skipped)
}
