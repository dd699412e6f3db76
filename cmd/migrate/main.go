package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"tubepilot.app/internal/history"
	"tubepilot.app/internal/migrate"
	"tubepilot.app/internal/obs"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("TUBEPILOT_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "directory of SQL migrations (default: embedded history migrations)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or TUBEPILOT_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status]")
	}

	logger, err := obs.NewLogger(os.Getenv("TUBEPILOT_LOG_LEVEL"))
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := history.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	var files fs.FS = history.Migrations()
	if *migrationsPath != "" {
		files = os.DirFS(*migrationsPath)
	}
	mgr := migrate.NewManager(store.DB(), files, migrate.WithLogger(logger))

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		if err == nil && len(applied) == 0 {
			fmt.Println("nothing to apply")
		}
		for _, name := range applied {
			fmt.Println("applied", name)
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			fmt.Println("nothing to roll back")
			err = nil
		} else if err == nil {
			fmt.Println("rolled back", name)
		}
	case "status":
		var applied []migrate.Applied
		applied, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range applied {
				fmt.Printf("%s\t%s\n", item.AppliedAt.UTC().Format(time.RFC3339), item.Name)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		logger.Error("migrate failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
