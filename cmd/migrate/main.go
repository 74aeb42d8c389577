package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"idgate.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn             = flag.String("dsn", os.Getenv("IDGATE_PG_DSN"), "PostgreSQL DSN")
		migrationsPath  = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath       = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
		migrationsTable = flag.String("migrations-table", "", "Override the migrations bookkeeping table")
		seedsTable      = flag.String("seeds-table", "", "Override the seeds bookkeeping table")
		timeout         = flag.Duration("timeout", 30*time.Second, "Overall deadline for the command")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or IDGATE_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [flags] up|down|seed|status")
	}

	var opts []migrate.Option
	if *migrationsTable != "" {
		opts = append(opts, migrate.WithMigrationsTable(*migrationsTable))
	}
	if *seedsTable != "" {
		opts = append(opts, migrate.WithSeedsTable(*seedsTable))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := run(ctx, migrate.NewManager(db, *migrationsPath, *seedsPath, opts...), flag.Arg(0)); err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func run(ctx context.Context, mgr *migrate.Manager, cmd string) error {
	switch cmd {
	case "up":
		return mgr.Up(ctx)
	case "down":
		return mgr.Down(ctx)
	case "seed":
		return mgr.Seed(ctx)
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, item := range history {
			fmt.Println(item)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
