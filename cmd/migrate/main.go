package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"gatehouse.org/internal/migrate"
	"gatehouse.org/internal/store/pg"
	"gatehouse.org/migrations"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = pflag.String("dsn", os.Getenv("GATEHOUSE_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = pflag.String("migrations", "", "directory of SQL migrations (default: embedded)")
		seedsPath      = pflag.String("seeds", "", "directory of SQL seeds (default: embedded)")
		timeout        = pflag.Duration("timeout", 30*time.Second, "overall deadline")
	)
	pflag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via --dsn or GATEHOUSE_PG_DSN")
	}
	if pflag.NArg() == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|pending]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), dirOr(*migrationsPath, migrations.Schema()), dirOr(*seedsPath, migrations.Seeds()))

	switch pflag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status", "pending":
		var names []string
		if pflag.Arg(0) == "status" {
			names, err = mgr.Status(ctx)
		} else {
			names, err = mgr.Pending(ctx)
		}
		if err == nil {
			for _, name := range names {
				fmt.Println(name)
			}
		}
	default:
		log.Fatalf("unknown command %q", pflag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", pflag.Arg(0), err)
	}
}

func dirOr(path string, embedded fs.FS) fs.FS {
	if path == "" {
		return embedded
	}
	return os.DirFS(path)
}
