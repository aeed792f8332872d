package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"crmdesk.io/internal/migrate"
	"crmdesk.io/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn   = flag.String("dsn", os.Getenv("CRM_PG_DSN"), "PostgreSQL DSN")
		table = flag.String("table", "", "Migration version table (default goose_db_version)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or CRM_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := pg.Open(ctx, *dsn, pg.DefaultPool)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	var opts []migrate.Option
	if *table != "" {
		opts = append(opts, migrate.WithMigrationsTable(*table))
	}
	mgr := migrate.NewManager(db, opts...)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		var v int64
		v, err = mgr.Version(ctx)
		if err == nil {
			files, ferr := migrate.Files()
			if ferr != nil {
				log.Fatalf("list migrations: %v", ferr)
			}
			fmt.Printf("version %d\n", v)
			for _, f := range files {
				fmt.Println(f)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
