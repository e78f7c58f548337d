package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/stakahashi/tenken/internal/eventbus"
	"github.com/stakahashi/tenken/internal/metrics"
	"github.com/stakahashi/tenken/internal/report"
	"github.com/stakahashi/tenken/internal/seed"
	"github.com/stakahashi/tenken/internal/server"
	"github.com/stakahashi/tenken/internal/sink"
	"github.com/stakahashi/tenken/internal/store"
	"github.com/stakahashi/tenken/internal/watch"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env is optional; deployments set the environment directly.
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "file:tenken.db?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		log.Fatalf("enabling foreign keys: %v", err)
	}

	bus := eventbus.New(256)
	bus.Subscribe("log", eventbus.NewLogConsumer())
	bus.Subscribe("metrics", metrics.NewConsumer())
	bus.Start(ctx)

	st := store.NewSQLStore(db, bus)
	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("running schema migration: %v", err)
	}
	log.Println("database migrated successfully")

	if os.Getenv("SEED_DEMO") == "true" {
		if err := seed.Structure(ctx, st); err != nil {
			log.Fatalf("seeding demo structure: %v", err)
		}
	}

	sync := watch.NewSynchronizer(st, bus)
	if err := sync.Start(ctx); err != nil {
		log.Fatalf("starting structure synchronizer: %v", err)
	}

	var snk report.Sink
	if url := os.Getenv("SINK_URL"); url != "" {
		snk = sink.New(url)
		log.Printf("report sink enabled: %s", url)
	}
	disp := report.NewDispatcher(st, snk, bus)

	port := 8080
	if p := os.Getenv("PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	if err := server.Run(ctx, server.Config{
		Port:  port,
		Store: st,
		Sync:  sync,
		Disp:  disp,
	}); err != nil {
		log.Fatalf("server error: %v", err)
	}

	sync.Close()
	bus.Wait()
}
