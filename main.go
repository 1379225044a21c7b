package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"

	"newsbrief/internal/config"
	"newsbrief/internal/database"
	"newsbrief/internal/digest"
	"newsbrief/internal/rss"
	"newsbrief/internal/scheduler"
	"newsbrief/internal/server"
	"newsbrief/internal/summary"
)

func main() {
	cfg := config.Load()
	addr := flag.String("addr", cfg.ListenAddr, "listen address")
	dbDriver := flag.String("db", cfg.DBDriver, "database driver: sqlite or postgres")
	sqlitePath := flag.String("sqlite", cfg.SQLitePath, "sqlite database path")
	postgresDSN := flag.String("postgres", cfg.PostgresDSN, "postgres connection string")
	flag.Parse()

	db, err := openStore(*dbDriver, *sqlitePath, *postgresDSN)
	if err != nil {
		log.Fatalf("[ERROR] open database: %v", err)
	}
	defer db.Close()
	log.Printf("[INFO] using %s database", db.DatabaseType())

	fetcher := rss.NewFetcher(db)
	summaries := summary.NewService(db)
	digests := digest.NewService(db)
	registry := scheduler.New(db, fetcher, digests)
	if err := registry.Start(); err != nil {
		log.Fatalf("[ERROR] start scheduler: %v", err)
	}
	defer registry.Stop()

	srv := &http.Server{
		Addr:    *addr,
		Handler: server.New(db, fetcher, summaries, digests, registry).Handler(),
	}

	go func() {
		log.Printf("[INFO] listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[ERROR] server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("[INFO] shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[WARN] shutdown: %v", err)
	}
}

func openStore(driver, sqlitePath, postgresDSN string) (database.Store, error) {
	switch driver {
	case "postgres":
		return database.NewPostgres(postgresDSN)
	default:
		return database.New(sqlitePath)
	}
}
