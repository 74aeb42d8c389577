package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"idgate.org/internal/httpapi"
	"idgate.org/internal/identity"
	"idgate.org/internal/notify"
	"idgate.org/internal/oauth"
	"idgate.org/internal/obs"
	"idgate.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if os.Getenv("IDGATE_SESSION_SECRET") == "" {
		log.Fatal("IDGATE_SESSION_SECRET is required")
	}

	// With a DSN the service runs on PostgreSQL; without one it falls back
	// to the in-memory stores, which is enough for local development.
	var (
		identityStore identity.Store = identity.NewInMemory()
		oauthStore    oauth.Store    = oauth.NewInMemory()
		db            *sql.DB
	)
	if dsn := os.Getenv("IDGATE_PG_DSN"); dsn != "" {
		st, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		identityStore = st
		oauthStore = st
		db = st.DB()
	}

	registry, err := identity.NewService(identityStore)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}
	engine, err := oauth.NewEngine(oauthStore, registry)
	if err != nil {
		log.Fatalf("oauth engine: %v", err)
	}

	api := httpapi.New(registry, engine, notify.New(), httpapi.ReadyProbe{DB: db}, version)

	addr := os.Getenv("IDGATE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.Event("info", "starting", map[string]any{
		"binary":  "idgate-api",
		"version": version,
		"addr":    srv.Addr,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.Event("info", "shutting_down", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	obs.Event("info", "stopped", nil)
}
