package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"graindesk.io/internal/audit"
	"graindesk.io/internal/auth"
	"graindesk.io/internal/httpapi"
	"graindesk.io/internal/obs"
	"graindesk.io/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("GRAINDESK_PG_DSN")
	if dsn == "" {
		log.Fatal("GRAINDESK_PG_DSN is required")
	}
	secret := os.Getenv("GRAINDESK_AUTH_SECRET")
	if secret == "" {
		log.Fatal("GRAINDESK_AUTH_SECRET is required")
	}
	addr := os.Getenv("GRAINDESK_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	tokens, err := auth.NewTokenSource(secret, 8*time.Hour)
	if err != nil {
		log.Fatalf("token source: %v", err)
	}

	auditRec := audit.NewRecorder(store.Audit())

	svc, err := auth.NewService(store,
		auth.WithTokenSource(tokens),
		auth.WithAudit(auditRec),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	// Seed the permission catalog and default roles before serving traffic.
	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := svc.Initialize(initCtx); err != nil {
		cancelInit()
		log.Fatalf("initialize access control: %v", err)
	}
	cancelInit()

	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, svc, auditRec)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting graindesk-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
