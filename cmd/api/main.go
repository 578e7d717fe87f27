package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"uniplex.org/internal/audit"
	"uniplex.org/internal/auth"
	"uniplex.org/internal/bus"
	"uniplex.org/internal/config"
	"uniplex.org/internal/httpapi"
	"uniplex.org/internal/obs"
	"uniplex.org/internal/store/pg"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo("security-api", version)
	config.LoadEnvFile()

	cfg, err := config.Load("security")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus, err := bus.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("connect broker: %v", err)
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret,
		auth.WithIssuerName(cfg.JWTIssuer),
		auth.WithAudience(cfg.JWTAudience),
		auth.WithTokenTTL(cfg.TokenTTL),
	)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	svc, err := auth.NewService(store, issuer, auth.WithTOTP(auth.NewTOTP(cfg.JWTIssuer)))
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	recorder := audit.NewRecorder(eventBus, cfg.AuditStream, "security-api")

	api := httpapi.New(svc,
		httpapi.ReadyProbe{DB: store.DB(), Bus: eventBus},
		version,
		httpapi.WithFrontendURL(cfg.FrontendURL),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           api.Handler(recorder),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting security-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = eventBus.Close()
	_ = store.Close()
	log.Println("Stopped")
}
