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

	_ "github.com/jackc/pgx/v5/stdlib"

	"uniplex.org/internal/audit"
	"uniplex.org/internal/bus"
	"uniplex.org/internal/config"
	"uniplex.org/internal/enroll"
	"uniplex.org/internal/obs"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo("enrollment-api", version)
	config.LoadEnvFile()

	cfg, err := config.Load("enrollment")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus, err := bus.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("connect broker: %v", err)
	}

	svc := enroll.NewService(enroll.NewPGStore(db), eventBus, cfg.EventStream)
	api := enroll.NewAPI(svc, db)
	recorder := audit.NewRecorder(eventBus, cfg.AuditStream, "enrollment-api")

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           api.Handler(recorder),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting enrollment-api %s on %s", version, srv.Addr)

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
	_ = db.Close()
	log.Println("Stopped")
}
