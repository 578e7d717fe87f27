package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"uniplex.org/internal/bus"
	"uniplex.org/internal/config"
	"uniplex.org/internal/enroll"
	"uniplex.org/internal/notify"
	"uniplex.org/internal/obs"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo("notifications-worker", version)
	config.LoadEnvFile()

	cfg, err := config.Load("notifications")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus, err := bus.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("connect broker: %v", err)
	}

	mailer := &notify.SMTPMailer{
		Addr:     cfg.SMTPAddr,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
		FromName: cfg.MailFromName,
	}
	worker := notify.NewWorker(mailer, cfg.MailTo, notify.WithTimeout(cfg.NotifyTimeout))

	sub := bus.NewSubscriber(eventBus, cfg.EventStream, cfg.NotifyQueue, hostname(), enroll.EventKey)

	// Small HTTP surface for probes and metrics.
	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"notifications-worker"}`))
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	log.Printf("Starting notifications-worker %s, consuming %s [%s]",
		version, cfg.EventStream, enroll.EventKey)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sub.Run(ctx, worker.Handle); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("subscriber stopped: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = eventBus.Close()
	log.Println("Stopped")
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "notifier-1"
}
