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

	"github.com/joho/godotenv"

	"github.com/finsentry/finsentry/internal/alert"
	"github.com/finsentry/finsentry/internal/auth"
	"github.com/finsentry/finsentry/internal/bank"
	"github.com/finsentry/finsentry/internal/config"
	"github.com/finsentry/finsentry/internal/fraud"
	httpapi "github.com/finsentry/finsentry/internal/http"
	"github.com/finsentry/finsentry/internal/report"
	"github.com/finsentry/finsentry/internal/storage/engine"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// .env is a development convenience; absence is not an error.
	if err := godotenv.Load(); err == nil {
		log.Println("loaded configuration from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx := context.Background()

	// Open the record store selected by STORAGE_MODE.
	store, err := engine.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open %s storage: %v", cfg.Storage.Mode, err)
	}
	defer store.Close()
	log.Printf("record store initialized: mode=%s", cfg.Storage.Mode)

	// Alert sink: AMQP when configured, otherwise direct persistence.
	var sink alert.Sink = &alert.StoreSink{Store: store}
	var amqpSink *alert.AMQPSink
	if cfg.Alerts.Remote {
		amqpSink, err = alert.NewAMQPSink(cfg.Alerts)
		if err != nil {
			log.Fatalf("failed to connect alert publisher: %v", err)
		}
		defer amqpSink.Close()
		sink = amqpSink
	}
	dispatcher := alert.NewDispatcher(sink, store, cfg.Alerts.QueueSize)
	defer dispatcher.Close()

	// Domain services.
	fraudEngine := fraud.NewEngine(store, dispatcher, cfg.Fraud)
	bankService := bank.NewService(store, fraudEngine)
	reportService := report.NewService(store, cfg.Fraud)
	notificationService := alert.NewNotificationService(store)
	tokens := auth.NewTokenManager(cfg.Auth)
	authService := auth.NewService(store, bankService, tokens)
	log.Println("domain services initialized")

	server := httpapi.NewServer(authService, tokens, bankService, reportService, notificationService)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddress(),
		Handler: server.Routes(),
	}

	go func() {
		log.Printf("finsentry HTTP server starting on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	log.Println("HTTP server stopped")
}
