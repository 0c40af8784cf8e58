package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/renderpipe/engine/internal/api"
	"github.com/renderpipe/engine/internal/broker"
	"github.com/renderpipe/engine/internal/config"
	"github.com/renderpipe/engine/internal/orchestrator"
	"github.com/renderpipe/engine/internal/progresscache"
	"github.com/renderpipe/engine/internal/store"
)

func main() {
	log.Println("Starting render pipeline API...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	st, err := store.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to state store: %v", err)
	}
	defer st.Close()
	log.Println("Connected to state store")

	cache, err := progresscache.Connect(cfg.CacheURL)
	if err != nil {
		log.Fatalf("Failed to connect to progress cache: %v", err)
	}
	defer cache.Close()
	log.Println("Connected to progress cache")

	b, err := broker.Connect(cfg.BrokerURL, cfg.SegmentQueueName, cfg.CompositionQueueName, cfg.SegmentCompletedExchange)
	if err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}
	defer b.Close()
	log.Println("Connected to broker")

	orch := orchestrator.New(st, b, cache)
	handler := api.NewHandler(orch, cache)
	router := api.NewRouter(handler, api.Config{
		APIKey:         cfg.BackendAPIKey,
		AllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
