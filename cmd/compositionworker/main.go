package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/renderpipe/engine/internal/broker"
	"github.com/renderpipe/engine/internal/compositionworker"
	"github.com/renderpipe/engine/internal/config"
	"github.com/renderpipe/engine/internal/ffmpeg"
	"github.com/renderpipe/engine/internal/objectstore"
	"github.com/renderpipe/engine/internal/progresscache"
	"github.com/renderpipe/engine/internal/store"
)

func main() {
	log.Println("Starting composition worker...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	st, err := store.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to state store: %v", err)
	}
	defer st.Close()

	cache, err := progresscache.Connect(cfg.CacheURL)
	if err != nil {
		log.Fatalf("Failed to connect to progress cache: %v", err)
	}
	defer cache.Close()

	b, err := broker.Connect(cfg.BrokerURL, cfg.SegmentQueueName, cfg.CompositionQueueName, cfg.SegmentCompletedExchange)
	if err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}
	defer b.Close()

	objStore, err := buildObjectStore(cfg)
	if err != nil {
		log.Fatalf("Failed to configure object store: %v", err)
	}

	ffmpegSvc, err := ffmpeg.NewService(cfg.FFmpegTempDir)
	if err != nil {
		log.Fatalf("Failed to set up ffmpeg service: %v", err)
	}

	pool := compositionworker.NewPool(st, b, cache, objStore, ffmpegSvc, compositionworker.Config{
		Concurrency: cfg.CompositionConcurrency,
	})

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- pool.Run(ctx)
	}()

	log.Printf("Composition worker running with concurrency=%d", cfg.CompositionConcurrency)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Shutting down composition worker...")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Composition worker exited: %v", err)
		}
	}

	log.Println("Composition worker exited")
}

func buildObjectStore(cfg *config.Config) (objectstore.Store, error) {
	if cfg.UseLocalStorage {
		return objectstore.NewDiskStore(cfg.LocalStorageDir)
	}
	return objectstore.NewS3Store(context.Background(), cfg.S3Bucket, cfg.S3Region, cfg.AWSAccessKeyID, cfg.AWSSecretKey)
}
