package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"classattend/internal/config"
	"classattend/internal/gallery"
	"classattend/internal/proof"
	"classattend/internal/queue"
)

// Worker drains proof jobs from Redis: it archives the capture, mirrors it
// to Cloudinary when configured, and feeds the frame back into the gallery.
// The in-memory queue backend has no separate worker; the API process drains
// it in-process.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend == "memory" {
		log.Fatal("worker requires QUEUE_BACKEND=redis; the memory backend is drained by the API process")
	}

	g, err := gallery.Open(cfg.GalleryDir)
	if err != nil {
		log.Fatalf("gallery open failed: %v", err)
	}
	store, err := proof.NewStore(cfg.ProofsDir)
	if err != nil {
		log.Fatalf("proof store init failed: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	q := queue.NewRedisQueue(redisClient, "")

	var remote *proof.Remote
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		remote = proof.NewRemote(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	}

	log.Println("worker started, waiting for proof jobs...")
	if err := proof.RunWorker(ctx, q, store, g, remote); err != nil && ctx.Err() == nil {
		log.Fatalf("worker failed: %v", err)
	}
	log.Println("worker stopped")
}
