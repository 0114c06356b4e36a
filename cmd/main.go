package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Story-Loom/server/internal/config"
	"Story-Loom/server/internal/engine"
	"Story-Loom/server/internal/generators"
	"Story-Loom/server/internal/interfaces"
	"Story-Loom/server/internal/observability"
	"Story-Loom/server/internal/storage"
	"Story-Loom/server/internal/web"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Server lifetime context: turns and media jobs outlive the requests that
	// start them and end only on shutdown
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	tracing, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Database.Driver, err)
	}
	defer closeStore()
	log.Printf("Session store ready (%s)", cfg.Database.Driver)

	// Notifications go through Redis when enabled so every instance can
	// reach its own websocket clients
	hub := web.NewSessionHub(nil)
	var notifier interfaces.Notifier = hub
	var redisStore *storage.RedisStore
	if cfg.Database.Redis.Enabled {
		redisStore, err = storage.NewRedisStore(cfg.Database.Redis)
		if err != nil {
			log.Printf("Warning: Failed to connect to Redis, notifications stay local: %v", err)
		} else {
			defer redisStore.Close()
			notifier = redisStore
			log.Println("Redis connected successfully")
		}
	}

	// Media generation
	luma := generators.NewLumaClient(cfg.AI.Media)
	if cfg.AI.Media.APIKey == "" {
		log.Println("Warning: No Luma API key provided. Media generation will fail.")
	} else {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := luma.HealthCheck(checkCtx); err != nil {
			log.Printf("Warning: Luma health check failed: %v", err)
		}
		cancel()
	}
	poller := generators.NewPoller(luma, generators.PollerOptions{
		Interval:      cfg.Engine.PollInterval,
		Timeout:       cfg.Engine.PollTimeout,
		StatusRetries: cfg.Engine.StatusRetries,
	})
	mediaQueue := generators.NewMediaQueue(poller, cfg.Engine.MediaWorkers, cfg.Engine.MediaQueueSize)
	mediaQueue.Start(ctx)

	// Text and vision generation
	if cfg.AI.Text.APIKey == "" {
		log.Println("Warning: No text model API key provided. Turns will fail.")
	}
	llm := engine.NewLLMClient(cfg.AI.Text, cfg.AI.Vision)

	orchestrator, err := engine.NewOrchestrator(ctx, store, llm, llm, mediaQueue, notifier, engine.Options{
		Thresholds: engine.Thresholds{
			Intro:   cfg.Engine.IntroThreshold,
			Closing: cfg.Engine.ClosingThreshold,
		},
		BackdropAspect:   cfg.Engine.BackdropAspect,
		HighlightAspect:  cfg.Engine.HighlightAspect,
		HighlightEnabled: cfg.Engine.HighlightEnabled,
		ContinuityLines:  cfg.Engine.ContinuityLines,
		PromptsDir:       cfg.Engine.PromptsDir,
	})
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}
	hub.SetEngine(orchestrator)
	go hub.Run(ctx)

	if redisStore != nil {
		relay := web.NewRelay(redisStore, hub)
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Printf("Relay stopped: %v", err)
			}
		}()
	}

	r := web.NewRouter(store, orchestrator, hub, web.RouterOptions{
		Media:       mediaQueue,
		Generations: luma,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in background
	go func() {
		log.Printf("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Cancelling the lifetime context abandons polls; running turns record
	// their failure before Wait returns
	log.Printf("Waiting for %d running turns", orchestrator.InFlight())
	stop()
	orchestrator.Wait()
	mediaQueue.Stop()

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// openStore picks the session store named by the database driver
func openStore(cfg *config.Config) (interfaces.SessionStore, func(), error) {
	if cfg.Database.Driver == "memory" {
		return storage.NewMemoryStore(), func() {}, nil
	}
	store, err := storage.NewGormStore(cfg.Database, cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			log.Printf("Store close error: %v", err)
		}
	}, nil
}
