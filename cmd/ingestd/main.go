package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockfeed-service/internal/api"
	"stockfeed-service/internal/bridge"
	"stockfeed-service/internal/buffer"
	"stockfeed-service/internal/config"
	"stockfeed-service/internal/feed"
	"stockfeed-service/internal/ingest"
	"stockfeed-service/internal/instruments"
	"stockfeed-service/internal/storage"
)

// Application owns every component of the ingestion service and their
// lifecycle.
type Application struct {
	config *config.Config

	catalog    *instruments.Catalog
	postgres   *storage.PostgresAdapter
	redis      *storage.RedisAdapter
	feedClient *feed.Client
	feedBridge *bridge.FeedBridge
	service    *ingest.Service
	apiServer  *api.Server
}

func main() {
	log.Printf("🚀 Starting Stock Feed Ingestion Service")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to create application: %v", err)
	}

	app.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Printf("🛑 Received shutdown signal")

	app.Stop()
	log.Printf("✅ Application shutdown complete")
}

// NewApplication initializes all components in dependency order.
func NewApplication(cfg *config.Config) (*Application, error) {
	app := &Application{config: cfg}

	log.Printf("📊 Initializing instrument catalog...")
	catalog, err := instruments.NewCatalog(cfg.Database.InstrumentDB)
	if err != nil {
		return nil, err
	}
	app.catalog = catalog

	log.Printf("🗄️ Initializing PostgreSQL storage...")
	postgres, err := storage.NewPostgresAdapter(cfg.Database.PostgresURL)
	if err != nil {
		return nil, err
	}
	app.postgres = postgres

	log.Printf("🗄️ Initializing Redis publisher...")
	redisAdapter, err := storage.NewRedisAdapter(cfg.Database.RedisURL)
	if err != nil {
		return nil, err
	}
	app.redis = redisAdapter

	app.feedClient = feed.NewClient(cfg.Feed.WebSocketURL)
	app.feedBridge = bridge.New(app.feedClient, cfg.Ingestion.QueueCapacity)
	app.feedClient.SetHandler(app.feedBridge)

	tickBuffer := buffer.New()
	app.service = ingest.NewService(app.feedBridge, tickBuffer, postgres, redisAdapter, cfg.Ingestion.FlushInterval)

	app.apiServer = api.NewServer(cfg.Server.Port, app.service, catalog, redisAdapter, feed.Credentials{
		ConsumerKey:    cfg.Feed.ConsumerKey,
		ConsumerSecret: cfg.Feed.ConsumerSecret,
		UCC:            cfg.Feed.UCC,
		MobileNumber:   cfg.Feed.MobileNumber,
	})

	log.Printf("✅ All components initialized successfully")
	return app, nil
}

// Start brings up the HTTP surface and, when a replay file is configured,
// kicks off a file ingestion session.
func (app *Application) Start() {
	go func() {
		if err := app.apiServer.Start(); err != nil {
			log.Fatalf("❌ %v", err)
		}
	}()

	if replayFile := os.Getenv("FEED_REPLAY_FILE"); replayFile != "" {
		result := app.service.StartFile(replayFile)
		log.Printf("📄 Replay session: %s - %s", result.Status, result.Message)
	}
}

// Stop shuts everything down in reverse order: the ingestion session first
// (final flush included), then the HTTP server and the datastores.
func (app *Application) Stop() {
	app.service.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.apiServer.Shutdown(ctx); err != nil {
		log.Printf("⚠️ HTTP server shutdown error: %v", err)
	}

	if err := app.feedBridge.Close(); err != nil {
		log.Printf("⚠️ Feed bridge close error: %v", err)
	}
	if err := app.redis.Close(); err != nil {
		log.Printf("⚠️ Redis close error: %v", err)
	}
	if err := app.postgres.Close(); err != nil {
		log.Printf("⚠️ PostgreSQL close error: %v", err)
	}
	if err := app.catalog.Close(); err != nil {
		log.Printf("⚠️ Instrument catalog close error: %v", err)
	}
}
