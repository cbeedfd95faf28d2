// Package app wires the anomaly engine together and owns the process
// lifecycle: connections, background workers, the API server and
// graceful shutdown.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"review-pulse/api"
	"review-pulse/cache"
	"review-pulse/config"
	"review-pulse/database"
	"review-pulse/database/analytics"
	"review-pulse/detector"
	"review-pulse/embedding"
	"review-pulse/engine"
	"review-pulse/feed"
	"review-pulse/notifications"
	"review-pulse/realtime"
	"review-pulse/stats"
)

// App represents the main application
type App struct {
	config         *config.Config
	db             *database.Database
	analyticsDB    *database.DB
	redis          *cache.RedisClient
	repo           *database.ReviewRepository
	analyticsRepo  *analytics.Repository
	embedder       *embedding.Service
	tracker        *stats.Tracker
	lifecycle      *detector.Lifecycle
	engine         *engine.Engine
	broker         *realtime.Broker
	webhookManager *notifications.WebhookManager
	feedConsumer   *feed.Consumer
	propRunner     *PropagationRunner
	statsPersister *StatsPersister
}

// New creates a new application instance
func New(cfg *config.Config) *App {
	return &App{config: cfg}
}

// Start starts the application
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Database connections (GORM for the store, raw pq for analytics)
	fmt.Println("🗄️  Connecting to database...")

	dbPort, err := strconv.Atoi(a.config.DatabasePort)
	if err != nil {
		return fmt.Errorf("invalid database port: %w", err)
	}

	db, err := database.Connect(
		a.config.DatabaseHost,
		dbPort,
		a.config.DatabaseName,
		a.config.DatabaseUser,
		a.config.DatabasePassword,
	)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.db = db

	analyticsDB, err := database.NewConnection(database.Config{
		Host:     a.config.DatabaseHost,
		Port:     a.config.DatabasePort,
		User:     a.config.DatabaseUser,
		Password: a.config.DatabasePassword,
		DBName:   a.config.DatabaseName,
	})
	if err != nil {
		return fmt.Errorf("analytics connection failed: %w", err)
	}
	a.analyticsDB = analyticsDB
	a.analyticsRepo = analytics.NewRepository(analyticsDB.Conn())

	// 2. Redis connection
	fmt.Println("🧠 Connecting to Redis...")
	redisClient := cache.NewRedisClient(
		a.config.RedisHost,
		a.config.RedisPort,
		a.config.RedisPassword,
	)
	if redisClient == nil {
		fmt.Println("⚠️  Redis connection failed. Caching disabled.")
	} else {
		a.redis = redisClient
	}

	// 3. Schema
	a.repo = database.NewReviewRepository(a.db)
	if err := a.repo.InitSchema(); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	// 4. Representation service
	encoder := embedding.NewClient(
		a.config.Embedding.Endpoint,
		a.config.Embedding.APIKey,
		a.config.Embedding.Model,
		a.config.Embedding.Dimension,
	)
	a.embedder = embedding.NewService(encoder, a.redis, a.config.Embedding.Dimension)

	// 5. Rolling statistics, warm-started from the last snapshot
	a.tracker = stats.NewTracker(a.config.Engine.MinSamples)
	WarmStartTracker(ctx, a.tracker, a.redis, a.repo)

	// 6. Model lifecycle, warm-started from the last active snapshot
	source := &trainingSource{repo: a.repo, embedder: a.embedder}
	a.lifecycle = detector.NewLifecycle(a.config.Engine, source, a.redis, &metaSink{repo: a.repo})
	a.lifecycle.WarmStart(ctx)

	// 7. Realtime broker and webhook delivery
	a.broker = realtime.NewBroker()
	go a.broker.Run()
	a.webhookManager = notifications.NewWebhookManager(a.repo, a.redis)

	// 8. Engine
	a.engine = engine.New(a.config, a.repo, a.analyticsRepo, a.redis, a.embedder, a.tracker, a.lifecycle, a.broker)
	a.engine.SetNotifier(a.webhookManager)

	// 9. Background workers
	a.propRunner = NewPropagationRunner(a.engine, time.Duration(a.config.Engine.PropagationRunSec)*time.Second)
	go a.propRunner.Start()

	a.statsPersister = NewStatsPersister(a.tracker, a.redis)
	go a.statsPersister.Start()

	// 10. Review feed consumer
	if a.config.FeedEnabled {
		tokens := feed.NewTokenManager(a.config.FeedTokenURL, a.config.FeedAPIKey)
		a.feedConsumer = feed.NewConsumer(a.config.FeedWSURL, tokens, a.engine)
		if err := a.feedConsumer.Start(ctx); err != nil {
			return fmt.Errorf("feed consumer failed to start: %w", err)
		}
	} else {
		log.Println("ℹ️  Review feed DISABLED, ingest via API only")
	}

	// 11. API server
	apiServer := api.NewServer(a.engine, a.repo, a.analyticsRepo, a.webhookManager, a.broker)
	if a.feedConsumer != nil {
		apiServer.SetFeedHealth(a.feedConsumer.Healthy)
	}
	go func() {
		if err := apiServer.Start(a.config.APIPort); err != nil {
			log.Printf("⚠️  API Server failed: %v", err)
		}
	}()

	// 12. Wait for interrupt and perform graceful shutdown
	return a.gracefulShutdown(cancel)
}

// Engine exposes the assembled engine, mainly for tests and tooling.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// gracefulShutdown handles graceful shutdown with timeout
func (a *App) gracefulShutdown(cancel context.CancelFunc) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	<-interrupt
	fmt.Println("\n🛑 Shutdown signal received, initiating graceful shutdown...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	shutdownComplete := make(chan struct{})
	go func() {
		var wg sync.WaitGroup

		if a.feedConsumer != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fmt.Println("📡 Stopping review feed consumer...")
				a.feedConsumer.Stop()
			}()
		}
		if a.propRunner != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fmt.Println("🕸️  Stopping propagation runner...")
				a.propRunner.Stop()
			}()
		}
		if a.statsPersister != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fmt.Println("📊 Stopping stats persister...")
				a.statsPersister.Stop()
			}()
		}
		wg.Wait()

		if a.db != nil {
			if err := a.db.Close(); err != nil {
				log.Printf("Error closing database: %v", err)
			} else {
				fmt.Println("✅ Database connection closed")
			}
		}
		if a.analyticsDB != nil {
			if err := a.analyticsDB.Close(); err != nil {
				log.Printf("Error closing analytics connection: %v", err)
			}
		}
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				log.Printf("Error closing redis: %v", err)
			} else {
				fmt.Println("✅ Redis connection closed")
			}
		}

		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		fmt.Println("✅ Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		fmt.Println("⚠️  Shutdown timeout exceeded, forcing exit")
		return fmt.Errorf("shutdown timeout")
	}
}
