package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"traitfusion-api/internal/cache"
	"traitfusion-api/internal/config"
	"traitfusion-api/internal/handler"
	"traitfusion-api/internal/ledger"
	"traitfusion-api/internal/middleware"
	"traitfusion-api/internal/notify"
	"traitfusion-api/internal/randomness"
	"traitfusion-api/internal/repository"
	"traitfusion-api/internal/router"
	"traitfusion-api/internal/service"
)

// openStore opens the trait store selected by STORE_TYPE.
func openStore(cfg *config.Config, mysqlDB func() (*sql.DB, error)) (repository.Store, error) {
	switch cfg.Store.Type {
	case "postgres", "postgresql":
		return repository.NewPostgresStore(cfg.Store.PostgresDSN())
	case "mysql":
		db, err := mysqlDB()
		if err != nil {
			return nil, err
		}
		return repository.NewMySQLStore(db)
	case "badger":
		return repository.NewBadgerStore(cfg.Store.Dir)
	case "sqlite", "":
		return repository.NewSQLiteStore(cfg.Store.Path)
	}
	return nil, fmt.Errorf("unknown STORE_TYPE %q", cfg.Store.Type)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting TraitFusion API...")

	// Load configuration
	cfg := config.MustLoad()
	log.Printf("Environment: %s", cfg.App.Environment)
	if !cfg.App.IsDevelopment() {
		// file:line prefixes are only useful while developing
		log.SetFlags(log.LstdFlags)
	}

	apiKeys, err := config.ParseAPIKeys(cfg.App.APIKeys)
	if err != nil {
		log.Fatalf("Invalid API keys: %v", err)
	}
	if len(apiKeys) == 0 {
		log.Println("Warning: API_KEYS is empty, every request is anonymous")
	}

	// MySQL is shared by the mysql store and the mysql ledger
	var mysqlDB *sql.DB
	openMySQL := func() (*sql.DB, error) {
		if mysqlDB != nil {
			return mysqlDB, nil
		}
		db, err := ledger.OpenMySQL(cfg.Database.DSN())
		if err != nil {
			return nil, err
		}
		mysqlDB = db
		log.Println("MySQL connection initialized")
		return db, nil
	}

	// Initialize trait store based on config
	store, err := openStore(cfg, openMySQL)
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", cfg.Store.Type, err)
	}
	defer store.Close()
	log.Printf("Trait store initialized (%s)", cfg.Store.Type)

	// Initialize ledger and registry
	var (
		tokenLedger service.Ledger
		registry    service.Registry
		minter      service.Minter
	)
	switch cfg.Ledger.Type {
	case "mysql":
		db, err := openMySQL()
		if err != nil {
			log.Fatalf("Failed to connect ledger database: %v", err)
		}
		mysqlLedger, err := ledger.NewMySQLLedger(db)
		if err != nil {
			log.Fatalf("Failed to initialize MySQL ledger: %v", err)
		}
		tokenLedger, registry, minter = mysqlLedger, mysqlLedger, mysqlLedger
	default:
		memRegistry := ledger.NewMemoryRegistry()
		tokenLedger, registry, minter = ledger.NewMemoryLedger(), memRegistry, memRegistry
		log.Println("Warning: using in-memory ledger and registry")
	}
	if mysqlDB != nil {
		defer mysqlDB.Close()
	}

	// Initialize Redis client (optional)
	var redisClient *redis.Client
	if cfg.Cache.Type == "redis" || cfg.Notify.RedisStream != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddress(),
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed: %v", err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Println("Redis client initialized")
			defer redisClient.Close()
		}
		cancel()
	}

	// Attribute read cache
	var attrCache cache.Cache = cache.Noop{}
	switch cfg.Cache.Type {
	case "redis":
		if redisClient != nil {
			attrCache = cache.NewRedisCacheFromClient(redisClient, cfg.Cache.RedisPrefix)
		} else {
			log.Println("Warning: Redis unavailable, falling back to memory cache")
			memCache := cache.NewMemoryCache()
			defer memCache.Close()
			attrCache = memCache
		}
	case "memory":
		memCache := cache.NewMemoryCache()
		defer memCache.Close()
		attrCache = memCache
	}

	// Change notifications
	publishers := notify.Multi{}
	if cfg.Notify.Log {
		publishers = append(publishers, notify.LogPublisher{})
	}
	if cfg.Notify.RedisStream != "" && redisClient != nil {
		publishers = append(publishers, notify.NewRedisStreamPublisher(redisClient, cfg.Notify.RedisStream, cfg.Notify.StreamMaxLen))
		log.Printf("Publishing events to Redis stream %s", cfg.Notify.RedisStream)
	}

	// Event history: MongoDB when configured, otherwise a bounded in-memory feed
	var eventFeed notify.Feed
	if cfg.Notify.MongoURI != "" {
		mongoFeed, err := notify.NewMongoFeed(cfg.Notify.MongoURI, cfg.Notify.MongoDatabase, cfg.Notify.MongoCollection)
		if err != nil {
			log.Printf("Warning: MongoDB event feed failed: %v", err)
		} else {
			defer mongoFeed.Close()
			eventFeed = mongoFeed
		}
	}
	if eventFeed == nil {
		eventFeed = notify.NewRecorder(cfg.Notify.FeedSize)
	}
	publishers = append(publishers, eventFeed)

	// Roles
	roles := service.NewRoles()
	roles.Grant(service.RoleEngine, cfg.Roles.Engine...)
	roles.Grant(service.RoleOracle, cfg.Roles.Oracle...)
	roles.Grant(service.RoleBridge, cfg.Roles.Bridge...)
	engineIdentity := "engine"
	if len(cfg.Roles.Engine) > 0 {
		engineIdentity = cfg.Roles.Engine[0]
	}

	// Randomness beacon
	beacon := randomness.NewLocalBeacon(randomness.Config{
		Delay:   cfg.Randomness.Delay,
		Values:  cfg.Randomness.Values,
		Retries: cfg.Randomness.Retries,
	})

	// Initialize services
	locker := service.NewItemLocker()
	attrs := service.NewAttributeStore(service.AttributeStoreConfig{
		Store:     store,
		Cache:     attrCache,
		CacheTTL:  cfg.Cache.TTL,
		Roles:     roles,
		Locker:    locker,
		Publisher: publishers,
	})
	engine := service.NewEngine(service.EngineDeps{
		Identity: engineIdentity,
		Config: service.GameConfig{
			Collection:           cfg.Game.Collection,
			FightReward:          cfg.Game.FightReward,
			PotionCost:           cfg.Game.PotionCost,
			LootBoxCost:          cfg.Game.LootBoxCost,
			StepsMilestoneReward: cfg.Game.StepsMilestoneReward,
			QuestReward:          cfg.Game.QuestReward,
		},
		Attributes: attrs,
		Store:      store,
		Registry:   registry,
		Minter:     minter,
		Ledger:     tokenLedger,
		Randomness: beacon,
		Roles:      roles,
	})
	beacon.SetFulfiller(engine.DeliverRandomness)
	snapshots := service.NewSnapshotService(engine, store, roles)
	oracle := service.NewOracleAdapter(engine, store, roles)

	scheduler := service.NewScheduler(store, service.SchedulerConfig{
		DailyResetSpec:   cfg.Game.DailyResetSchedule,
		JanitorSpec:      cfg.Oracle.JanitorSchedule,
		OracleRequestTTL: cfg.Oracle.RequestTTL,
	}, nil)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// Initialize handlers
	healthHandler := handler.New(cfg.App.Name, cfg.App.Version, handler.ReadinessCheck{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := store.GetStats(ctx)
			return err
		},
	})

	// Create auth middleware with injected dependencies (NO GLOBALS!)
	authMiddleware := middleware.NewAuthMiddleware(middleware.AuthConfig{Keys: apiKeys})

	// Create router
	r := router.New(router.Config{
		Handler:         healthHandler,
		ItemHandler:     handler.NewItemHandler(engine, attrs),
		ActionHandler:   handler.NewActionHandler(engine),
		SnapshotHandler: handler.NewSnapshotHandler(snapshots),
		OracleHandler:   handler.NewOracleHandler(oracle, engine, roles),
		EventHandler:    handler.NewEventHandler(eventFeed, engine.Collection()),
		AdminHandler:    handler.NewAdminHandler(store, attrCache, cfg.Store.Type, roles, locker, scheduler),
		AuthMiddleware:  authMiddleware,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Stop background work before the store closes
	scheduler.Stop()
	beacon.Close()

	log.Println("Server stopped")
	fmt.Println("Goodbye!")
}
