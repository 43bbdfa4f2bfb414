package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dianping/shophub/internal/cache"
	"dianping/shophub/internal/cache/codec"
	"dianping/shophub/internal/config"
	"dianping/shophub/internal/handler"
	"dianping/shophub/internal/idgen"
	"dianping/shophub/internal/lock"
	"dianping/shophub/internal/model"
	"dianping/shophub/internal/repository"
	"dianping/shophub/internal/seckill"
	"dianping/shophub/internal/service"
	jwtpkg "dianping/shophub/pkg/jwt"
)

func main() {
	configPath := "config.yaml"
	if p := os.Getenv("SHOPHUB_CONFIG"); p != "" {
		configPath = p
	}

	// 1. Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if cfg.JWT.SigningKey == "" {
		log.Fatal("jwt.signing_key must be set")
	}

	// 2. Initialize logger
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 3. Connect to the durable store
	db, err := config.NewDatabase(cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}

	// 4. Auto-migrate if enabled
	if cfg.Database.AutoMigrate {
		if err := model.AutoMigrate(db); err != nil {
			logger.Fatal("failed to auto-migrate", zap.Error(err))
		}
		logger.Info("database migration completed")
	}

	// 5. Connect to Redis; locks, ids and seckill always live there
	redisClient, err := config.NewRedisClient(cfg.Database.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	// 6. Initialize cache store (Redis or in-memory)
	var kvStore repository.KVStore
	switch cfg.Cache.Backend {
	case "redis":
		kvStore = repository.NewRedisKVStore(redisClient)
		logger.Info("using Redis cache store")
	case "memory":
		kvStore = repository.NewMemoryKVStore()
		logger.Info("using in-memory cache store")
	default:
		logger.Fatal("unknown cache backend", zap.String("backend", cfg.Cache.Backend))
	}

	cacheCodec, err := codec.ByName(cfg.Cache.Codec)
	if err != nil {
		logger.Fatal("failed to init cache codec", zap.Error(err))
	}

	// 7. Core primitives
	locker := lock.New(redisClient, logger.Named("lock"))
	ids := idgen.New(redisClient,
		idgen.WithEpoch(time.Unix(cfg.ID.EpochUnix, 0).UTC()),
		idgen.WithCounterTTL(cfg.ID.CounterTTL),
	)
	cacheClient := cache.NewClient(
		kvStore,
		locker,
		cacheCodec,
		cache.NewPool(cfg.Cache.RebuildWorkers, cfg.Cache.RebuildQueueSize, cfg.Cache.RebuildTimeout, logger.Named("rebuild")),
		cache.Options{
			NullTTL:            cfg.Cache.NullTTL,
			LockTTL:            cfg.Cache.LockTTL,
			MutexRetryInterval: cfg.Cache.MutexRetryInterval,
			MutexWait:          cfg.Cache.MutexWait,
		},
		logger.Named("cache"),
	)

	// 8. Initialize repositories
	shopRepo := repository.NewPGShopRepository(db)
	voucherRepo := repository.NewPGVoucherRepository(db)
	orderRepo := repository.NewPGVoucherOrderRepository(db)

	// 9. Seckill pipeline
	pipeline := seckill.New(
		redisClient,
		ids,
		locker,
		service.NewOrderPersister(orderRepo),
		seckill.Config{
			Stream:       cfg.Seckill.StreamName,
			Group:        cfg.Seckill.GroupName,
			Consumer:     cfg.Seckill.ConsumerName,
			Block:        cfg.Seckill.BlockTimeout,
			LockTTL:      cfg.Seckill.LockTTL,
			AlertAfter:   cfg.Seckill.AlertAfter,
			RetryBackoff: cfg.Seckill.RetryBackoff,
			PendingIdle:  cfg.Seckill.PendingIdle,
		},
		logger.Named("seckill"),
	)
	if err := pipeline.Start(context.Background()); err != nil {
		logger.Fatal("failed to start order consumer", zap.Error(err))
	}

	// 10. Initialize services
	shopService := service.NewShopService(shopRepo, cacheClient, service.ShopCacheConfig{
		TTL:    cfg.Cache.ShopTTL,
		HotTTL: cfg.Cache.HotShopTTL,
	}, logger.Named("shop"))
	voucherService := service.NewVoucherService(voucherRepo, pipeline, cacheClient, cfg.Cache.VoucherTTL, logger.Named("voucher"))
	orderService := service.NewVoucherOrderService(voucherService, pipeline, logger.Named("order"))

	if cfg.Cache.WarmUpShops > 0 {
		n, err := shopService.WarmUpTop(context.Background(), cfg.Cache.WarmUpShops)
		if err != nil {
			logger.Warn("hot shop warm-up incomplete", zap.Int("warmed", n), zap.Error(err))
		} else {
			logger.Info("hot shops warmed", zap.Int("count", n))
		}
	}

	// 11. Setup router
	jwtManager := jwtpkg.NewManager(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.AccessTokenTTL)
	router := handler.SetupRouter(cfg, logger, jwtManager,
		handler.NewShopHandler(shopService),
		handler.NewVoucherHandler(voucherService),
		handler.NewVoucherOrderHandler(orderService),
	)

	// 12. Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 13. Start server with graceful shutdown
	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// 14. Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	// Stop intake before draining background work.
	if err := pipeline.Stop(ctx); err != nil {
		logger.Error("order consumer did not stop cleanly", zap.Error(err))
	}
	if err := cacheClient.Close(ctx); err != nil {
		logger.Error("cache rebuilds did not drain", zap.Error(err))
	}
	logger.Info("server exited gracefully")
}
