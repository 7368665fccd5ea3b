// Package main provides the API server entry point for the AVCO ledger.
// One process serves the HTTP API, runs the backfill runner and dispatches
// the trigger bus.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/avco-ledger/internal/adapter"
	"github.com/avco-ledger/internal/api"
	"github.com/avco-ledger/internal/classifier"
	"github.com/avco-ledger/internal/config"
	"github.com/avco-ledger/internal/events"
	"github.com/avco-ledger/internal/job"
	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/pricing"
	"github.com/avco-ledger/internal/ratelimit"
	"github.com/avco-ledger/internal/service"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/storage/memory"
	"github.com/avco-ledger/internal/types"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":   cfg.Logging.Level,
		"format":  cfg.Logging.Format,
		"backend": cfg.Store.Backend,
	}).Info("AVCO ledger server starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	stores, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open stores")
	}
	defer closeStores()

	redisCache, closeRedis := openRedis(ctx, cfg)
	defer closeRedis()

	var budget adapter.Budget
	var viewCache service.ViewCache
	if redisCache != nil {
		viewCache = storage.NewCacheService(redisCache, cfg.CrossWallet.CacheTTL)
		if cfg.RPC.SharedBudgetPerSecond > 0 {
			b, err := ratelimit.NewBudget(&ratelimit.Config{
				Redis:             redisCache.Client(),
				RequestsPerWindow: cfg.RPC.SharedBudgetPerSecond,
			})
			if err != nil {
				logger.WithError(err).Fatal("Failed to create RPC budget")
			}
			budget = b
		}
	}

	registry, err := adapter.NewRegistryFromConfig(cfg.Networks, cfg.RPC, budget)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize network adapters")
	}

	cls := classifier.NewDispatcher(classifier.NewTransferClassifier(classifier.NewTokenRegistry()))
	prices := pricing.Chain{pricing.NewStablecoinResolver()}
	deferred := pricing.NewDeferredPriceJob(stores.Events, prices)

	bus := events.NewBus(cfg.Events.Buffer, cfg.Events.Workers)

	executor := job.NewBackfillNetworkExecutor(registry, stores, cls, prices, deferred, bus, cfg.Backfill, cfg.Networks)
	reclassifier := service.NewInternalTransferReclassifier(stores.Events, stores.Syncs)
	runner := job.NewBackfillJobRunner(executor, registry, stores.Syncs, reclassifier, bus, cfg.Backfill)
	sweep := job.NewClassificationSweep(registry, cls, prices, stores, executor.BlockTime)

	engine := service.NewAvcoEngine(stores.Events, stores.Positions, stores.Overrides)
	crossWallet := service.NewCrossWalletAvcoService(stores.Events, stores.Overrides, viewCache)
	overrides := service.NewOverrideService(stores.Events, stores.Overrides, bus)

	events.NewRouter(runner, engine, sweep, crossWallet).Attach(bus)

	// The bus outlives the signal context so queued signals drain on shutdown
	busCtx, cancelBus := context.WithCancel(logging.WithLogger(context.Background(), logging.WithComponent("events")))
	defer cancelBus()
	go bus.Run(busCtx)

	resumed, err := runner.ResumeOnStartup(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to resume interrupted backfills")
	} else if resumed > 0 {
		logger.Infof("Resumed %d interrupted backfills", resumed)
	}
	if err := runner.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start backfill runner")
	}

	server := api.NewServer(cfg.Server, api.Dependencies{
		Publisher:   bus,
		Syncs:       stores.Syncs,
		Positions:   stores.Positions,
		Overrides:   overrides,
		CrossWallet: crossWallet,
		Networks:    enabledNetworks(cfg.Networks),
	})

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	runner.Stop()

	bus.Close()
	select {
	case <-bus.Done():
	case <-shutdownCtx.Done():
		logger.Warn("Event bus did not drain before the shutdown deadline")
	}

	logger.Info("Server exited")
}

// openStores returns the configured persistence backend and its closer
func openStores(ctx context.Context, cfg *config.Config) (*storage.Stores, func(), error) {
	if cfg.Store.Backend == "memory" {
		return memory.NewStores(), func() {}, nil
	}

	pg, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	ch, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
	if err != nil {
		pg.Close()
		return nil, nil, err
	}

	closer := func() {
		pg.Close()
		if err := ch.Close(); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Error closing ClickHouse connection")
		}
	}
	return storage.NewDatabaseStores(pg, ch), closer, nil
}

// openRedis connects the view cache. The memory backend runs an embedded
// Redis so the cache path behaves the same; a failed connection disables
// caching instead of failing startup.
func openRedis(ctx context.Context, cfg *config.Config) (*storage.RedisCache, func()) {
	log := logging.FromContext(ctx)

	if cfg.Store.Backend == "memory" {
		mr, err := miniredis.Run()
		if err != nil {
			log.WithError(err).Warn("Embedded Redis unavailable, cross-wallet cache disabled")
			return nil, func() {}
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return storage.NewRedisCacheFromClient(client), func() {
			_ = client.Close()
			mr.Close()
		}
	}

	cache, err := storage.NewRedisCache(ctx, &cfg.Database.Redis)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, cross-wallet cache disabled")
		return nil, func() {}
	}
	return cache, func() { _ = cache.Close() }
}

func enabledNetworks(cfg config.NetworksConfig) []types.Network {
	out := make([]types.Network, 0, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		if n, ok := types.ParseNetwork(name); ok {
			out = append(out, n)
		}
	}
	return out
}
