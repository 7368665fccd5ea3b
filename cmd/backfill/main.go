// Package main provides a one-shot backfill of a single (wallet, network).
// It runs both phases in the foreground, sweeps failed classifications,
// replays the wallet's positions and prints them as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/avco-ledger/internal/adapter"
	"github.com/avco-ledger/internal/classifier"
	"github.com/avco-ledger/internal/config"
	"github.com/avco-ledger/internal/events"
	"github.com/avco-ledger/internal/job"
	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/pricing"
	"github.com/avco-ledger/internal/service"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/storage/memory"
	"github.com/avco-ledger/internal/types"
)

func main() {
	var (
		walletFlag  = flag.String("wallet", "", "Wallet address to backfill")
		networkFlag = flag.String("network", "ethereum", "Network to backfill")
		noReplay    = flag.Bool("no-replay", false, "Skip the AVCO replay after the backfill")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.WithComponent("backfill-cli")

	wallet := strings.ToLower(strings.TrimSpace(*walletFlag))
	if wallet == "" {
		logger.Fatal("-wallet is required")
	}
	network, ok := types.ParseNetwork(*networkFlag)
	if !ok {
		logger.Fatalf("unknown network %q", *networkFlag)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger.WithFields(map[string]interface{}{
		"wallet":  wallet,
		"network": string(network),
	}))

	stores, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open stores")
	}
	defer closeStores()

	registry, err := adapter.NewRegistryFromConfig(cfg.Networks, cfg.RPC, nil)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize network adapters")
	}

	cls := classifier.NewDispatcher(classifier.NewTransferClassifier(classifier.NewTokenRegistry()))
	prices := pricing.Chain{pricing.NewStablecoinResolver()}
	deferred := pricing.NewDeferredPriceJob(stores.Events, prices)

	// Signals are collected and acted on in the foreground
	recorder := &events.Recorder{}
	executor := job.NewBackfillNetworkExecutor(registry, stores, cls, prices, deferred, recorder, cfg.Backfill, cfg.Networks)
	sweep := job.NewClassificationSweep(registry, cls, prices, stores, executor.BlockTime)

	if err := executor.Execute(ctx, wallet, network); err != nil {
		logger.WithError(err).Fatal("Backfill failed")
	}

	if len(recorder.OfKind(events.KindRawFetchComplete)) > 0 {
		recovered, err := sweep.Run(ctx, wallet, network)
		if err != nil {
			logger.WithError(err).Error("Classification sweep failed")
		} else if recovered > 0 {
			logger.Infof("Sweep recovered %d transactions", recovered)
		}
	}

	if *noReplay {
		logger.Info("Backfill complete")
		return
	}

	engine := service.NewAvcoEngine(stores.Events, stores.Positions, stores.Overrides)
	n, err := engine.RecalculateForWallet(ctx, wallet)
	if err != nil {
		logger.WithError(err).Fatal("Replay failed")
	}
	logger.Infof("Replayed %d assets", n)

	positions, err := stores.Positions.ListByWallet(ctx, wallet)
	if err != nil {
		logger.WithError(err).Fatal("Failed to list positions")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(positions); err != nil {
		logger.WithError(err).Fatal("Failed to print positions")
	}
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
	return storage.NewDatabaseStores(pg, ch), func() {
		pg.Close()
		_ = ch.Close()
	}, nil
}
