package main

import (
	"context"
	"os/signal"
	"syscall"

	"candlekeeper/internal/application/service/collector"
	"candlekeeper/internal/config"
	interfaces "candlekeeper/internal/domain/interfaces"
	"candlekeeper/internal/infrastructure/bank"
	inframarketdata "candlekeeper/internal/infrastructure/marketdata"
	"candlekeeper/internal/infrastructure/oanda"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// maxParallelKeys bounds concurrent backfills.
const maxParallelKeys = 4

// data backfills BACKFILL_DEPTH candles for every configured series into the
// configured stores and exits.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	keys, err := cfg.Feed.Keys()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	var stores []interfaces.SequenceStore
	if cfg.Postgres.DSN != "" {
		repo, err := inframarketdata.NewRepository(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.Fatalf("connect postgres: %v", err)
		}
		defer repo.Close()
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Fatalf("prepare schema: %v", err)
		}
		stores = append(stores, repo)
	}
	if cfg.Bank.Dir != "" {
		candleBank, err := bank.Open(cfg.Bank.Path(), logger)
		if err != nil {
			logger.Fatalf("open candle bank: %v", err)
		}
		defer candleBank.Close()
		stores = append(stores, candleBank)
	}
	if len(stores) == 0 {
		logger.Fatal("neither DATABASE_DSN nor BANK_DIR is set, nothing to backfill into")
	}

	fetcher, err := oanda.NewClient(oanda.Config{
		BaseURL:     cfg.Oanda.BaseURL,
		Environment: cfg.Oanda.Environment,
		Token:       cfg.Oanda.Token,
		Timeout:     cfg.Oanda.Timeout,
	}, logger)
	if err != nil {
		logger.Fatalf("create oanda client: %v", err)
	}
	registry := collector.NewRegistry(fetcher,
		collector.WithLogger(logger),
		collector.WithSettings(cfg.Collector.Settings()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelKeys)
	for _, key := range keys {
		g.Go(func() error {
			seq, err := registry.Get(key.Instrument, key.Granularity).Read(gctx, cfg.Feed.BackfillDepth)
			if err != nil {
				logger.WithError(err).WithField("key", key.String()).Error("backfill failed")
				return nil
			}
			for _, store := range stores {
				if err := store.SaveSequence(gctx, seq); err != nil {
					return err
				}
			}
			logger.WithFields(logrus.Fields{
				"key":     key.String(),
				"candles": seq.Len(),
				"from":    seq.Start().String(),
				"to":      seq.End().String(),
			}).Info("series backfilled")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Fatalf("backfill stopped: %v", err)
	}
	logger.WithField("keys", len(keys)).Info("backfill finished")
}
