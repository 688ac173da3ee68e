package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"candlekeeper/internal/application/service/collector"
	appmarketdata "candlekeeper/internal/application/service/marketdata"
	"candlekeeper/internal/config"
	interfaces "candlekeeper/internal/domain/interfaces"
	"candlekeeper/internal/infrastructure/bank"
	"candlekeeper/internal/infrastructure/broker"
	"candlekeeper/internal/infrastructure/cache"
	inframarketdata "candlekeeper/internal/infrastructure/marketdata"
	"candlekeeper/internal/infrastructure/oanda"
	infrahttp "candlekeeper/internal/interfaces/http"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logger.Warnf("unknown LOG_LEVEL %q, keeping info", cfg.LogLevel)
	} else {
		logger.SetLevel(level)
	}

	keys, err := cfg.Feed.Keys()
	if err != nil {
		logger.Fatalf("invalid feed keys: %v", err)
	}

	fetcher, err := oanda.NewClient(oanda.Config{
		BaseURL:     cfg.Oanda.BaseURL,
		Environment: cfg.Oanda.Environment,
		Token:       cfg.Oanda.Token,
		Timeout:     cfg.Oanda.Timeout,
	}, logger)
	if err != nil {
		logger.Fatalf("failed to init oanda client: %v", err)
	}
	registry := collector.NewRegistry(fetcher,
		collector.WithLogger(logger),
		collector.WithSettings(cfg.Collector.Settings()),
	)

	var (
		stores      []interfaces.SequenceStore
		sink        broker.CandleSink
		redisClient *redis.Client
	)
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		stores = append(stores, cache.NewSnapshotStore(redisClient, cfg.Cache.SnapshotTTL))
	}
	if cfg.Bank.Dir != "" {
		candleBank, err := bank.Open(cfg.Bank.Path(), logger)
		if err != nil {
			logger.Fatalf("failed to open candle bank: %v", err)
		}
		defer candleBank.Close()
		stores = append(stores, candleBank)
	}
	if cfg.Postgres.DSN != "" {
		repo, err := inframarketdata.NewRepository(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.Fatalf("failed to init candle repository: %v", err)
		}
		defer repo.Close()
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Fatalf("failed to prepare candle schema: %v", err)
		}
		stores = append(stores, repo)
		sink = repo
	}

	service := appmarketdata.NewService(registry, logger, stores...)
	service.Limit(keys...)
	for _, key := range keys {
		err := service.Restore(ctx, key.Instrument, key.Granularity)
		switch {
		case err == nil, errors.Is(err, interfaces.ErrSequenceNotFound):
		default:
			logger.WithError(err).WithField("key", key.String()).Warn("failed to restore window")
		}
		registry.Get(key.Instrument, key.Granularity)
	}

	cacheTTL := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	handler := infrahttp.NewHandler(service, redisClient, cacheTTL, logger)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.RabbitMQ.URL != "" && sink != nil {
		consumer, err := broker.NewConsumer(cfg.RabbitMQ, sink, logger)
		if err != nil {
			logger.Fatalf("failed to init consumer: %v", err)
		}
		if err := consumer.Start(ctx); err != nil {
			logger.Fatalf("failed to start consumer: %v", err)
		}
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer closeCancel()
			if err := consumer.Close(closeCtx); err != nil {
				logger.Errorf("consumer close error: %v", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("HTTP server listening on %s", cfg.HTTP.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})
	if len(stores) > 0 && cfg.Feed.PersistInterval > 0 {
		g.Go(func() error {
			persistLoop(gctx, service, cfg.Feed.PersistInterval, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Errorf("server error: %v", err)
	}

	if len(stores) > 0 {
		persistCtx, persistCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer persistCancel()
		if _, err := service.Persist(persistCtx); err != nil {
			logger.Errorf("final persist error: %v", err)
		}
	}
	logger.Info("server stopped")
}

func persistLoop(ctx context.Context, service *appmarketdata.Service, interval time.Duration, logger *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			written, err := service.Persist(ctx)
			if err != nil {
				logger.WithError(err).Warn("periodic persist failed")
				continue
			}
			logger.WithField("windows", written).Debug("windows persisted")
		}
	}
}
