package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"candlekeeper/internal/application/service/collector"
	"candlekeeper/internal/config"
	"candlekeeper/internal/infrastructure/broker"
	"candlekeeper/internal/infrastructure/oanda"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// The producer keeps the configured windows warm and publishes every candle
// that completes to the candles exchange.
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.RabbitMQ.URL == "" {
		logger.Fatal("RABBITMQ_URL is required")
	}
	keys, err := cfg.Feed.Keys()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rabbitConn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Fatalf("connect rabbitmq: %v", err)
	}
	defer rabbitConn.Close()

	pub, err := broker.NewPublisher(rabbitConn, cfg.RabbitMQ.CandlesExchange, logger)
	if err != nil {
		logger.Fatalf("init publisher: %v", err)
	}
	defer pub.Close()

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
	feed := broker.NewFeed(pub, cfg.Feed.Depth, cfg.Feed.PollInterval, logger)

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		reader := registry.Get(key.Instrument, key.Granularity)
		g.Go(func() error {
			return feed.Run(gctx, reader)
		})
	}

	logger.WithFields(logrus.Fields{
		"keys":       len(keys),
		"candles_ex": cfg.RabbitMQ.CandlesExchange,
	}).Info("producer started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("producer stopped with error: %v", err)
	}

	logger.Info("producer stopped")
}
