package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"candlekeeper/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Consumer subscribes to the candles fanout exchange and forwards messages
// into the sink through a BatchWriter.
type Consumer struct {
	cfg    config.RabbitMQConfig
	logger *logrus.Entry

	conn    *amqp.Connection
	channel *amqp.Channel
	wg      sync.WaitGroup
	batcher *BatchWriter
}

func NewConsumer(cfg config.RabbitMQConfig, sink CandleSink, logger *logrus.Logger) (*Consumer, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if sink == nil {
		return nil, errors.New("candle sink is required")
	}
	return &Consumer{
		cfg:     cfg,
		logger:  logger.WithField("component", "consumer"),
		batcher: NewBatchWriter(BatchConfig{Size: cfg.BatchSize, Timeout: cfg.BatchTimeout}, sink, logger),
	}, nil
}

// Start dials the broker and begins consuming in the background.
func (c *Consumer) Start(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	c.conn = conn
	c.batcher.Run(ctx)

	deliveries, err := c.subscribe()
	if err != nil {
		_ = c.Close(ctx)
		return err
	}
	c.wg.Add(1)
	go c.consumeLoop(ctx, deliveries)

	c.logger.WithField("exchange", c.cfg.CandlesExchange).Info("rabbitmq consumer started")
	return nil
}

// Close stops consumption, flushes pending batches and releases resources.
func (c *Consumer) Close(ctx context.Context) error {
	if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.wg.Wait()
	return c.batcher.Stop(ctx)
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	exchange := c.cfg.CandlesExchange
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, "", exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bind queue %s to %s: %w", queue.Name, exchange, err)
	}
	if err := ch.Qos(max(c.cfg.Prefetch, 1), 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(queue.Name, "", false, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("start consume: %w", err)
	}
	c.channel = ch
	return deliveries, nil
}

func (c *Consumer) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			c.settle(delivery, c.handle(delivery.Body))
		}
	}
}

// settle drops malformed messages and requeues ones the sink refused.
func (c *Consumer) settle(delivery amqp.Delivery, err error) {
	switch {
	case err == nil:
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.WithError(ackErr).Warn("failed to ack delivery")
		}
	case errors.Is(err, errMalformed):
		c.logger.WithError(err).Warn("dropping malformed message")
		_ = delivery.Nack(false, false)
	default:
		c.logger.WithError(err).Warn("failed to process message")
		_ = delivery.Nack(false, true)
	}
}

var errMalformed = errors.New("malformed candle message")

func (c *Consumer) handle(body []byte) error {
	var msg CandleMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if _, err := msg.Key(); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return c.batcher.Add(msg)
}
