package mq

import (
	"context"
	"errors"
	"fmt"

	"energy-ledger-go/internal/models"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrPermanent marks a message that can never succeed; it is acknowledged and dropped.
var ErrPermanent = errors.New("permanent message failure")

// MessageHandler processes one message body. Returning an error wrapping
// ErrPermanent acks the message; any other error dead-letters it.
type MessageHandler func(ctx context.Context, body []byte) error

type Consumer struct {
	channel    *amqp.Channel
	queue      string
	dlqQueue   string
	exchange   string
	routingKey string
	prefetch   int
	logger     *zap.Logger
	handler    MessageHandler

	done chan struct{}
}

type ConsumerConfig struct {
	Connection *Connection
	Exchange   string
	Queue      string
	RoutingKey string
	Prefetch   int
	Logger     *zap.Logger
	Handler    MessageHandler
}

// NewConsumer declares the topic exchange, the work queue with its dead-letter
// queue, and binds them.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	dlq := cfg.Queue + ".dlq"

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare DLQ: %w", err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return &Consumer{
		channel:    ch,
		queue:      cfg.Queue,
		dlqQueue:   dlq,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		prefetch:   cfg.Prefetch,
		logger:     cfg.Logger,
		handler:    cfg.Handler,
	}, nil
}

// Start begins consuming until ctx is cancelled or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Reading consumer started",
		zap.String("queue", c.queue),
		zap.String("dlq", c.dlqQueue),
		zap.Int("prefetch", c.prefetch))

	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("Message channel closed")
					return
				}
				c.handle(ctx, msg)
			}
		}
	}()
	return nil
}

// handle runs the handler for one delivery and settles it.
func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	requestId := msg.MessageId
	if requestId == "" {
		requestId = uuid.New().String()
	}
	logger := c.logger.With(
		zap.String("request_id", requestId),
		zap.String("routing_key", msg.RoutingKey))
	ctx = models.WithRequestId(ctx, requestId)

	logger.Debug("Received message", zap.Int("body_size", len(msg.Body)))

	err := c.handler(ctx, msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message", zap.Error(ackErr))
		}
	case errors.Is(err, ErrPermanent):
		logger.Warn("Dropping unprocessable message", zap.Error(err))
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message", zap.Error(ackErr))
		}
	default:
		logger.Error("Message failed, dead-lettering", zap.Error(err))
		if nackErr := msg.Nack(false, false); nackErr != nil {
			logger.Error("Failed to NACK message", zap.Error(nackErr))
		}
	}
}

// Close closes the channel and waits for the delivery loop to exit.
func (c *Consumer) Close() error {
	err := c.channel.Close()
	if c.done != nil {
		<-c.done
	}
	return err
}
