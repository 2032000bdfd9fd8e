package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Connection wraps a RabbitMQ connection.
type Connection struct {
	conn   *amqp.Connection
	logger *zap.Logger
}

func NewConnection(logger *zap.Logger, url string) (*Connection, error) {
	logger.Info("Connecting to RabbitMQ")

	conn, err := amqp.Dial(url)
	if err != nil {
		logger.Error("RabbitMQ connection failed", zap.Error(err))
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	logger.Info("RabbitMQ connection established")
	return &Connection{conn: conn, logger: logger}, nil
}

func (c *Connection) Channel() (*amqp.Channel, error) {
	return c.conn.Channel()
}

func (c *Connection) Close() error {
	if err := c.conn.Close(); err != nil {
		c.logger.Error("Failed to close RabbitMQ connection", zap.Error(err))
		return err
	}
	c.logger.Info("RabbitMQ connection closed")
	return nil
}
