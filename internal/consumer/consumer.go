// Package consumer reads domain events from RabbitMQ and feeds them to the
// event handler. Messages are acknowledged only after the handler completes;
// handler failures nack with requeue, malformed payloads are dropped with an
// ack so they cannot wedge the queue.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Aixtrade/LLMTrigger/internal/metrics"
	"github.com/Aixtrade/LLMTrigger/internal/models"
)

const (
	// prefetchCount bounds unacknowledged deliveries per worker.
	prefetchCount = 10
	// handleTimeout is the overall deadline for one message.
	handleTimeout = 30 * time.Second
)

// EventHandler processes one event end to end.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *models.Event) error
}

// Consumer is a RabbitMQ consumer bound to a single durable queue.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

// NewConsumer connects to RabbitMQ and declares the durable event queue.
func NewConsumer(url, queue string) (*Consumer, error) {
	if url == "" {
		return nil, fmt.Errorf("rabbitmq url cannot be empty")
	}
	if queue == "" {
		return nil, fmt.Errorf("queue name cannot be empty")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.Qos(prefetchCount, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	slog.Info("Connected to RabbitMQ", "queue", queue)
	return &Consumer{conn: conn, channel: channel, queue: queue}, nil
}

// Start consumes messages until ctx is cancelled. In-flight messages finish
// before the method returns.
func (c *Consumer) Start(ctx context.Context, handler EventHandler) error {
	deliveries, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	slog.Info("Starting message consumption", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Consumer stopped")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("delivery channel closed")
			}
			c.process(ctx, handler, delivery)
		}
	}
}

// process handles one delivery with a bounded deadline.
func (c *Consumer) process(ctx context.Context, handler EventHandler, delivery amqp.Delivery) {
	event, err := models.ParseEvent(delivery.Body, delivery.MessageId)
	if err != nil {
		// Malformed events can never succeed; drop them.
		slog.Warn("Dropping malformed event", "error", err)
		metrics.EventsProcessed.WithLabelValues("malformed").Inc()
		if ackErr := delivery.Ack(false); ackErr != nil {
			slog.Error("Failed to ack malformed message", "error", ackErr)
		}
		return
	}

	handleCtx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if err := handler.HandleEvent(handleCtx, event); err != nil {
		slog.Error("Event handling failed, requeueing",
			"event_id", event.EventID,
			"error", err,
		)
		metrics.EventsProcessed.WithLabelValues("requeued").Inc()
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			slog.Error("Failed to nack message", "error", nackErr)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		slog.Error("Failed to ack message", "event_id", event.EventID, "error", err)
	}
}

// Close tears down the channel and connection.
func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
