// Command eventgen publishes test events to the trigger queue. Useful for
// exercising rules end to end without a real producer.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Aixtrade/LLMTrigger/internal/config"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	var (
		eventType  = flag.String("type", "trade.profit", "event_type to publish")
		contextKey = flag.String("context-key", "trade.profit.TEST", "context_key to publish")
		dataJSON   = flag.String("data", `{"profit_rate": 0.08}`, "event data as JSON")
		count      = flag.Int("count", 1, "number of events to publish")
		interval   = flag.Duration("interval", time.Second, "delay between events")
	)
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	var data map[string]any
	if err := json.Unmarshal([]byte(*dataJSON), &data); err != nil {
		slog.Error("Invalid -data JSON", "error", err)
		os.Exit(1)
	}

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		slog.Error("Failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	channel, err := conn.Channel()
	if err != nil {
		slog.Error("Failed to open channel", "error", err)
		os.Exit(1)
	}
	defer channel.Close()

	if _, err := channel.QueueDeclare(cfg.RabbitMQQueue, true, false, false, false, nil); err != nil {
		slog.Error("Failed to declare queue", "queue", cfg.RabbitMQQueue, "error", err)
		os.Exit(1)
	}

	for i := 0; i < *count; i++ {
		body, _ := json.Marshal(map[string]any{
			"event_id":    fmt.Sprintf("evtgen_%s", uuid.NewString()[:8]),
			"event_type":  *eventType,
			"context_key": *contextKey,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"data":        data,
		})

		err := channel.Publish("", cfg.RabbitMQQueue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
		if err != nil {
			slog.Error("Publish failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Event published",
			"event_type", *eventType,
			"context_key", *contextKey,
			"n", i+1,
		)

		if i < *count-1 {
			time.Sleep(*interval)
		}
	}
}
