package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Aixtrade/LLMTrigger/internal/config"
	"github.com/Aixtrade/LLMTrigger/internal/consumer"
	"github.com/Aixtrade/LLMTrigger/internal/engine"
	"github.com/Aixtrade/LLMTrigger/internal/engine/llm"
	"github.com/Aixtrade/LLMTrigger/internal/history"
	"github.com/Aixtrade/LLMTrigger/internal/metrics"
	"github.com/Aixtrade/LLMTrigger/internal/notify"
	"github.com/Aixtrade/LLMTrigger/internal/notify/email"
	"github.com/Aixtrade/LLMTrigger/internal/notify/telegram"
	"github.com/Aixtrade/LLMTrigger/internal/notify/wecom"
	"github.com/Aixtrade/LLMTrigger/internal/processor"
	"github.com/Aixtrade/LLMTrigger/internal/rules"
	"github.com/Aixtrade/LLMTrigger/internal/storage"
)

// tickInterval paces the batch-timeout and interval-clock sweeps.
const tickInterval = 5 * time.Second

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	})))

	slog.Info("Starting trigger worker",
		"rabbitmq_queue", cfg.RabbitMQQueue,
		"openai_model", cfg.OpenAIModel,
		"context_window_seconds", cfg.ContextWindowSeconds,
		"context_max_events", cfg.ContextMaxEvents,
		"notification_max_retry", cfg.NotificationMaxRetry,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	// State store.
	slog.Info("Connecting to Redis")
	redisClient, err := storage.Connect(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	ruleStore := storage.NewRuleStore(redisClient)
	contextStore := storage.NewContextStore(redisClient, cfg.ContextWindowSeconds, cfg.ContextMaxEvents)
	idempotency := storage.NewIdempotencyStore(redisClient)
	llmCache := storage.NewLLMCache(redisClient)
	queue := storage.NewNotificationQueue(redisClient)
	dedup := storage.NewDedupStore(redisClient)
	rate := storage.NewRateLimitStore(redisClient)
	triggerState := storage.NewTriggerStateStore(redisClient)

	// Rule cache with pub/sub invalidation.
	ruleCache := rules.NewCache(ruleStore)
	rules.NewListener(redisClient, ruleCache).Start(ctx)

	// Engines.
	llmEngine := llm.NewEngine(llm.Options{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.OpenAITimeout,
	}, llmCache)
	triggerManager := llm.NewTriggerManager(triggerState)
	router := engine.NewRouter(triggerManager, llmEngine, contextStore)

	// Execution history (optional).
	var recorder processor.Recorder = history.NopRecorder{}
	var statusRecorder notify.StatusRecorder = history.NopRecorder{}
	if cfg.DatabaseURL != "" {
		store, err := history.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("Failed to open history database", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		recorder, statusRecorder = store, store
		slog.Info("Execution history persistence enabled")
	}

	// Metrics.
	metrics.Serve(cfg.MetricsAddr)
	reporter := metrics.NewReporter("trigger-worker", redisClient, queue)
	reporter.Start(ctx)

	// Notification pipeline.
	dispatcher := notify.NewDispatcher(dedup, rate, queue,
		time.Duration(cfg.NotificationDefaultCooldown)*time.Second)

	registry := notify.NewRegistry()
	registry.Register(telegram.NewChannel(cfg.TelegramBotToken))
	registry.Register(wecom.NewChannel())
	registry.Register(email.NewChannel(emailProvider(cfg)))

	notifyWorker := notify.NewWorker(queue, registry, statusRecorder, cfg.NotificationMaxRetry)
	go notifyWorker.Run(ctx)

	// Event pipeline.
	handler := processor.NewHandler(idempotency, contextStore, ruleCache, router, dispatcher, recorder, reporter)

	tick := processor.NewTick(ruleCache, triggerState, triggerManager, llmEngine, contextStore, dispatcher, recorder)
	tick.Start(ctx, tickInterval)

	// Broker.
	slog.Info("Connecting to RabbitMQ", "queue", cfg.RabbitMQQueue)
	eventConsumer, err := consumer.NewConsumer(cfg.RabbitMQURL, cfg.RabbitMQQueue)
	if err != nil {
		slog.Error("Failed to create consumer", "error", err)
		slog.Info("Tip: start RabbitMQ with 'docker compose up -d rabbitmq'")
		os.Exit(1)
	}
	defer eventConsumer.Close()

	if err := eventConsumer.Start(ctx, handler); err != nil {
		slog.Error("Consumer failed", "error", err)
		os.Exit(1)
	}

	reporter.Wait()
	slog.Info("Trigger worker stopped")
}

// emailProvider picks the hosted Resend provider when configured, SMTP
// otherwise.
func emailProvider(cfg *config.Config) email.Provider {
	if cfg.ResendAPIKey != "" {
		return email.NewResendProvider(cfg.ResendAPIKey, cfg.SMTPFrom)
	}
	return email.NewSMTPProvider(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

func logLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
