package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/saudeflow/clinic-intake/cmd/mainconfig"
	appconfig "github.com/saudeflow/clinic-intake/internal/config"
	"github.com/saudeflow/clinic-intake/internal/conversation"
	"github.com/saudeflow/clinic-intake/internal/directory"
	"github.com/saudeflow/clinic-intake/internal/events"
	"github.com/saudeflow/clinic-intake/internal/http/handlers"
	"github.com/saudeflow/clinic-intake/internal/http/router"
	"github.com/saudeflow/clinic-intake/internal/messaging"
	"github.com/saudeflow/clinic-intake/internal/notify"
	"github.com/saudeflow/clinic-intake/internal/observability/metrics"
	"github.com/saudeflow/clinic-intake/internal/requests"
	"github.com/saudeflow/clinic-intake/internal/transcript"
	"github.com/saudeflow/clinic-intake/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-intake API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	registry := prometheus.NewRegistry()
	convMetrics := metrics.NewConversationMetrics(registry)
	msgMetrics := metrics.NewMessagingMetrics(registry)

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	sessionStore := conversation.NewRedisSessionStore(redisClient, cfg.SessionTTL)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	requestsRepo := requests.NewRepository(pool, logger)
	processedStore := events.NewProcessedStore(pool)

	directoryClient := directory.NewClient(cfg.DirectoryBaseURL, cfg.DirectoryAPIKey, cfg.DirectoryTimeout, logger)

	engine := conversation.NewEngine(sessionStore, directoryClient, requestsRepo, conversation.EngineConfig{
		DefaultSpecialty:    cfg.DefaultSpecialty,
		DirectBooking:       cfg.DirectBooking,
		RetryAttempts:       cfg.RetryAttempts,
		RetryBackoff:        cfg.RetryBackoff,
		MaxIdentityFailures: cfg.MaxIdentityFails,
		MaxServiceFailures:  cfg.MaxServiceFails,
	}, logger, convMetrics)

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	jobStore := conversation.NewJobStore(dynamoClient, cfg.IntakeJobsTable, logger)

	var publisher *conversation.Publisher
	var memoryQueue *conversation.MemoryQueue
	if cfg.UseMemoryQueue {
		memoryQueue = conversation.NewMemoryQueue(256)
		publisher = conversation.NewPublisher(memoryQueue, logger)
		metrics.RegisterQueueDepth(registry, func() float64 { return float64(memoryQueue.Depth()) })
	} else {
		sqsClient := sqs.NewFromConfig(awsCfg)
		publisher = conversation.NewPublisher(conversation.NewSQSQueue(sqsClient, cfg.IntakeQueueURL), logger)
	}

	webhookHandler := handlers.NewMessageWebhookHandler(handlers.MessageWebhookConfig{
		Publisher: publisher,
		Processed: processedStore,
		Jobs:      jobStore,
		Secret:    cfg.WebhookSecret,
		Logger:    logger,
		Metrics:   msgMetrics,
	})
	jobStatusHandler := handlers.NewJobStatusHandler(jobStore, logger)

	r := router.New(&router.Config{
		Logger:         logger,
		MessageWebhook: webhookHandler,
		JobStatus:      jobStatusHandler,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// With the in-memory queue the worker runs inside this process; a
	// standalone intake-worker handles SQS deployments.
	var worker *conversation.Worker
	if cfg.UseMemoryQueue {
		messenger, provider, reason := messaging.BuildReplyMessenger(messaging.ProviderSelectionConfig{
			Preference:       cfg.SMSProvider,
			TwilioAccountSID: cfg.TwilioAccountSID,
			TwilioAuthToken:  cfg.TwilioAuthToken,
			TwilioFromNumber: cfg.TwilioFromNumber,
		}, logger)
		if messenger == nil {
			logger.Warn("no outbound messenger configured, falling back to log sender", "reason", reason)
			messenger = messaging.NewLogSender(logger)
		} else {
			logger.Info("outbound messenger selected", "provider", provider)
		}

		var transcriptStore *transcript.Store
		if cfg.DatabaseURL != "" {
			if db, err := sql.Open("postgres", cfg.DatabaseURL); err == nil {
				transcriptStore = transcript.NewStore(db)
			} else {
				logger.Warn("transcript store disabled", "error", err)
			}
		}

		notifier := notify.NewService(buildEmailSender(cfg, awsCfg, logger), cfg.StaffEmail, cfg.ClinicName, logger)

		opts := []conversation.WorkerOption{
			conversation.WithWorkerCount(cfg.WorkerCount),
			conversation.WithHandoffNotifier(notifier),
			conversation.WithMessagingMetrics(msgMetrics),
		}
		if transcriptStore != nil {
			opts = append(opts, conversation.WithTranscriptAppender(transcriptStore))
		}
		worker = conversation.NewWorker(engine, memoryQueue, jobStore, messenger, logger, opts...)
		worker.Start(runCtx)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if worker != nil {
		worker.Wait()
	}

	logger.Info("server stopped")
}

func buildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "ses":
		sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender != nil {
			return sender
		}
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender != nil {
			return sender
		}
	}
	return notify.NewStubEmailSender(logger)
}
