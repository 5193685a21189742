package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/framegrid/framegrid-sampling-service/internal/infra/archive"
	"github.com/framegrid/framegrid-sampling-service/internal/infra/config"
	"github.com/framegrid/framegrid-sampling-service/internal/infra/email"
	"github.com/framegrid/framegrid-sampling-service/internal/infra/ffmpeg"
	"github.com/framegrid/framegrid-sampling-service/internal/infra/metrics"
	miniostorage "github.com/framegrid/framegrid-sampling-service/internal/infra/minio"
	"github.com/framegrid/framegrid-sampling-service/internal/infra/postgres"
	"github.com/framegrid/framegrid-sampling-service/internal/infra/rabbitmq"
	"github.com/framegrid/framegrid-sampling-service/internal/infra/tracing"
	"github.com/framegrid/framegrid-sampling-service/internal/usecase"
	"github.com/framegrid/framegrid-sampling-service/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting framegrid-sampling-service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if the collector is unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	// Migrations
	err = postgres.RunMigrations(cfg.DatabaseURL, "migrations")
	if err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	// Object storage
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      cfg.MinIOEndpoint,
		AccessKey:     cfg.MinIOAccessKey,
		SecretKey:     cfg.MinIOSecretKey,
		UseSSL:        cfg.MinIOUseSSL,
		VideoBucket:   cfg.MinIOVideoBucket,
		ArchiveBucket: cfg.MinIOArchiveBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")

	statusPub := rabbitmq.NewStatusPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	// Sampler
	mode, err := ffmpeg.ParseMode(cfg.SamplerMode)
	fatalOnErr(err, "parse sampler mode")
	samplerOpts := ffmpeg.DefaultOptions().
		WithInterval(cfg.SamplingInterval).
		WithFFmpegPath(cfg.FFmpegPath).
		WithFFprobePath(cfg.FFprobePath)
	samplers := ffmpeg.NewSamplerFactory(samplerOpts, mode, log)

	// Infra adapters
	repo := postgres.NewJobRepository(pool)
	archiver := archive.NewZipArchiver()
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)

	// Use case
	uc := usecase.NewSampleVideoUseCase(
		repo, storage, samplers, archiver,
		statusPub, dlqPub, notifier,
		log,
		usecase.SampleVideoConfig{
			TempDir:         cfg.TempDir,
			MaxRetries:      cfg.MaxRetries,
			DefaultInterval: cfg.SamplingInterval,
		},
	)

	// Metrics server
	metricsSrv := metrics.StartServer(cfg.MetricsPort, log)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitMQURL,
		Queue:       cfg.RabbitMQJobsQueue,
		Exchange:    cfg.RabbitMQExchange,
		DLQ:         cfg.RabbitMQDLQ,
		StatusQueue: cfg.RabbitMQStatusQueue,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.WorkerCount,
		BaseDelayMs: cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("framegrid-sampling-service started, consuming messages")

	metricsSrv.SetReady(true)
	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}
	metricsSrv.SetReady(false)

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("framegrid-sampling-service stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
