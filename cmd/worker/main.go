package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/learnstream/vod-pipeline/internal/config"
	"github.com/learnstream/vod-pipeline/internal/deadletter"
	"github.com/learnstream/vod-pipeline/internal/health"
	"github.com/learnstream/vod-pipeline/internal/logger"
	"github.com/learnstream/vod-pipeline/internal/observability"
	"github.com/learnstream/vod-pipeline/internal/queue"
	"github.com/learnstream/vod-pipeline/internal/storage"
	"github.com/learnstream/vod-pipeline/internal/store"
	"github.com/learnstream/vod-pipeline/internal/transcoder"
	"github.com/learnstream/vod-pipeline/internal/worker"
)

const (
	AWSConfigTimeout = 10 * time.Second
	ShutdownTimeout  = 5 * time.Second
)

func main() {
	log := logger.New()
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		logger.Info(context.Background(), log, "No .env file found, relying on system ENV variables")
	}

	cfg, err := config.LoadWorker()
	if err != nil {
		logger.Error(context.Background(), log, "Invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := observability.InitTracer(context.Background(), "vod-worker", cfg.Observability.OTLPEndpoint, cfg.Environment)
	if err != nil {
		logger.Error(context.Background(), log, "Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error(context.Background(), log, "Failed to shutdown tracer", "error", err)
		}
	}()

	awsCtx, awsCancel := context.WithTimeout(context.Background(), AWSConfigTimeout)
	defer awsCancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(awsCtx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error(context.Background(), log, "Failed to load AWS config", "error", err)
		os.Exit(1)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	sqsClient := sqs.NewFromConfig(awsCfg)

	checker := health.NewChecker("vod-worker", log)
	checker.Register("video_queue", health.QueueProbe(sqsClient, cfg.AWS.VideoQueueURL))
	checker.Register("lesson_queue", health.QueueProbe(sqsClient, cfg.AWS.LessonQueueURL))
	checker.Register("dead_letter_queue", health.QueueProbe(sqsClient, cfg.AWS.DeadLetterQueueURL))

	var adapter storage.Adapter
	switch cfg.Storage.Backend {
	case config.BackendS3:
		s3Client := s3.NewFromConfig(awsCfg)
		adapter = storage.NewS3(s3Client, cfg.AWS.RawBucket, cfg.AWS.ProcessedBucket, log)
		checker.Register("output_bucket", health.BucketProbe(s3Client, cfg.AWS.ProcessedBucket))
	case config.BackendLocal:
		adapter, err = storage.NewLocal(cfg.Storage.LocalRoot, log)
		if err != nil {
			logger.Error(context.Background(), log, "Failed to initialize local storage", "error", err)
			os.Exit(1)
		}
	}

	var entities store.EntityStore
	switch cfg.Store.Driver {
	case config.DriverDynamoDB:
		entities, err = store.NewDynamoDB(dynamodb.NewFromConfig(awsCfg), cfg.AWS.DynamoDBTable)
		if err != nil {
			logger.Error(context.Background(), log, "Failed to initialize entity store", "error", err)
			os.Exit(1)
		}
	case config.DriverPostgres:
		var db *sqlx.DB
		db, err = store.Connect(context.Background(), cfg.Store.PostgresDSN)
		if err != nil {
			logger.Error(context.Background(), log, "Failed to connect to entity store", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		entities = store.NewPostgres(db)
		checker.Register("entity_store", health.DatabaseProbe(db))
	}

	var notifier deadletter.Notifier
	if cfg.AWS.SNSTopicARN != "" {
		notifier = deadletter.NewSNSNotifier(sns.NewFromConfig(awsCfg), cfg.AWS.SNSTopicARN)
	} else {
		notifier = deadletter.NewLogNotifier(log)
	}
	sink := deadletter.NewSQSSink(sqsClient, cfg.AWS.DeadLetterQueueURL, notifier, log)

	tc := transcoder.New(&transcoder.Config{
		FFmpegPath:    cfg.Transcode.FFmpegPath,
		Profiles:      transcoder.DefaultProfiles,
		EncodeTimeout: cfg.Transcode.EncodeTimeout,
		Logger:        log,
	})

	policy := queue.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
	}

	consumers := make([]*queue.Consumer, 0, 2)
	for _, reg := range []struct {
		kind        string
		queueURL    string
		concurrency int
	}{
		{worker.KindVideo, cfg.AWS.VideoQueueURL, cfg.Worker.VideoConcurrency},
		{worker.KindLesson, cfg.AWS.LessonQueueURL, cfg.Worker.LessonConcurrency},
	} {
		processor, err := worker.NewProcessor(&worker.ProcessorConfig{
			Kind:       reg.kind,
			Storage:    adapter,
			Entities:   entities,
			Transcoder: tc,
			TempDir:    cfg.Worker.TempDir,
			Logger:     log,
		})
		if err != nil {
			logger.Error(context.Background(), log, "Failed to build processor", "kind", reg.kind, "error", err)
			os.Exit(1)
		}

		consumers = append(consumers, queue.NewConsumer(&queue.ConsumerConfig{
			SQSClient:   sqsClient,
			QueueURL:    reg.queueURL,
			Kind:        reg.kind,
			Concurrency: reg.concurrency,
			Policy:      policy,
			Handler:     processor,
			Sink:        sink,
			Entities:    entities,
			Logger:      log,
		}))
	}

	metricsServer := startMetricsServer(cfg.Worker.MetricsPort, checker, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info(context.Background(), log, "Shutting down worker...")
		cancel()
	}()

	var wg sync.WaitGroup
	for _, consumer := range consumers {
		wg.Add(1)
		go func(c *queue.Consumer) {
			defer wg.Done()
			c.Run(ctx)
		}(consumer)
	}
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), log, "Failed to shutdown metrics server", "error", err)
	}
}

func startMetricsServer(port int, checker *health.Checker, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", checker.Handler())
	mux.HandleFunc("/health/deep", checker.DeepHandler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info(context.Background(), log, "Metrics server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(context.Background(), log, "Metrics server failed", "error", err)
		}
	}()

	return srv
}
