package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/your-org/buildrelay/internal/gradle"
	"github.com/your-org/buildrelay/internal/pipeline"
	"github.com/your-org/buildrelay/internal/webhook"
	"github.com/your-org/buildrelay/pkg/config"
	"github.com/your-org/buildrelay/pkg/kafka"
	"github.com/your-org/buildrelay/pkg/logger"
	"github.com/your-org/buildrelay/pkg/storage/objectstore"
	"github.com/your-org/buildrelay/pkg/tracing"
)

func main() {
	oncePath := pflag.String("once", "", "path to an upload event JSON file; run a single pipeline and exit with its status")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.LogLevel, cfg.App.Environment)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  parseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	store, err := objectstore.New(objectstore.Config{
		Provider:  cfg.Storage.Provider,
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logr.Fatal("init object store", zap.Error(err))
	}

	builder := gradle.NewBuilder(gradle.Config{
		DistBaseURL: cfg.Build.GradleDistURL,
		Version:     cfg.Build.GradleVersion,
		Logger:      logr,
	})

	notifier := webhook.NewNotifier(webhook.Config{
		URL:        cfg.Webhook.URL,
		Enabled:    cfg.Webhook.Enabled,
		Timeout:    cfg.Webhook.Timeout,
		MaxTries:   cfg.Webhook.MaxTries,
		RetryDelay: cfg.Webhook.RetryDelay,
		Logger:     logr,
	})

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.FinishedTopic,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
		Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
		MaxAttempts:  cfg.Kafka.Retries,
	})

	runs := pipeline.NewRunStore(cfg.Pipeline.RetainRunCount)
	runner := pipeline.NewRunner(pipeline.Params{
		Store:         store,
		Builder:       builder,
		Notifier:      notifier,
		Events:        producer,
		Runs:          runs,
		Logger:        logr,
		ScratchRoot:   cfg.Pipeline.ScratchRoot,
		Timeout:       cfg.Pipeline.Timeout,
		MaxConcurrent: cfg.Pipeline.MaxConcurrent,
		ProjectID:     cfg.App.ProjectID,
		TriggerName:   cfg.Pipeline.TriggerName,
		LogURLBase:    cfg.Pipeline.LogURLBase,
	})

	if *oncePath != "" {
		code := runOnce(ctx, runner, *oncePath, logr)
		producer.Close(context.Background()) //nolint:errcheck
		traceShutdown(context.Background())  //nolint:errcheck
		logr.Sync()                          //nolint:errcheck
		os.Exit(code)
	}

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.UploadTopic,
		GroupID: cfg.Kafka.GroupID,
	})

	go func() {
		if err := pipeline.Consume(ctx, consumer, runner, logr); err != nil {
			logr.Error("upload consumer stopped", zap.Error(err))
			stop()
		}
	}()

	handler := pipeline.NewHTTPHandler(runner, runs, logr)
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
		if err := consumer.Close(); err != nil {
			logr.Error("consumer shutdown failed", zap.Error(err))
		}
		if err := producer.Close(shutdownCtx); err != nil {
			logr.Error("producer shutdown failed", zap.Error(err))
		}
		if err := store.Close(); err != nil {
			logr.Error("object store shutdown failed", zap.Error(err))
		}
	}()

	logr.Info("buildrelay starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("upload_topic", cfg.Kafka.UploadTopic),
		zap.Bool("webhook_enabled", notifier.Enabled()))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.Fatal("http server failed", zap.Error(err))
	}
}

// runOnce executes a single pipeline for the event in path and returns
// the run's terminal exit code, mirroring a one-shot build step.
func runOnce(ctx context.Context, runner *pipeline.Runner, path string, logr *zap.Logger) int {
	raw, err := os.ReadFile(path)
	if err != nil {
		logr.Error("read event file", zap.Error(err))
		return 1
	}
	evt, err := pipeline.ParseUploadEvent(raw)
	if err != nil {
		logr.Error("parse event file", zap.Error(err))
		return 1
	}
	record := runner.Execute(ctx, uuid.NewString(), evt)
	return record.ExitCode
}

func parseResourceAttributes(raw string) map[string]string {
	if raw == "" {
		return map[string]string{}
	}
	attrs := map[string]string{}
	pairs := strings.Split(raw, ",")
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		if !strings.Contains(pair, "=") {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		attrs[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return attrs
}
