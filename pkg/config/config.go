package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for the buildrelay service.
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Kafka    KafkaConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	Build    BuildConfig
	Webhook  WebhookConfig
	Tracing  TracingConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"buildrelay"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
	ProjectID   string `env:"APP_PROJECT_ID" envDefault:"unknown"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	UploadTopic      string        `env:"KAFKA_UPLOAD_TOPIC" envDefault:"buildrelay.uploads"`
	FinishedTopic    string        `env:"KAFKA_FINISHED_TOPIC" envDefault:"buildrelay.finished"`
	GroupID          string        `env:"KAFKA_GROUP_ID" envDefault:"buildrelay"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
}

type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER" envDefault:"minio"`
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

type PipelineConfig struct {
	ScratchRoot    string        `env:"PIPELINE_SCRATCH_ROOT" envDefault:"/tmp/buildrelay"`
	Timeout        time.Duration `env:"PIPELINE_TIMEOUT" envDefault:"30m"`
	MaxConcurrent  int           `env:"PIPELINE_MAX_CONCURRENT" envDefault:"3"`
	TriggerName    string        `env:"PIPELINE_TRIGGER_NAME" envDefault:"android-build-trigger"`
	RetainRunCount int           `env:"PIPELINE_RETAIN_RUN_COUNT" envDefault:"100"`
	LogURLBase     string        `env:"PIPELINE_BUILD_LOG_URL_BASE" envDefault:""`
}

type BuildConfig struct {
	GradleVersion string `env:"BUILD_GRADLE_VERSION" envDefault:"8.5"`
	GradleDistURL string `env:"BUILD_GRADLE_DIST_URL" envDefault:"https://services.gradle.org/distributions"`
}

type WebhookConfig struct {
	Enabled    bool          `env:"WEBHOOK_ENABLED" envDefault:"true"`
	URL        string        `env:"WEBHOOK_URL" envDefault:""`
	Timeout    time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"30s"`
	MaxTries   int           `env:"WEBHOOK_MAX_TRIES" envDefault:"3"`
	RetryDelay time.Duration `env:"WEBHOOK_RETRY_DELAY" envDefault:"5s"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=buildrelay"`
}

// Load parses environment variables into Config and validates them.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if err := validateWebhookURL(c.Webhook.URL); err != nil {
		return err
	}
	if c.Pipeline.MaxConcurrent < 1 {
		return fmt.Errorf("PIPELINE_MAX_CONCURRENT must be at least 1, got %d", c.Pipeline.MaxConcurrent)
	}
	if c.Webhook.MaxTries < 1 {
		return fmt.Errorf("WEBHOOK_MAX_TRIES must be at least 1, got %d", c.Webhook.MaxTries)
	}
	return nil
}

// validateWebhookURL accepts an empty string (notifications disabled) or an
// absolute http(s) URL.
func validateWebhookURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook url must use http or https scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook url missing host: %q", raw)
	}
	return nil
}
