// Package webhook delivers build status callbacks to an external HTTP
// endpoint with bounded retries.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// ErrDeliveryFailed is returned when no attempt produced a 2xx response.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// Status values reported in the callback payload.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Payload is the JSON body posted to the configured endpoint. Source
// fields hold the literal "unknown" when the pipeline failed before
// they could be determined. FailureReason is omitted on success.
type Payload struct {
	Status        string `json:"status"`
	ProjectID     string `json:"project_id"`
	BuildID       string `json:"build_id"`
	TriggerName   string `json:"trigger_name"`
	SourceObject  string `json:"source_object"`
	SourceBucket  string `json:"source_bucket"`
	BuildLogURL   string `json:"build_log_url"`
	Timestamp     string `json:"timestamp"`
	FailureReason string `json:"failure_reason,omitempty"`
	Message       string `json:"message"`
}

// Notifier posts payloads with a fixed-delay retry policy. A disabled
// or unconfigured notifier is a no-op that never fails.
type Notifier struct {
	url        string
	enabled    bool
	client     *http.Client
	maxTries   uint
	retryDelay time.Duration
	logger     *zap.Logger
}

type Config struct {
	URL        string
	Enabled    bool
	Timeout    time.Duration
	MaxTries   int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// NewNotifier constructs a Notifier from the given configuration.
func NewNotifier(cfg Config) *Notifier {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		url:        cfg.URL,
		enabled:    cfg.Enabled && cfg.URL != "",
		client:     &http.Client{Timeout: cfg.Timeout},
		maxTries:   uint(cfg.MaxTries),
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

// Enabled reports whether delivery is configured.
func (n *Notifier) Enabled() bool {
	return n.enabled
}

// Send posts the payload, retrying on any non-2xx response or transport
// error up to the configured number of attempts. Exhausted retries
// surface as ErrDeliveryFailed.
func (n *Notifier) Send(ctx context.Context, payload Payload) error {
	if !n.enabled {
		n.logger.Debug("webhook disabled, skipping notification")
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		if err := n.post(ctx, body); err != nil {
			n.logger.Warn("webhook delivery attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(n.retryDelay)),
		backoff.WithMaxTries(n.maxTries),
	)
	if err != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrDeliveryFailed, attempt, err)
	}

	n.logger.Info("webhook delivered",
		zap.String("status", payload.Status),
		zap.String("build_id", payload.BuildID),
		zap.Int("attempts", attempt))
	return nil
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected webhook status %d", resp.StatusCode)
	}
	return nil
}
