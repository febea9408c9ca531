package pipeline

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/your-org/buildrelay/pkg/kafka"
)

// EventSource is the queue side of the inbound interface. Satisfied by
// kafka.Consumer.
type EventSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context) error
}

// Consume reads upload notifications from the queue and dispatches a
// pipeline run per message until ctx is cancelled. Malformed messages
// are logged and committed: redelivering them cannot make them parse.
func Consume(ctx context.Context, source EventSource, runner *Runner, logger *zap.Logger) error {
	for {
		msg, err := source.Fetch(ctx)
		if err != nil {
			// A cancelled context or closed reader is an orderly stop.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		evt, err := ParseUploadEvent(msg.Value)
		if err != nil {
			logger.Warn("skipping malformed upload event", zap.Error(err))
		} else {
			runID := runner.Dispatch(ctx, evt)
			logger.Info("upload event consumed",
				zap.String("run_id", runID),
				zap.String("bucket", evt.BucketID),
				zap.String("object", evt.ObjectID))
		}

		if err := source.Commit(ctx); err != nil {
			logger.Error("commit consumed message", zap.Error(err))
		}
	}
}
