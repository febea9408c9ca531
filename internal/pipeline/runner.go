package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/buildrelay/internal/archive"
	"github.com/your-org/buildrelay/internal/gradle"
	"github.com/your-org/buildrelay/internal/webhook"
	"github.com/your-org/buildrelay/pkg/storage/objectstore"
)

// notifyBudget bounds webhook delivery after the run's own deadline is
// spent. Notification must run even for timed-out builds, so it gets
// its own clock.
const notifyBudget = 2 * time.Minute

// stateFileName is the key-value state file written into each scratch
// directory after every stage.
const stateFileName = "state.env"

// BuildTool runs a build against a project directory and reports the
// outcome. Satisfied by gradle.Builder.
type BuildTool interface {
	Build(ctx context.Context, projectDir, logPath string) gradle.Outcome
}

// Notifier delivers a status callback. Satisfied by webhook.Notifier.
type Notifier interface {
	Send(ctx context.Context, payload webhook.Payload) error
}

// EventPublisher emits pipeline-finished events. Satisfied by
// kafka.Producer.
type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, payload any, headers map[string]string) error
}

// Runner executes pipeline runs: fetch, extract, build, notify, then
// terminal status. Stages within one run are strictly sequential;
// separate runs proceed concurrently up to the configured limit, each
// in its own scratch directory.
type Runner struct {
	store    objectstore.Client
	builder  BuildTool
	notifier Notifier
	events   EventPublisher
	runs     *RunStore
	logger   *zap.Logger
	tracer   trace.Tracer

	scratchRoot string
	timeout     time.Duration
	projectID   string
	triggerName string
	logURLBase  string

	sem chan struct{}
}

type Params struct {
	Store       objectstore.Client
	Builder     BuildTool
	Notifier    Notifier
	Events      EventPublisher
	Runs        *RunStore
	Logger      *zap.Logger
	ScratchRoot string
	Timeout     time.Duration
	// MaxConcurrent caps simultaneous runs; values below 1 mean 1.
	MaxConcurrent int
	ProjectID     string
	TriggerName   string
	LogURLBase    string
}

// NewRunner constructs a pipeline Runner.
func NewRunner(p Params) *Runner {
	maxConcurrent := p.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:       p.Store,
		builder:     p.Builder,
		notifier:    p.Notifier,
		events:      p.Events,
		runs:        p.Runs,
		logger:      logger,
		tracer:      otel.Tracer("buildrelay/pipeline"),
		scratchRoot: p.ScratchRoot,
		timeout:     p.Timeout,
		projectID:   p.ProjectID,
		triggerName: p.TriggerName,
		logURLBase:  p.LogURLBase,
		sem:         make(chan struct{}, maxConcurrent),
	}
}

// Dispatch queues a run for the event and returns its run ID without
// waiting. The run outlives the caller's request: cancellation of ctx
// does not abort it, only the run's own wall-clock timeout does.
func (r *Runner) Dispatch(ctx context.Context, evt UploadEvent) string {
	runID := uuid.NewString()
	runCtx := context.WithoutCancel(ctx)
	go func() {
		r.sem <- struct{}{}
		defer func() { <-r.sem }()
		r.Execute(runCtx, runID, evt)
	}()
	return runID
}

// Execute runs the full pipeline for one upload event and returns the
// terminal record. The notifier runs unconditionally, whatever the
// earlier stages did.
func (r *Runner) Execute(ctx context.Context, runID string, evt UploadEvent) RunRecord {
	startedAt := time.Now().UTC()
	buildID := evt.BuildID
	if buildID == "" {
		buildID = uuid.NewString()
	}

	logger := r.logger.With(
		zap.String("run_id", runID),
		zap.String("build_id", buildID),
		zap.String("bucket", evt.BucketID),
		zap.String("object", evt.ObjectID),
	)
	logger.Info("pipeline run starting")

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	runCtx, span := r.tracer.Start(runCtx, "pipeline.run")
	defer span.End()

	state := &State{}
	scratch := filepath.Join(r.scratchRoot, runID)
	stageErr := os.MkdirAll(scratch, 0o755)
	if stageErr != nil {
		stageErr = fmt.Errorf("create scratch dir: %w", stageErr)
	} else {
		defer os.RemoveAll(scratch)
	}

	statePath := filepath.Join(scratch, stateFileName)

	// Fetch and extract fail fast: nothing later can compensate for a
	// missing file. The build stage never fails the run itself.
	if stageErr == nil {
		stageErr = r.fetch(runCtx, state, evt, scratch)
		r.checkpoint(logger, state, statePath)
	}
	if stageErr == nil {
		stageErr = r.extract(runCtx, state, scratch)
		r.checkpoint(logger, state, statePath)
	}
	if stageErr == nil {
		r.build(runCtx, state, scratch)
		r.checkpoint(logger, state, statePath)
	}
	if stageErr != nil {
		logger.Error("pipeline stage failed", zap.Error(stageErr))
	}

	// Notification gets a fresh clock: a timed-out build still reports.
	notifyCtx, cancelNotify := context.WithTimeout(context.WithoutCancel(ctx), notifyBudget)
	payload := r.buildPayload(state, buildID, time.Now())
	notifyErr := r.notifier.Send(notifyCtx, payload)
	cancelNotify()
	if notifyErr != nil {
		logger.Error("notification failed", zap.Error(notifyErr))
	}

	record := RunRecord{
		RunID:         runID,
		BuildID:       buildID,
		SourceBucket:  evt.BucketID,
		SourceObject:  evt.ObjectID,
		ExitCode:      exitCode(state),
		ArtifactCount: state.ArtifactCount,
		StartedAt:     startedAt,
		FinishedAt:    time.Now().UTC(),
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		record.Status = RunStatusTimeout
		record.FailureReason = fmt.Sprintf("pipeline exceeded %s wall-clock budget", r.timeout)
		if record.ExitCode == 0 {
			record.ExitCode = 1
		}
	case record.ExitCode == 0:
		record.Status = RunStatusSuccess
	default:
		record.Status = RunStatusFailure
		record.FailureReason = failureReason(state)
	}

	// Delivery failure overrides a passing build: guaranteed
	// notification is worth more here than build-status purity.
	if notifyErr != nil {
		record.NotifyError = notifyErr.Error()
		if record.Status == RunStatusSuccess {
			record.Status = RunStatusFailure
		}
		if record.ExitCode == 0 {
			record.ExitCode = 1
		}
	}

	if r.runs != nil {
		r.runs.Add(record)
	}
	r.publishFinished(context.WithoutCancel(ctx), record)

	logger.Info("pipeline run finished",
		zap.String("status", string(record.Status)),
		zap.Int("exit_code", record.ExitCode),
		zap.Int("artifacts", record.ArtifactCount),
		zap.Duration("duration", record.FinishedAt.Sub(record.StartedAt)))
	return record
}

func (r *Runner) fetch(ctx context.Context, state *State, evt UploadEvent, scratch string) error {
	ctx, span := r.tracer.Start(ctx, "pipeline.fetch")
	defer span.End()

	if evt.BucketID == "" || evt.ObjectID == "" {
		return fmt.Errorf("%w: bucketId=%q objectId=%q", ErrMissingAttribute, evt.BucketID, evt.ObjectID)
	}

	// Stat before download: a missing or inaccessible object is a
	// fetch failure, not something to discover mid-transfer.
	info, err := r.store.Stat(ctx, evt.BucketID, evt.ObjectID)
	if err != nil {
		return fmt.Errorf("stat upload: %w", err)
	}
	span.SetAttributes(attribute.Int64("upload.size_bytes", info.Size))

	dest := filepath.Join(scratch, "source", filepath.Base(evt.ObjectID))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create source dir: %w", err)
	}
	if err := r.store.Download(ctx, evt.BucketID, evt.ObjectID, dest); err != nil {
		return fmt.Errorf("fetch upload: %w", err)
	}

	state.Filename = dest
	state.BucketName = evt.BucketID
	state.SourceObject = evt.ObjectID
	return nil
}

func (r *Runner) extract(ctx context.Context, state *State, scratch string) error {
	_, span := r.tracer.Start(ctx, "pipeline.extract")
	defer span.End()

	extractDir := filepath.Join(scratch, "extract")
	if err := archive.Extract(state.Filename, extractDir); err != nil {
		return fmt.Errorf("extract upload: %w", err)
	}
	projectDir, err := archive.ProjectDir(extractDir)
	if err != nil {
		return err
	}

	state.ProjectDir = projectDir
	return nil
}

func (r *Runner) build(ctx context.Context, state *State, scratch string) {
	ctx, span := r.tracer.Start(ctx, "pipeline.build")
	defer span.End()

	logPath := filepath.Join(scratch, "build.log")
	state.BuildLog = logPath

	outcome := r.builder.Build(ctx, state.ProjectDir, logPath)

	state.HasOutcome = true
	state.BuildSuccess = outcome.Success
	state.BuildExitCode = outcome.ExitCode
	state.ArtifactCount = outcome.ArtifactCount
}

// checkpoint persists the state file after a stage. Persistence
// problems are logged, not fatal: the in-memory state is authoritative
// within one process.
func (r *Runner) checkpoint(logger *zap.Logger, state *State, statePath string) {
	if err := state.Save(statePath); err != nil {
		logger.Warn("persist pipeline state", zap.Error(err))
	}
}

func (r *Runner) publishFinished(ctx context.Context, record RunRecord) {
	if r.events == nil {
		return
	}

	evt := FinishedEvent{
		RunID:         record.RunID,
		BuildID:       record.BuildID,
		Status:        record.Status,
		ExitCode:      record.ExitCode,
		ArtifactCount: record.ArtifactCount,
		SourceBucket:  record.SourceBucket,
		SourceObject:  record.SourceObject,
		FailureReason: record.FailureReason,
		StartedAt:     record.StartedAt,
		FinishedAt:    record.FinishedAt,
	}
	pubCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	headers := map[string]string{
		"run_id":     record.RunID,
		"event_type": "pipeline.finished",
	}
	if err := r.events.PublishJSON(pubCtx, record.RunID, evt, headers); err != nil {
		r.logger.Error("publish finished event", zap.Error(err))
	}
}
