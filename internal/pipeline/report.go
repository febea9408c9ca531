package pipeline

import (
	"time"

	"github.com/your-org/buildrelay/internal/webhook"
)

// timestampLayout is the wire format for webhook timestamps: UTC,
// second precision, trailing Z.
const timestampLayout = "2006-01-02T15:04:05Z"

// unknownSource is the literal reported when the pipeline failed
// before the source object was identified.
const unknownSource = "unknown"

// failureReason classifies a failed run. The decision order is fixed
// and reports exactly one reason: no fetched file beats everything,
// then a missing project directory, then an unrecorded outcome, and
// only a run that got all the way to Gradle is blamed on compilation.
func failureReason(s *State) string {
	switch {
	case s.Filename == "":
		return reasonDownload
	case s.ProjectDir == "":
		return reasonExtraction
	case !s.HasOutcome:
		return reasonUnknown
	default:
		return reasonCompilation
	}
}

// exitCode maps the recorded outcome to the run's terminal exit code:
// success is zero, failure keeps the captured non-zero Gradle code,
// and anything without a usable code collapses to 1.
func exitCode(s *State) int {
	if !s.HasOutcome {
		return 1
	}
	if s.BuildSuccess {
		return 0
	}
	if s.BuildExitCode != 0 {
		return s.BuildExitCode
	}
	return 1
}

// buildPayload derives the webhook payload from the run state. The
// payload is complete at construction; the notifier never reaches back
// into pipeline state.
func (r *Runner) buildPayload(s *State, buildID string, now time.Time) webhook.Payload {
	sourceObject := s.SourceObject
	if sourceObject == "" {
		sourceObject = unknownSource
	}
	sourceBucket := s.BucketName
	if sourceBucket == "" {
		sourceBucket = unknownSource
	}

	logURL := s.BuildLog
	if r.logURLBase != "" {
		logURL = r.logURLBase + "/" + buildID
	}

	p := webhook.Payload{
		ProjectID:    r.projectID,
		BuildID:      buildID,
		TriggerName:  r.triggerName,
		SourceObject: sourceObject,
		SourceBucket: sourceBucket,
		BuildLogURL:  logURL,
		Timestamp:    now.UTC().Format(timestampLayout),
	}

	if s.HasOutcome && s.BuildSuccess {
		p.Status = webhook.StatusSuccess
		p.Message = "Android build completed successfully"
		return p
	}

	p.Status = webhook.StatusFailure
	p.FailureReason = failureReason(s)
	p.Message = "Android build pipeline failed"
	return p
}
