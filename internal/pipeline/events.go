package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// UploadEvent is a storage object-finalized notification. The attribute
// names follow the bucket notification format; BuildID is the
// platform-issued correlation id and may be empty, in which case the
// pipeline assigns one.
type UploadEvent struct {
	BucketID string `json:"bucketId"`
	ObjectID string `json:"objectId"`
	BuildID  string `json:"buildId,omitempty"`
}

// ParseUploadEvent decodes a raw notification body. Attribute presence
// is not enforced here: the fetch stage checks for empty values so the
// failure is classified rather than dropped at the transport.
func ParseUploadEvent(raw []byte) (UploadEvent, error) {
	var evt UploadEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return UploadEvent{}, fmt.Errorf("decode upload event: %w", err)
	}
	return evt, nil
}

// FinishedEvent is emitted when a pipeline run completes, whatever the
// outcome.
type FinishedEvent struct {
	RunID         string    `json:"run_id"`
	BuildID       string    `json:"build_id"`
	Status        RunStatus `json:"status"`
	ExitCode      int       `json:"exit_code"`
	ArtifactCount int       `json:"artifact_count"`
	SourceBucket  string    `json:"source_bucket"`
	SourceObject  string    `json:"source_object"`
	FailureReason string    `json:"failure_reason,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}
