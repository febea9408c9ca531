package pipeline

import (
	"sync"
	"time"
)

// RunStatus is the terminal classification of a pipeline run. Timeout
// is distinct from build failure: it means the run's wall clock budget
// expired, not that Gradle rejected the project.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailure RunStatus = "FAILURE"
	RunStatusTimeout RunStatus = "TIMEOUT"
)

// RunRecord summarizes one completed pipeline run.
type RunRecord struct {
	RunID         string    `json:"run_id"`
	BuildID       string    `json:"build_id"`
	SourceBucket  string    `json:"source_bucket"`
	SourceObject  string    `json:"source_object"`
	Status        RunStatus `json:"status"`
	ExitCode      int       `json:"exit_code"`
	ArtifactCount int       `json:"artifact_count"`
	FailureReason string    `json:"failure_reason,omitempty"`
	NotifyError   string    `json:"notify_error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// RunStore keeps the most recent run records in memory for the
// operational API. Pipeline state itself lives in per-run scratch
// directories; this is a bounded window, not a database.
type RunStore struct {
	mu       sync.RWMutex
	capacity int
	records  []RunRecord
}

// NewRunStore creates a store retaining at most capacity records.
func NewRunStore(capacity int) *RunStore {
	if capacity < 1 {
		capacity = 1
	}
	return &RunStore{capacity: capacity}
}

// Add inserts a record, evicting the oldest when over capacity.
func (s *RunStore) Add(rec RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if len(s.records) > s.capacity {
		s.records = s.records[len(s.records)-s.capacity:]
	}
}

// List returns records most recent first.
func (s *RunStore) List() []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunRecord, len(s.records))
	for i, rec := range s.records {
		out[len(s.records)-1-i] = rec
	}
	return out
}

// Get returns the record for a run ID, if retained.
func (s *RunStore) Get(runID string) (RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.RunID == runID {
			return rec, true
		}
	}
	return RunRecord{}, false
}
