package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// State is the typed record threaded through the pipeline stages. Each
// stage populates its own fields and never reads fields a later stage
// owns. For parity with isolated step execution it round-trips through
// a key-value file in the scratch directory; a missing field on load is
// data for failure classification, never a crash.
type State struct {
	// Filename is the local scratch path of the fetched object.
	Filename string

	// BucketName is the source bucket the object was fetched from.
	BucketName string

	// SourceObject is the object key within the source bucket.
	SourceObject string

	// ProjectDir is the selected project root inside the extraction
	// directory.
	ProjectDir string

	// BuildLog is the path of the captured build output.
	BuildLog string

	// HasOutcome reports whether the build stage ran and recorded a
	// result. When false the remaining build fields are meaningless.
	HasOutcome    bool
	BuildSuccess  bool
	BuildExitCode int
	ArtifactCount int
}

// State file keys. These are stable names: a state file written by one
// step execution must be readable by the next.
const (
	keyFilename      = "FILENAME"
	keyBucketName    = "BUCKET_NAME"
	keySourceObject  = "SOURCE_OBJECT"
	keyProjectDir    = "PROJECT_DIR"
	keyBuildLog      = "BUILD_LOG"
	keyBuildSuccess  = "BUILD_SUCCESS"
	keyBuildExitCode = "BUILD_EXIT_CODE"
	keyArtifactCount = "ARTIFACT_COUNT"
)

// Save writes the state as KEY=value lines. The write is atomic: a
// temp file in the same directory renamed over the target, so a reader
// never observes a half-written state.
func (s *State) Save(path string) error {
	kv := map[string]string{}
	if s.Filename != "" {
		kv[keyFilename] = s.Filename
	}
	if s.BucketName != "" {
		kv[keyBucketName] = s.BucketName
	}
	if s.SourceObject != "" {
		kv[keySourceObject] = s.SourceObject
	}
	if s.ProjectDir != "" {
		kv[keyProjectDir] = s.ProjectDir
	}
	if s.BuildLog != "" {
		kv[keyBuildLog] = s.BuildLog
	}
	if s.HasOutcome {
		kv[keyBuildSuccess] = strconv.FormatBool(s.BuildSuccess)
		kv[keyBuildExitCode] = strconv.Itoa(s.BuildExitCode)
		kv[keyArtifactCount] = strconv.Itoa(s.ArtifactCount)
	}

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, kv[k])
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// LoadState reads a state file written by Save. Unknown keys are
// ignored and absent keys leave zero values; a missing file yields an
// empty state, mirroring a pipeline where no stage ran.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	s := &State{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		switch key {
		case keyFilename:
			s.Filename = value
		case keyBucketName:
			s.BucketName = value
		case keySourceObject:
			s.SourceObject = value
		case keyProjectDir:
			s.ProjectDir = value
		case keyBuildLog:
			s.BuildLog = value
		case keyBuildSuccess:
			success, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", keyBuildSuccess, err)
			}
			s.HasOutcome = true
			s.BuildSuccess = success
		case keyBuildExitCode:
			code, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", keyBuildExitCode, err)
			}
			s.BuildExitCode = code
		case keyArtifactCount:
			count, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", keyArtifactCount, err)
			}
			s.ArtifactCount = count
		}
	}
	return s, nil
}
