package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.env")

	in := &State{
		Filename:      "/scratch/source/app.zip",
		BucketName:    "uploads",
		SourceObject:  "incoming/app.zip",
		ProjectDir:    "/scratch/extract/myapp",
		BuildLog:      "/scratch/build.log",
		HasOutcome:    true,
		BuildSuccess:  false,
		BuildExitCode: 17,
		ArtifactCount: 0,
	}
	if err := in.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	out, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if *out != *in {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestStateSaveOmitsAbsentFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.env")

	in := &State{Filename: "/scratch/source/app.zip", BucketName: "uploads"}
	if err := in.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if strings.Contains(content, keyBuildSuccess) {
		t.Fatalf("state file records an outcome that never happened:\n%s", content)
	}

	out, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if out.HasOutcome {
		t.Fatal("loaded state reports an outcome for an outcome-free file")
	}
	if out.Filename != in.Filename || out.BucketName != in.BucketName {
		t.Fatalf("loaded state = %+v", out)
	}
}

func TestLoadStateMissingFile(t *testing.T) {
	s, err := LoadState(filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("LoadState() error = %v, want empty state", err)
	}
	if *s != (State{}) {
		t.Fatalf("LoadState() = %+v, want zero state", s)
	}
}

func TestLoadStateToleratesUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.env")
	content := "FILENAME=/scratch/app.zip\nSOME_FUTURE_KEY=whatever\n\nBUILD_SUCCESS=true\nBUILD_EXIT_CODE=0\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if s.Filename != "/scratch/app.zip" || !s.HasOutcome || !s.BuildSuccess {
		t.Fatalf("LoadState() = %+v", s)
	}
}

func TestLoadStateRejectsCorruptValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.env")
	if err := os.WriteFile(path, []byte("BUILD_EXIT_CODE=not-a-number\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadState(path); err == nil {
		t.Fatal("LoadState() accepted a non-numeric exit code")
	}
}
