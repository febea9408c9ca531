package pipeline

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) (*HTTPHandler, *RunStore) {
	t.Helper()
	srv, _ := newWebhookServer(t, http.StatusOK)
	runs := NewRunStore(10)
	runner := NewRunner(Params{
		Store:       &fakeStore{content: []byte("not an archive")},
		Builder:     &stubBuilder{},
		Notifier:    newTestNotifier(srv.URL),
		Runs:        runs,
		Logger:      zap.NewNop(),
		ScratchRoot: t.TempDir(),
		Timeout:     time.Minute,
	})
	return NewHTTPHandler(runner, runs, zap.NewNop()), runs
}

func TestHandleHealth(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleEventAccepted(t *testing.T) {
	h, runs := newTestHandler(t)

	body := `{"bucketId":"uploads","objectId":"incoming/app.zip","buildId":"b-9"}`
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	runID := resp["run_id"]
	if runID == "" {
		t.Fatal("response missing run_id")
	}

	// The run proceeds asynchronously after the 202.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := runs.Get(runID); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("accepted event never produced a run record")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandleEventMalformed(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRuns(t *testing.T) {
	h, runs := newTestHandler(t)
	runs.Add(RunRecord{RunID: "run-a", Status: RunStatusSuccess})
	runs.Add(RunRecord{RunID: "run-b", Status: RunStatusFailure, ExitCode: 7})

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Runs []RunRecord `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Runs) != 2 || resp.Runs[0].RunID != "run-b" {
		t.Fatalf("runs = %+v, want most recent first", resp.Runs)
	}

	rec = httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-a", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get run status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing run status = %d, want 404", rec.Code)
	}
}
