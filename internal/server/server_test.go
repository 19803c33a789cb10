package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/unattachedgray/feedbuffet/config"
	"github.com/unattachedgray/feedbuffet/internal/pipeline"
	"github.com/unattachedgray/feedbuffet/internal/search"
	"github.com/unattachedgray/feedbuffet/internal/store"
)

type fakeReader struct {
	status    store.PipelineStatus
	hasStatus bool
	stories   []store.Story
	lastLimit int
}

func (f *fakeReader) GetPipelineStatus(context.Context) (store.PipelineStatus, bool, error) {
	return f.status, f.hasStatus, nil
}

func (f *fakeReader) ListRecentStories(_ context.Context, n int) ([]store.Story, error) {
	f.lastLimit = n
	return f.stories, nil
}

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) Run(context.Context, pipeline.Options) (pipeline.Result, error) {
	close(r.started)
	<-r.release
	return pipeline.Result{}, nil
}

func newTestServer(reader StatusReader, runner RunStarter, idx *search.Index) *Server {
	return NewServer(config.Config{}, reader, runner, idx, nil, nil)
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(&fakeReader{}, nil, nil)
	rec := do(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatusWithoutRow(t *testing.T) {
	s := newTestServer(&fakeReader{}, nil, nil)
	rec := do(t, s, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status_text"] != "Idle." || body["is_active"] != false {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestStatusWithRow(t *testing.T) {
	reader := &fakeReader{
		status:    store.PipelineStatus{StatusText: "Synthesizing batch 2/3...", ProgressPercent: 43, IsActive: true, UpdatedAt: time.Now()},
		hasStatus: true,
	}
	s := newTestServer(reader, nil, nil)
	rec := do(t, s, http.MethodGet, "/api/status", "")
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status_text"] != "Synthesizing batch 2/3..." || body["is_active"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["progress_percent"] != float64(43) {
		t.Fatalf("progress: %v", body["progress_percent"])
	}
}

func TestStoriesDefaultAndExplicitLimit(t *testing.T) {
	reader := &fakeReader{stories: []store.Story{{ID: "1", Key: "story_a", Title: "T", PublishedAt: time.Now(), CreatedAt: time.Now()}}}
	s := newTestServer(reader, nil, nil)

	rec := do(t, s, http.MethodGet, "/api/stories", "")
	if rec.Code != http.StatusOK || reader.lastLimit != defaultStoryLimit {
		t.Fatalf("default limit: code=%d limit=%d", rec.Code, reader.lastLimit)
	}

	rec = do(t, s, http.MethodGet, "/api/stories?limit=3", "")
	if rec.Code != http.StatusOK || reader.lastLimit != 3 {
		t.Fatalf("explicit limit: code=%d limit=%d", rec.Code, reader.lastLimit)
	}

	rec = do(t, s, http.MethodGet, "/api/stories?limit=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit should 400, got %d", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	idx, err := search.NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if err := idx.Add(store.Story{Key: "story_a", Title: "Volcano erupts near capital", Summary: "Ash cloud grounds flights."}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s := newTestServer(&fakeReader{}, nil, idx)

	rec := do(t, s, http.MethodGet, "/api/stories/search", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing q should 400, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/stories/search?q=volcano", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("search: %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Hits []search.Hit `json:"hits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Hits) != 1 || body.Hits[0].Key != "story_a" {
		t.Fatalf("hits: %+v", body.Hits)
	}
}

func TestRunConflictsWhileActive(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	s := newTestServer(&fakeReader{}, runner, nil)

	rec := do(t, s, http.MethodPost, "/api/run", `{"categories":["technology"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first trigger: %d %s", rec.Code, rec.Body.String())
	}
	<-runner.started

	rec = do(t, s, http.MethodPost, "/api/run", `{}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second trigger should 409, got %d", rec.Code)
	}
	close(runner.release)
}

func TestIsDue(t *testing.T) {
	hourAgo := time.Now().Add(-time.Hour - time.Minute)
	justNow := time.Now().Add(-time.Minute)
	dayAgo := time.Now().Add(-25 * time.Hour)

	cases := []struct {
		name string
		spec string
		last *time.Time
		want bool
	}{
		{"hourly never run", "@hourly", nil, true},
		{"hourly stale", "@hourly", &hourAgo, true},
		{"hourly fresh", "@hourly", &justNow, false},
		{"daily stale", "@daily", &dayAgo, true},
		{"daily fresh", "@daily", &hourAgo, false},
		{"cron never run", "0 6 * * *", nil, true},
		{"invalid spec stale", "every day", &dayAgo, true},
		{"invalid spec fresh", "every day", &justNow, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isDue(tc.spec, tc.last); got != tc.want {
				t.Fatalf("isDue(%q) = %v, want %v", tc.spec, got, tc.want)
			}
		})
	}
}
