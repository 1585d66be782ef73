package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"imagine-manager/internal/imagine"
	"imagine-manager/internal/model"
	"imagine-manager/internal/runstore"
	"imagine-manager/internal/settings"
)

// fakeImagine serves one post whose SD videos turn HD once upscaled.
type fakeImagine struct {
	srv *httptest.Server

	mu       sync.Mutex
	children []model.ChildPost
	upscaled []string
	liked    []string
	files    map[string]string
}

func newFakeImagine(t *testing.T) *fakeImagine {
	t.Helper()
	f := &fakeImagine{files: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc(imagine.PathFetchPost, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		post := model.Post{ID: "p1", ChildPosts: append([]model.ChildPost(nil), f.children...)}
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"post": post})
	})
	mux.HandleFunc(imagine.PathUpscaleVideo, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			VideoID string `json:"videoId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.upscaled = append(f.upscaled, req.VideoID)
		for i := range f.children {
			if f.children[i].ID == req.VideoID {
				f.children[i].HDMediaURL = f.srv.URL + "/media/" + req.VideoID + "-hd.mp4"
			}
		}
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true}`)
	})
	mux.HandleFunc(imagine.PathLikePost, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID string `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.liked = append(f.liked, req.ID)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{}`)
	})
	mux.HandleFunc("/media/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		body, ok := f.files[strings.TrimPrefix(r.URL.Path, "/media/")]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

type harness struct {
	api      *fakeImagine
	config   string
	stateDir string
	outDir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	for _, key := range []string{settings.EnvCookie, settings.EnvBaseURL, settings.EnvProxy, settings.EnvRedisAddr, settings.EnvRedisDB} {
		t.Setenv(key, "")
	}
	tmp := t.TempDir()
	h := &harness{
		api:      newFakeImagine(t),
		config:   filepath.Join(tmp, "config", "settings.json"),
		stateDir: filepath.Join(tmp, "state"),
		outDir:   filepath.Join(tmp, "downloads"),
	}
	err := Run([]string{"settings", "set", "--config", h.config,
		"base_url=" + h.api.srv.URL,
		"cookie=sso=test",
		"state_dir=" + h.stateDir,
		"output_dir=" + h.outDir,
		"upscale_min_ms=1", "upscale_max_ms=1",
		"refetch_min_ms=5", "refetch_max_ms=5",
		"download_ms=1",
		"job_step_min_ms=1", "job_step_max_ms=1",
	})
	if err != nil {
		t.Fatalf("settings set: %v", err)
	}
	return h
}

// run invokes a command such as "queue resume" with the harness flags placed
// ahead of args, since flag parsing stops at the first positional.
func (h *harness) run(t *testing.T, command string, args ...string) error {
	t.Helper()
	argv := strings.Fields(command)
	argv = append(argv, "--config", h.config, "--log-level", "error")
	return Run(append(argv, args...))
}

func (h *harness) persisted(t *testing.T, name string) []model.QueueItem {
	t.Helper()
	kv, err := runstore.NewFileKV(filepath.Join(h.stateDir, "queues"))
	if err != nil {
		t.Fatal(err)
	}
	data, err := kv.Get(context.Background(), name)
	if err != nil {
		t.Fatalf("read %s queue: %v", name, err)
	}
	var doc model.PersistedQueue
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	return doc.Items
}

func TestHarnessUpscaleCompletesBatch(t *testing.T) {
	h := newHarness(t)
	h.api.children = []model.ChildPost{
		{ID: "v1", MediaType: "MEDIA_POST_TYPE_VIDEO", MediaURL: "https://cdn.test/v1.mp4"},
		{ID: "v2", MediaType: "MEDIA_POST_TYPE_VIDEO", MediaURL: "https://cdn.test/v2.mp4"},
		{ID: "i1", MediaType: "MEDIA_POST_TYPE_IMAGE", MediaURL: "https://cdn.test/i1.jpg"},
	}

	if err := h.run(t, "upscale", "p1"); err != nil {
		t.Fatalf("upscale failed: %v", err)
	}

	h.api.mu.Lock()
	upscaled := strings.Join(h.api.upscaled, ",")
	h.api.mu.Unlock()
	if upscaled != "v1,v2" {
		t.Fatalf("expected upscale calls v1,v2 in order, got %q", upscaled)
	}
	items := h.persisted(t, queueUpscale)
	if len(items) != 2 {
		t.Fatalf("expected 2 persisted upscale items, got %d", len(items))
	}
	for _, it := range items {
		if it.Status != model.StatusCompleted {
			t.Fatalf("expected %s completed, got %s", it.Key, it.Status)
		}
	}

	// Everything is HD now, so a second run has nothing to queue.
	if err := h.run(t, "upscale", "p1"); err != nil {
		t.Fatalf("second upscale failed: %v", err)
	}
	h.api.mu.Lock()
	calls := len(h.api.upscaled)
	h.api.mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected no further upscale calls, got %d total", calls)
	}
}

func TestHarnessDownloadWritesFiles(t *testing.T) {
	h := newHarness(t)
	h.api.children = []model.ChildPost{
		{ID: "v1", MediaType: "MEDIA_POST_TYPE_VIDEO", MediaURL: h.api.srv.URL + "/media/v1.mp4"},
		{ID: "i1", MediaType: "MEDIA_POST_TYPE_IMAGE", MediaURL: h.api.srv.URL + "/media/i1.jpg"},
	}
	h.api.files["v1.mp4"] = "video-bytes"
	h.api.files["i1.jpg"] = "image-bytes"

	if err := h.run(t, "download", "--post", "p1"); err != nil {
		t.Fatalf("download failed: %v", err)
	}
	for name, want := range map[string]string{"v1.mp4": "video-bytes", "i1.jpg": "image-bytes"} {
		got, err := os.ReadFile(filepath.Join(h.outDir, "p1", name))
		if err != nil {
			t.Fatalf("expected %s downloaded: %v", name, err)
		}
		if string(got) != want {
			t.Fatalf("%s: expected %q, got %q", name, want, got)
		}
	}
}

func TestHarnessLikeRunsOneJobAndClears(t *testing.T) {
	h := newHarness(t)

	if err := h.run(t, "like", "p1,p2", "p2"); err != nil {
		t.Fatalf("like failed: %v", err)
	}
	h.api.mu.Lock()
	liked := strings.Join(h.api.liked, ",")
	h.api.mu.Unlock()
	if liked != "p1,p2" {
		t.Fatalf("expected likes p1,p2, got %q", liked)
	}

	items := h.persisted(t, queueJobs)
	if len(items) != 1 {
		t.Fatalf("expected one job, got %d", len(items))
	}
	job := items[0]
	if job.Status != model.StatusCompleted || job.ProcessedItems != 2 || job.TotalItems != 2 {
		t.Fatalf("unexpected job state: %+v", job)
	}

	if err := h.run(t, "queue clear-completed", "--queue", "jobs"); err != nil {
		t.Fatalf("clear-completed failed: %v", err)
	}
	if items := h.persisted(t, queueJobs); len(items) != 0 {
		t.Fatalf("expected jobs queue empty after clear-completed, got %d", len(items))
	}
}

func TestHarnessDeleteNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	err := h.run(t, "delete", "p1")
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("expected confirmation error, got %v", err)
	}
}

func TestHarnessResumeRetriesInterruptedItems(t *testing.T) {
	h := newHarness(t)
	h.api.files["a.jpg"] = "a"
	kv, err := runstore.NewFileKV(filepath.Join(h.stateDir, "queues"))
	if err != nil {
		t.Fatal(err)
	}
	url := h.api.srv.URL + "/media/a.jpg"
	doc := model.PersistedQueue{SchemaVersion: 1, Items: []model.QueueItem{{
		Key:     url,
		Payload: model.Payload{PostID: "p9", URL: url, Filename: "a.jpg"},
		Status:  model.StatusProcessing,
	}}}
	data, _ := json.Marshal(doc)
	if err := kv.Put(context.Background(), queueDownload, data); err != nil {
		t.Fatal(err)
	}

	if err := h.run(t, "queue resume", "--queue", "download"); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	items := h.persisted(t, queueDownload)
	if len(items) != 1 || items[0].Status != model.StatusCompleted {
		t.Fatalf("expected interrupted item completed after resume, got %+v", items)
	}
	if _, err := os.Stat(filepath.Join(h.outDir, "p9", "a.jpg")); err != nil {
		t.Fatalf("expected resumed download on disk: %v", err)
	}
}

func TestSettingsSetRejectsUnknownKey(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "settings.json")
	err := Run([]string{"settings", "set", "--config", cfg, "nope=1"})
	if err == nil || !strings.Contains(err.Error(), "unknown setting") {
		t.Fatalf("expected unknown setting error, got %v", err)
	}
	if _, statErr := os.Stat(cfg); !os.IsNotExist(statErr) {
		t.Fatalf("expected no settings file written, stat err=%v", statErr)
	}
}

func TestDoctorReportsMissingCookie(t *testing.T) {
	t.Setenv(settings.EnvCookie, "")
	tmp := t.TempDir()
	s := settings.Normalize(settings.Settings{
		StateDir:  filepath.Join(tmp, "state"),
		OutputDir: filepath.Join(tmp, "out"),
	})
	res := doctor(context.Background(), s, filepath.Join(tmp, "config", "settings.json"))
	if res.OK {
		t.Fatal("expected doctor to fail without a cookie")
	}
	byName := map[string]doctorCheck{}
	for _, c := range res.Checks {
		byName[c.Name] = c
	}
	if byName["api:cookie"].OK {
		t.Fatal("expected cookie check to fail")
	}
	for _, name := range []string{"api:base_url", "directory:state", "directory:output", "directory:config", "storage:file"} {
		if !byName[name].OK {
			t.Fatalf("expected %s ok, got %+v", name, byName[name])
		}
	}
}

func TestRunUnknownCommand(t *testing.T) {
	err := Run([]string{"bogus"})
	if err == nil || !strings.Contains(err.Error(), fmt.Sprintf("%q", "bogus")) {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}
