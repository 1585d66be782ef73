package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"imagine-manager/internal/imagine"
	"imagine-manager/internal/model"
	"imagine-manager/internal/queue"
)

func TestFilename(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{url: "https://assets.grok.com/users/u1/generated/abc/video.mp4", want: "video.mp4"},
		{url: "https://assets.grok.com/a/b/image%20one.jpg?cache=1", want: "image_one.jpg"},
		{url: "https://assets.grok.com/x/../evil.png", want: "evil.png"},
	}
	for _, tc := range cases {
		if got := Filename(tc.url); got != tc.want {
			t.Fatalf("Filename(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}

	for _, raw := range []string{"https://assets.grok.com/", "https://assets.grok.com", "::not a url"} {
		got := Filename(raw)
		if _, err := uuid.Parse(got); err != nil {
			t.Fatalf("expected uuid fallback for %q, got %q", raw, got)
		}
	}
}

type fakeAPI struct {
	srv      *httptest.Server
	children []model.ChildPost
}

func newFakeAPI(t *testing.T, files map[string]string) *fakeAPI {
	t.Helper()
	api := &fakeAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc(imagine.PathFetchPost, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var sb strings.Builder
		sb.WriteString(`{"post":{"id":"p1","childPosts":[`)
		for i, c := range api.children {
			if i > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, `{"id":%q,"mediaType":%q,"mediaUrl":%q}`, c.ID, c.MediaType, c.MediaURL)
		}
		sb.WriteString(`]}}`)
		_, _ = io.WriteString(w, sb.String())
	})
	mux.HandleFunc("/media/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[strings.TrimPrefix(r.URL.Path, "/media/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	})
	api.srv = httptest.NewServer(mux)
	t.Cleanup(api.srv.Close)
	return api
}

func newTestOrchestrator(t *testing.T, api *fakeAPI, outDir string) (*Orchestrator, *queue.Queue) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	client, err := imagine.New(imagine.Options{BaseURL: api.srv.URL, Logger: logger})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	q := queue.New(queue.Options{
		Name:    "download",
		Handler: NewHandler(client, outDir, logger),
		Logger:  logger,
	})
	t.Cleanup(q.Dispose)
	return New(Options{Fetcher: client, Queue: q, Logger: logger}), q
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDownloadPost_WritesFilesAndTalliesFailures(t *testing.T) {
	api := newFakeAPI(t, map[string]string{"a.mp4": "video-a", "b.jpg": "image-b"})
	api.children = []model.ChildPost{
		{ID: "v1", MediaType: "MEDIA_POST_TYPE_VIDEO", MediaURL: api.srv.URL + "/media/a.mp4"},
		{ID: "i1", MediaType: "MEDIA_POST_TYPE_IMAGE", MediaURL: api.srv.URL + "/media/b.jpg"},
		{ID: "i2", MediaType: "MEDIA_POST_TYPE_IMAGE", MediaURL: api.srv.URL + "/media/missing.jpg"},
	}
	out := t.TempDir()
	orch, q := newTestOrchestrator(t, api, out)

	res, err := orch.DownloadPost(testContext(t), "p1")
	if err != nil {
		t.Fatalf("download post: %v", err)
	}
	if res.Total != 3 || res.Succeeded != 2 || res.Failed != 1 {
		t.Fatalf("unexpected tally: %+v", res)
	}
	if res.Status != "Downloaded 2/3" {
		t.Fatalf("unexpected status: %q", res.Status)
	}
	for name, want := range map[string]string{"a.mp4": "video-a", "b.jpg": "image-b"} {
		got, err := os.ReadFile(filepath.Join(out, "p1", name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(got) != want {
			t.Fatalf("%s: got %q want %q", name, got, want)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "p1", "missing.jpg")); !os.IsNotExist(err) {
		t.Fatalf("expected failed download to leave no file, got %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(out, "p1"))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".imgm-tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
	if len(entries) != 3 {
		t.Fatalf("expected two media files plus %s, got %d entries", sourcesFile, len(entries))
	}

	it, ok := q.Get(api.children[2].MediaURL)
	if !ok || it.Status != model.StatusFailed {
		t.Fatalf("expected missing file item failed, got %+v", it)
	}
	if !strings.Contains(it.Error, "404") {
		t.Fatalf("expected HTTP status in failure message, got %q", it.Error)
	}
}

func TestDownloadPost_NothingToDownload(t *testing.T) {
	api := newFakeAPI(t, nil)
	orch, q := newTestOrchestrator(t, api, t.TempDir())

	res, err := orch.DownloadPost(testContext(t), "p1")
	if err != nil {
		t.Fatalf("download post: %v", err)
	}
	if res.Status != StatusNothing {
		t.Fatalf("expected %q, got %q", StatusNothing, res.Status)
	}
	if len(q.Items()) != 0 {
		t.Fatalf("expected empty download queue")
	}
}

func TestItems_RepeatedBasenameGetsURLSuffix(t *testing.T) {
	items := Items("p1", []string{
		"https://assets.grok.com/a/video.mp4",
		"https://assets.grok.com/b/video.mp4",
		"https://assets.grok.com/c/poster.jpg",
	})
	first, second := items[0].Payload.Filename, items[1].Payload.Filename
	if first != "video.mp4" {
		t.Fatalf("expected first keeps plain name, got %q", first)
	}
	if second == first || !strings.HasPrefix(second, "video-") || !strings.HasSuffix(second, ".mp4") {
		t.Fatalf("expected suffixed name for repeated basename, got %q", second)
	}
	again := Items("p1", []string{"https://assets.grok.com/a/video.mp4", "https://assets.grok.com/b/video.mp4"})
	if again[1].Payload.Filename != second {
		t.Fatalf("expected stable suffix, got %q then %q", second, again[1].Payload.Filename)
	}
	if items[2].Payload.Filename != "poster.jpg" {
		t.Fatalf("unexpected name %q", items[2].Payload.Filename)
	}
}

func TestDownloadPost_SameBasenameKeepsBothFiles(t *testing.T) {
	api := newFakeAPI(t, map[string]string{"a/video.mp4": "first", "b/video.mp4": "second"})
	api.children = []model.ChildPost{
		{ID: "v1", MediaType: "MEDIA_POST_TYPE_VIDEO", MediaURL: api.srv.URL + "/media/a/video.mp4"},
		{ID: "v2", MediaType: "MEDIA_POST_TYPE_VIDEO", MediaURL: api.srv.URL + "/media/b/video.mp4"},
	}
	out := t.TempDir()
	orch, _ := newTestOrchestrator(t, api, out)

	res, err := orch.DownloadPost(testContext(t), "p1")
	if err != nil {
		t.Fatalf("download post: %v", err)
	}
	if res.Status != "Downloaded 2/2" {
		t.Fatalf("unexpected status %q", res.Status)
	}

	got := map[string]bool{}
	entries, _ := os.ReadDir(filepath.Join(out, "p1"))
	for _, e := range entries {
		if e.Name() == sourcesFile {
			continue
		}
		data, err := os.ReadFile(filepath.Join(out, "p1", e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		got[string(data)] = true
	}
	if len(got) != 2 || !got["first"] || !got["second"] {
		t.Fatalf("expected both videos on disk, got %v", got)
	}
}

func TestHandler_SkipsOnlySameSource(t *testing.T) {
	out := t.TempDir()
	dir := filepath.Join(out, "p1")
	dst := filepath.Join(dir, "a.mp4")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	var fetched []string
	h := NewHandler(downloaderFunc(func(_ context.Context, src string, w io.Writer) (int64, error) {
		fetched = append(fetched, src)
		n, err := io.WriteString(w, "new")
		return int64(n), err
	}), out, zaptest.NewLogger(t))

	// A file nobody recorded is not ours: keep it and write beside it.
	src := "https://assets.grok.com/x/a.mp4"
	item := Items("p1", []string{src})[0]
	if err := h.Handle(context.Background(), item, nil); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if old, _ := os.ReadFile(dst); string(old) != "old" {
		t.Fatalf("expected unrelated file untouched, got %q", old)
	}
	alt := filepath.Join(dir, suffixedName("a.mp4", src))
	if data, err := os.ReadFile(alt); err != nil || string(data) != "new" {
		t.Fatalf("expected download at %s, got %q err=%v", alt, data, err)
	}

	// Same item again is recognised and skipped.
	if err := h.Handle(context.Background(), item, nil); err != nil {
		t.Fatalf("handle again: %v", err)
	}
	if len(fetched) != 1 {
		t.Fatalf("expected second run skipped, fetched %v", fetched)
	}
}

type downloaderFunc func(ctx context.Context, url string, w io.Writer) (int64, error)

func (f downloaderFunc) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	return f(ctx, url, w)
}
