package download

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"imagine-manager/internal/model"
	"imagine-manager/internal/queue"
	"imagine-manager/internal/runstore"
)

type Downloader interface {
	Download(ctx context.Context, mediaURL string, w io.Writer) (int64, error)
}

const sourcesFile = ".sources.json"

// Items builds one download item per URL. Filenames are fixed at enqueue
// time so a resumed queue writes to the same place, and are unique within
// the post: a repeated basename gets a suffix derived from its URL.
func Items(postID string, urls []string) []model.QueueItem {
	out := make([]model.QueueItem, 0, len(urls))
	used := make(map[string]bool, len(urls))
	for _, u := range urls {
		name := Filename(u)
		if used[name] {
			name = suffixedName(name, u)
		}
		used[name] = true
		out = append(out, model.QueueItem{
			Key: u,
			Payload: model.Payload{
				PostID:   postID,
				URL:      u,
				Filename: name,
			},
		})
	}
	return out
}

// suffixedName inserts a stable URL-derived tag before the extension:
// video.mp4 becomes video-1a2b3c4d.mp4.
func suffixedName(name, src string) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	tag := uuid.NewSHA1(uuid.NameSpaceURL, []byte(src)).String()[:8]
	return stem + "-" + tag + ext
}

// Filename derives a safe local name from the last path segment of a media
// URL, falling back to a random name when the URL has none.
func Filename(rawURL string) string {
	base := ""
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil {
		base = path.Base(u.Path)
	}
	base = sanitize(base)
	if base == "" || base == "." || base == ".." || strings.Trim(base, "._") == "" {
		return uuid.NewString()
	}
	return base
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// NewHandler streams each item into <outDir>/<post id>/<filename>. Each post
// directory keeps a .sources.json of filename -> URL; a file is only skipped
// when it was written from the same URL. A name taken by another source is
// swapped for its URL-suffixed form.
func NewHandler(d Downloader, outDir string, logger *zap.Logger) queue.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return queue.HandlerFunc(func(ctx context.Context, item model.QueueItem, _ queue.StepFunc) error {
		src := strings.TrimSpace(item.Payload.URL)
		if src == "" {
			src = item.Key
		}
		name := item.Payload.Filename
		if name == "" {
			name = Filename(src)
		}
		dir := outDir
		if postDir := sanitize(strings.TrimSpace(item.Payload.PostID)); postDir != "" {
			dir = filepath.Join(outDir, postDir)
		}
		sources := readSources(dir)
		if runstore.FileExists(filepath.Join(dir, name)) && sources[name] != src {
			name = suffixedName(name, src)
		}
		dst := filepath.Join(dir, name)
		if sources[name] == src && runstore.FileExists(dst) {
			logger.Debug("already downloaded", zap.String("path", dst))
			return nil
		}

		stream, err := runstore.CreateStream(dst)
		if err != nil {
			return err
		}
		n, err := d.Download(ctx, src, stream)
		if err != nil {
			stream.Abort()
			return fmt.Errorf("download %s: %w", src, err)
		}
		if err := stream.Commit(); err != nil {
			return err
		}
		sources[name] = src
		if err := runstore.WriteJSON(filepath.Join(dir, sourcesFile), sources); err != nil {
			logger.Warn("record download source", zap.String("path", dst), zap.Error(err))
		}
		logger.Info("downloaded", zap.String("path", dst), zap.Int64("bytes", n))
		return nil
	})
}

func readSources(dir string) map[string]string {
	sources := map[string]string{}
	if err := runstore.ReadJSON(filepath.Join(dir, sourcesFile), &sources); err != nil || sources == nil {
		return map[string]string{}
	}
	return sources
}
