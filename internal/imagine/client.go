package imagine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"imagine-manager/internal/model"
)

const (
	DefaultBaseURL = "https://grok.com"
	DefaultTimeout = 30 * time.Second

	PathFetchPost    = "/rest/media/post/get"
	PathUpscaleVideo = "/rest/media/video/upscale"
	PathLikePost     = "/rest/media/post/like"
	PathUnlikePost   = "/rest/media/post/unlike"
	PathDeletePost   = "/rest/media/post/delete"

	maxErrorBody = 512
)

var ErrEmptyID = errors.New("id is required")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Result is the uniform outcome of like, unlike and delete calls.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type Options struct {
	BaseURL    string
	Cookie     string
	ProxyURL   string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	baseURL    *url.URL
	cookie     string
	userAgent  string
	httpClient *http.Client
	logger     *zap.Logger
}

func New(opts Options) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base URL %q: %w", raw, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", raw)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if p := strings.TrimSpace(opts.ProxyURL); p != "" {
			proxyURL, err := url.Parse(p)
			if err != nil {
				return nil, fmt.Errorf("parse proxy URL %q: %w", p, err)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
		httpClient = &http.Client{Timeout: timeout, Transport: transport}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    base,
		cookie:     strings.TrimSpace(opts.Cookie),
		userAgent:  strings.TrimSpace(opts.UserAgent),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type fetchPostResponse struct {
	Post *model.Post `json:"post"`
}

// FetchPost loads a post with its child media. A body that does not decode
// into a post object is an error.
func (c *Client) FetchPost(ctx context.Context, postID string) (*model.Post, error) {
	id := strings.TrimSpace(postID)
	if id == "" {
		return nil, fmt.Errorf("fetch post: %w", ErrEmptyID)
	}
	body, err := c.post(ctx, "fetch post", PathFetchPost, map[string]string{"id": id})
	if err != nil {
		return nil, err
	}
	var out fetchPostResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("fetch post %s: parse response: %w", id, err)
	}
	if out.Post == nil {
		return nil, fmt.Errorf("fetch post %s: response has no post object", id)
	}
	if out.Post.ID == "" {
		out.Post.ID = id
	}
	return out.Post, nil
}

// UpscaleVideo requests an HD upscale. A 2xx response whose body cannot be
// parsed yields a nil map and no error.
func (c *Client) UpscaleVideo(ctx context.Context, videoID string) (map[string]any, error) {
	id := strings.TrimSpace(videoID)
	if id == "" {
		return nil, fmt.Errorf("upscale video: %w", ErrEmptyID)
	}
	body, err := c.post(ctx, "upscale video", PathUpscaleVideo, map[string]string{"videoId": id})
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		c.logger.Debug("upscale response not parseable", zap.String("video_id", id), zap.Error(err))
		return nil, nil
	}
	return out, nil
}

func (c *Client) LikePost(ctx context.Context, postID string) Result {
	return c.postAction(ctx, "like post", PathLikePost, postID)
}

func (c *Client) UnlikePost(ctx context.Context, postID string) Result {
	return c.postAction(ctx, "unlike post", PathUnlikePost, postID)
}

func (c *Client) DeletePost(ctx context.Context, postID string) Result {
	return c.postAction(ctx, "delete post", PathDeletePost, postID)
}

func (c *Client) postAction(ctx context.Context, op, path, postID string) Result {
	id := strings.TrimSpace(postID)
	if id == "" {
		return Result{Error: ErrEmptyID.Error()}
	}
	if _, err := c.post(ctx, op, path, map[string]string{"id": id}); err != nil {
		c.logger.Warn("post action failed", zap.String("op", op), zap.String("post_id", id), zap.Error(err))
		return Result{Error: err.Error()}
	}
	return Result{Success: true}
}

// Download streams a media URL into w and returns the number of bytes copied.
// The session cookie is only sent to the API host and its subdomains.
func (c *Client) Download(ctx context.Context, mediaURL string, w io.Writer) (int64, error) {
	target := strings.TrimSpace(mediaURL)
	if target == "" {
		return 0, fmt.Errorf("download: media URL is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("download %s: build request: %w", target, err)
	}
	c.decorate(req, c.sameSite(req.URL))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &StatusError{Op: "download", StatusCode: resp.StatusCode, Body: readExcerpt(resp.Body)}
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download %s: copy body: %w", target, err)
	}
	return n, nil
}

func (c *Client) post(ctx context.Context, op, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", op, err)
	}
	endpoint := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.decorate(req, true)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: readExcerpt(resp.Body)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}
	c.logger.Debug("api call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	return body, nil
}

func (c *Client) decorate(req *http.Request, withCookie bool) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if withCookie && c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
}

func (c *Client) sameSite(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	base := strings.ToLower(c.baseURL.Hostname())
	return host == base || strings.HasSuffix(host, "."+base)
}

func readExcerpt(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
