package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"imagine-manager/internal/download"
	"imagine-manager/internal/imagine"
	"imagine-manager/internal/jobs"
	"imagine-manager/internal/queue"
	"imagine-manager/internal/runstore"
	"imagine-manager/internal/settings"
	"imagine-manager/internal/upscale"
)

const (
	queueUpscale  = "upscale"
	queueDownload = "download"
	queueJobs     = "jobs"
)

var queueNames = []string{queueUpscale, queueDownload, queueJobs}

type commonFlags struct {
	config    *string
	stateDir  *string
	outputDir *string
	baseURL   *string
	cookie    *string
	proxy     *string
	storage   *string
	redisAddr *string
	logLevel  *string
	logJSON   *bool
	jsonOut   *bool
}

func bindCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		config:    fs.String("config", settings.DefaultSettingsPath, "settings file path"),
		stateDir:  fs.String("state-dir", "", "queue state directory (overrides settings)"),
		outputDir: fs.String("output-dir", "", "download directory (overrides settings)"),
		baseURL:   fs.String("base-url", "", "API base URL (overrides settings)"),
		cookie:    fs.String("cookie", "", "session cookie header (overrides settings and env)"),
		proxy:     fs.String("proxy", "", "HTTP proxy URL (overrides settings)"),
		storage:   fs.String("storage", "", "queue storage backend: file|redis (overrides settings)"),
		redisAddr: fs.String("redis-addr", "", "redis address for --storage redis"),
		logLevel:  fs.String("log-level", "info", "log level: debug|info|warn|error"),
		logJSON:   fs.Bool("log-json", false, "emit JSON logs on stderr"),
		jsonOut:   fs.Bool("json", false, "print JSON output"),
	}
}

// resolve layers settings file, environment and flags, in that order.
func (f *commonFlags) resolve() (settings.Settings, error) {
	s, err := settings.Read(strings.TrimSpace(*f.config))
	if err != nil {
		return settings.Settings{}, err
	}
	s = settings.ApplyEnv(s, os.Getenv)
	s.StateDir = firstNonEmpty(*f.stateDir, s.StateDir)
	s.OutputDir = firstNonEmpty(*f.outputDir, s.OutputDir)
	s.BaseURL = firstNonEmpty(*f.baseURL, s.BaseURL)
	s.Cookie = firstNonEmpty(*f.cookie, s.Cookie)
	s.Proxy = firstNonEmpty(*f.proxy, s.Proxy)
	if v := strings.TrimSpace(*f.redisAddr); v != "" {
		s.RedisAddr = v
		if strings.TrimSpace(*f.storage) == "" {
			s.Storage = settings.StorageRedis
		}
	}
	if v := strings.TrimSpace(*f.storage); v != "" {
		if err := settings.Set(&s, "storage", v); err != nil {
			return settings.Settings{}, fmt.Errorf("--storage: %w", err)
		}
	}
	return settings.Normalize(s), nil
}

func newLogger(level string, jsonOut bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	if jsonOut {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// appRuntime is everything a queue-driving command needs. Close releases
// the state lock, storage connections and queue goroutines.
type appRuntime struct {
	settings settings.Settings
	logger   *zap.Logger
	client   *imagine.Client
	kv       runstore.KV

	lock   *runstore.StateLock
	queues map[string]*queue.Queue
	closer []func()
}

type runtimeOptions struct {
	command string
	// lock is false for read-only commands.
	lock bool
}

func openRuntime(ctx context.Context, f *commonFlags, opts runtimeOptions) (*appRuntime, error) {
	s, err := f.resolve()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(*f.logLevel, *f.logJSON)
	if err != nil {
		return nil, err
	}
	rt := &appRuntime{
		settings: s,
		logger:   logger,
		queues:   make(map[string]*queue.Queue),
	}
	rt.closer = append(rt.closer, func() { _ = logger.Sync() })

	client, err := imagine.New(imagine.Options{
		BaseURL:  s.BaseURL,
		Cookie:   s.Cookie,
		ProxyURL: s.Proxy,
		Timeout:  s.Timeout(),
		Logger:   logger.Named("api"),
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.client = client

	if opts.lock {
		lock, err := runstore.AcquireStateLock(s.StateDir, opts.command)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.lock = &lock
	}

	rt.kv = rt.openKV(ctx)
	return rt, nil
}

// openKV picks the storage backend. An unreachable backend degrades to an
// in-memory store for this session.
func (rt *appRuntime) openKV(ctx context.Context) runstore.KV {
	s := rt.settings
	if s.Storage == settings.StorageRedis {
		kv, err := runstore.ConnectRedis(ctx, runstore.RedisOptions{
			Addr: s.RedisAddr,
			DB:   s.RedisDB,
		})
		if err != nil {
			rt.logger.Warn("redis storage unavailable, queues will not persist", zap.Error(err))
			return runstore.NewMemoryKV()
		}
		rt.closer = append(rt.closer, func() { _ = kv.Close() })
		return kv
	}
	kv, err := runstore.NewFileKV(filepath.Join(s.StateDir, "queues"))
	if err != nil {
		rt.logger.Warn("file storage unavailable, queues will not persist", zap.Error(err))
		return runstore.NewMemoryKV()
	}
	return kv
}

func (rt *appRuntime) Close() {
	for _, q := range rt.queues {
		q.Dispose()
	}
	if rt.lock != nil {
		if err := rt.lock.Release(); err != nil && rt.logger != nil {
			rt.logger.Warn("release state lock", zap.Error(err))
		}
		rt.lock = nil
	}
	for i := len(rt.closer) - 1; i >= 0; i-- {
		rt.closer[i]()
	}
	rt.closer = nil
}

// openQueue builds and rehydrates one named queue with its handler.
func (rt *appRuntime) openQueue(ctx context.Context, name string) (*queue.Queue, error) {
	if q, ok := rt.queues[name]; ok {
		return q, nil
	}
	pacing := rt.settings.Pacing
	logger := rt.logger.Named(name)

	opts := queue.Options{Name: name, KV: rt.kv, Logger: logger}
	switch name {
	case queueUpscale:
		opts.Handler = upscale.NewHandler(rt.client, logger)
		opts.Delay = queue.Jitter(pacing.Upscale())
	case queueDownload:
		opts.Handler = download.NewHandler(rt.client, rt.settings.OutputDir, logger)
		opts.Delay = queue.Fixed(pacing.Download())
	case queueJobs:
		opts.Handler = jobs.NewHandler(jobs.HandlerOptions{
			Actions: rt.client,
			Delay:   queue.Jitter(pacing.JobStep()),
			Logger:  logger,
		})
		opts.Delay = queue.Jitter(pacing.JobStep())
	default:
		return nil, fmt.Errorf("unknown queue %q (expected %s)", name, strings.Join(queueNames, ", "))
	}

	q := queue.New(opts)
	if err := q.Init(ctx); err != nil {
		q.Dispose()
		return nil, err
	}
	rt.queues[name] = q
	return q, nil
}

func (rt *appRuntime) upscaler(ctx context.Context, onStatus func(upscale.Status)) (*upscale.Orchestrator, error) {
	q, err := rt.openQueue(ctx, queueUpscale)
	if err != nil {
		return nil, err
	}
	return upscale.New(upscale.Options{
		Fetcher:      rt.client,
		Queue:        q,
		RefetchDelay: queue.Jitter(rt.settings.Pacing.Refetch()),
		Logger:       rt.logger.Named("upscale"),
		OnStatus:     onStatus,
	}), nil
}

func (rt *appRuntime) downloader(ctx context.Context, onStatus func(download.Status)) (*download.Orchestrator, error) {
	q, err := rt.openQueue(ctx, queueDownload)
	if err != nil {
		return nil, err
	}
	return download.New(download.Options{
		Fetcher:  rt.client,
		Queue:    q,
		Logger:   rt.logger.Named("download"),
		OnStatus: onStatus,
	}), nil
}

func (rt *appRuntime) jobRunner(ctx context.Context) (*jobs.Runner, error) {
	q, err := rt.openQueue(ctx, queueJobs)
	if err != nil {
		return nil, err
	}
	return jobs.NewRunner(q), nil
}

func resolveQueueNames(raw string) ([]string, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" || v == "all" {
		return queueNames, nil
	}
	for _, n := range queueNames {
		if n == v {
			return []string{n}, nil
		}
	}
	return nil, fmt.Errorf("unknown queue %q (expected all, %s)", raw, strings.Join(queueNames, ", "))
}

var errInterrupted = errors.New("interrupted")
