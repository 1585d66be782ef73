package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"imagine-manager/internal/runstore"
)

const settingsSchemaVersion = 1

// Pacing holds the delay windows, in milliseconds, between remote calls.
type Pacing struct {
	UpscaleMinMS int `json:"upscale_min_ms,omitempty"`
	UpscaleMaxMS int `json:"upscale_max_ms,omitempty"`
	RefetchMinMS int `json:"refetch_min_ms,omitempty"`
	RefetchMaxMS int `json:"refetch_max_ms,omitempty"`
	DownloadMS   int `json:"download_ms,omitempty"`
	JobStepMinMS int `json:"job_step_min_ms,omitempty"`
	JobStepMaxMS int `json:"job_step_max_ms,omitempty"`
}

type Settings struct {
	BaseURL        string `json:"base_url,omitempty"`
	Cookie         string `json:"cookie,omitempty"`
	Proxy          string `json:"proxy,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	StateDir       string `json:"state_dir,omitempty"`
	OutputDir      string `json:"output_dir,omitempty"`
	Storage        string `json:"storage,omitempty"`
	RedisAddr      string `json:"redis_addr,omitempty"`
	RedisDB        int    `json:"redis_db,omitempty"`
	Pacing         Pacing `json:"pacing"`
}

type file struct {
	SchemaVersion int      `json:"schema_version"`
	UpdatedAt     string   `json:"updated_at"`
	Settings      Settings `json:"settings"`
}

type UpdateOptions struct {
	Path     string
	Settings Settings
}

type UpdateResult struct {
	Path     string   `json:"path"`
	Settings Settings `json:"settings"`
}

func Defaults() Settings {
	return Normalize(Settings{})
}

func Normalize(raw Settings) Settings {
	norm := raw
	norm.BaseURL = strings.TrimRight(strings.TrimSpace(norm.BaseURL), "/")
	if norm.BaseURL == "" {
		norm.BaseURL = DefaultBaseURL
	}
	norm.Cookie = strings.TrimSpace(norm.Cookie)
	norm.Proxy = strings.TrimSpace(norm.Proxy)
	if norm.TimeoutSeconds <= 0 {
		norm.TimeoutSeconds = DefaultTimeoutSeconds
	}
	norm.StateDir = firstNonEmpty(norm.StateDir, DefaultStateDir)
	norm.OutputDir = firstNonEmpty(norm.OutputDir, DefaultOutputDir)
	norm.Storage = normalizeStorage(norm.Storage)
	norm.RedisAddr = firstNonEmpty(norm.RedisAddr, DefaultRedisAddr)
	if norm.RedisDB < 0 {
		norm.RedisDB = 0
	}
	norm.Pacing = normalizePacing(norm.Pacing)
	return norm
}

func normalizeStorage(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case StorageRedis:
		return StorageRedis
	default:
		return StorageFile
	}
}

func normalizePacing(p Pacing) Pacing {
	p.UpscaleMinMS, p.UpscaleMaxMS = window(p.UpscaleMinMS, p.UpscaleMaxMS, DefaultUpscaleMinMS, DefaultUpscaleMaxMS)
	p.RefetchMinMS, p.RefetchMaxMS = window(p.RefetchMinMS, p.RefetchMaxMS, DefaultRefetchMinMS, DefaultRefetchMaxMS)
	p.JobStepMinMS, p.JobStepMaxMS = window(p.JobStepMinMS, p.JobStepMaxMS, DefaultJobStepMinMS, DefaultJobStepMaxMS)
	if p.DownloadMS <= 0 {
		p.DownloadMS = DefaultDownloadMS
	}
	return p
}

func window(lo, hi, defLo, defHi int) (int, int) {
	if lo <= 0 {
		lo = defLo
	}
	if hi <= 0 {
		hi = defHi
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

func (s Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (p Pacing) Upscale() (time.Duration, time.Duration) {
	return ms(p.UpscaleMinMS), ms(p.UpscaleMaxMS)
}

func (p Pacing) Refetch() (time.Duration, time.Duration) {
	return ms(p.RefetchMinMS), ms(p.RefetchMaxMS)
}

func (p Pacing) JobStep() (time.Duration, time.Duration) {
	return ms(p.JobStepMinMS), ms(p.JobStepMaxMS)
}

func (p Pacing) Download() time.Duration {
	return ms(p.DownloadMS)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func normalizePath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return DefaultSettingsPath
	}
	return p
}

// Read loads settings from path. A missing file yields defaults.
func Read(path string) (Settings, error) {
	var doc file
	if err := runstore.ReadJSON(normalizePath(path), &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return Settings{}, err
	}
	return Normalize(doc.Settings), nil
}

func Update(opts UpdateOptions) (UpdateResult, error) {
	path := normalizePath(opts.Path)
	doc := file{
		SchemaVersion: settingsSchemaVersion,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
		Settings:      Normalize(opts.Settings),
	}
	if err := runstore.Mkdir(filepath.Dir(path)); err != nil {
		return UpdateResult{}, err
	}
	if err := runstore.WriteJSON(path, doc); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Path: path, Settings: doc.Settings}, nil
}

// ApplyEnv overlays non-empty environment values on s.
func ApplyEnv(s Settings, getenv func(string) string) Settings {
	if getenv == nil {
		getenv = os.Getenv
	}
	s.Cookie = getEnv(getenv, EnvCookie, s.Cookie)
	s.BaseURL = getEnv(getenv, EnvBaseURL, s.BaseURL)
	s.Proxy = getEnv(getenv, EnvProxy, s.Proxy)
	if addr := getEnv(getenv, EnvRedisAddr, ""); addr != "" {
		s.RedisAddr = addr
		s.Storage = StorageRedis
	}
	s.RedisDB = getEnvAsInt(getenv, EnvRedisDB, s.RedisDB)
	return Normalize(s)
}

func getEnv(getenv func(string) string, key, defaultValue string) string {
	if value := strings.TrimSpace(getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(getenv func(string) string, key string, defaultValue int) int {
	if value := strings.TrimSpace(getenv(key)); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

var setters = map[string]func(*Settings, string) error{
	"base_url":   func(s *Settings, v string) error { s.BaseURL = v; return nil },
	"cookie":     func(s *Settings, v string) error { s.Cookie = v; return nil },
	"proxy":      func(s *Settings, v string) error { s.Proxy = v; return nil },
	"state_dir":  func(s *Settings, v string) error { s.StateDir = v; return nil },
	"output_dir": func(s *Settings, v string) error { s.OutputDir = v; return nil },
	"redis_addr": func(s *Settings, v string) error { s.RedisAddr = v; return nil },
	"storage": func(s *Settings, v string) error {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case StorageFile, StorageRedis:
			s.Storage = v
			return nil
		default:
			return fmt.Errorf("storage must be %q or %q", StorageFile, StorageRedis)
		}
	},
	"timeout_seconds": intSetter(func(s *Settings, n int) { s.TimeoutSeconds = n }),
	"redis_db":        intSetter(func(s *Settings, n int) { s.RedisDB = n }),
	"upscale_min_ms":  intSetter(func(s *Settings, n int) { s.Pacing.UpscaleMinMS = n }),
	"upscale_max_ms":  intSetter(func(s *Settings, n int) { s.Pacing.UpscaleMaxMS = n }),
	"refetch_min_ms":  intSetter(func(s *Settings, n int) { s.Pacing.RefetchMinMS = n }),
	"refetch_max_ms":  intSetter(func(s *Settings, n int) { s.Pacing.RefetchMaxMS = n }),
	"download_ms":     intSetter(func(s *Settings, n int) { s.Pacing.DownloadMS = n }),
	"job_step_min_ms": intSetter(func(s *Settings, n int) { s.Pacing.JobStepMinMS = n }),
	"job_step_max_ms": intSetter(func(s *Settings, n int) { s.Pacing.JobStepMaxMS = n }),
}

func intSetter(apply func(*Settings, int)) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return fmt.Errorf("value must be a non-negative integer")
		}
		apply(s, n)
		return nil
	}
}

// Set assigns one named setting from its string form.
func Set(s *Settings, key, value string) error {
	fn, ok := setters[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	if err := fn(s, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func Keys() []string {
	out := make([]string, 0, len(setters))
	for k := range setters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Redacted returns a copy safe to print.
func (s Settings) Redacted() Settings {
	if s.Cookie != "" {
		s.Cookie = "<set>"
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}
