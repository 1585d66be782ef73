package settings

import (
	"path/filepath"
	"testing"
	"time"
)

func TestReadDefaultsWhenFileMissing(t *testing.T) {
	s, err := Read(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("read settings failed: %v", err)
	}
	if s.BaseURL != DefaultBaseURL {
		t.Fatalf("base url default mismatch: got %q want %q", s.BaseURL, DefaultBaseURL)
	}
	if s.Storage != StorageFile {
		t.Fatalf("storage default mismatch: got %q", s.Storage)
	}
	lo, hi := s.Pacing.Upscale()
	if lo != time.Second || hi != 2*time.Second {
		t.Fatalf("upscale window mismatch: %s-%s", lo, hi)
	}
	if s.Pacing.Download() != 500*time.Millisecond {
		t.Fatalf("download pacing mismatch: %s", s.Pacing.Download())
	}
	if s.Timeout() != 30*time.Second {
		t.Fatalf("timeout mismatch: %s", s.Timeout())
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "settings.json")
	in := Defaults()
	in.Cookie = " sso=abc "
	in.Storage = "REDIS"
	in.Pacing.RefetchMinMS = 6000
	in.Pacing.RefetchMaxMS = 4000

	res, err := Update(UpdateOptions{Path: path, Settings: in})
	if err != nil {
		t.Fatalf("update settings failed: %v", err)
	}
	if res.Path != path {
		t.Fatalf("path mismatch: got %q", res.Path)
	}

	out, err := Read(path)
	if err != nil {
		t.Fatalf("read settings failed: %v", err)
	}
	if out.Cookie != "sso=abc" {
		t.Fatalf("cookie not trimmed: %q", out.Cookie)
	}
	if out.Storage != StorageRedis {
		t.Fatalf("storage mismatch: got %q", out.Storage)
	}
	if out.Pacing.RefetchMinMS != 6000 || out.Pacing.RefetchMaxMS != 6000 {
		t.Fatalf("expected inverted window to collapse, got %+v", out.Pacing)
	}
}

func TestApplyEnvOverridesFile(t *testing.T) {
	env := map[string]string{
		EnvCookie:    "sso=env",
		EnvRedisAddr: "redis:6380",
		EnvRedisDB:   "3",
		EnvBaseURL:   "",
	}
	s := ApplyEnv(Defaults(), func(k string) string { return env[k] })
	if s.Cookie != "sso=env" {
		t.Fatalf("cookie override mismatch: %q", s.Cookie)
	}
	if s.Storage != StorageRedis || s.RedisAddr != "redis:6380" || s.RedisDB != 3 {
		t.Fatalf("redis override mismatch: %+v", s)
	}
	if s.BaseURL != DefaultBaseURL {
		t.Fatalf("empty env value should not override, got %q", s.BaseURL)
	}
}

func TestSet(t *testing.T) {
	s := Defaults()
	cases := []struct {
		key     string
		value   string
		wantErr bool
	}{
		{key: "cookie", value: "sso=1"},
		{key: "upscale_max_ms", value: "2500"},
		{key: "storage", value: "redis"},
		{key: "storage", value: "s3", wantErr: true},
		{key: "download_ms", value: "-1", wantErr: true},
		{key: "workers", value: "4", wantErr: true},
	}
	for _, tc := range cases {
		err := Set(&s, tc.key, tc.value)
		if (err != nil) != tc.wantErr {
			t.Fatalf("Set(%q, %q) error = %v, wantErr %v", tc.key, tc.value, err, tc.wantErr)
		}
	}
	if s.Cookie != "sso=1" || s.Pacing.UpscaleMaxMS != 2500 || s.Storage != "redis" {
		t.Fatalf("unexpected settings after set: %+v", s)
	}
	if s.Redacted().Cookie != "<set>" {
		t.Fatalf("expected cookie to be redacted")
	}
}
