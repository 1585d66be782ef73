package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imagine-manager/internal/runstore"
	"imagine-manager/internal/settings"
)

type doctorResult struct {
	OK     bool          `json:"ok"`
	Checks []doctorCheck `json:"checks"`
}

type doctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	common := bindCommonFlags(fs)
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := common.resolve()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res := doctor(ctx, s, strings.TrimSpace(*common.config))
	if *common.jsonOut {
		return printJSON(res)
	}

	for _, c := range res.Checks {
		status := "ok"
		if !c.OK {
			status = "fail"
		}
		fmt.Printf("%s: %s (%s)\n", c.Name, status, c.Message)
	}
	if !res.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println("doctor: all checks passed")
	return nil
}

func doctor(ctx context.Context, s settings.Settings, configPath string) doctorResult {
	checks := make([]doctorCheck, 0, 6)

	baseOK, baseMsg := checkBaseURL(s.BaseURL)
	checks = append(checks, doctorCheck{Name: "api:base_url", OK: baseOK, Message: baseMsg})

	cookieMsg := "session cookie configured"
	if s.Cookie == "" {
		cookieMsg = "no session cookie (set " + settings.EnvCookie + " or `settings set cookie=...`)"
	}
	checks = append(checks, doctorCheck{Name: "api:cookie", OK: s.Cookie != "", Message: cookieMsg})

	for _, d := range []struct{ name, path string }{
		{"directory:state", s.StateDir},
		{"directory:output", s.OutputDir},
		{"directory:config", filepath.Dir(configPath)},
	} {
		ok, msg := ensureWritableDir(d.path)
		checks = append(checks, doctorCheck{Name: d.name, OK: ok, Message: msg})
	}

	storeOK, storeMsg := checkStorage(ctx, s)
	checks = append(checks, doctorCheck{Name: "storage:" + s.Storage, OK: storeOK, Message: storeMsg})

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return doctorResult{OK: ok, Checks: checks}
}

func checkBaseURL(raw string) (bool, string) {
	u, err := url.Parse(raw)
	if err != nil {
		return false, err.Error()
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return false, fmt.Sprintf("unsupported scheme in %q", raw)
	}
	if u.Host == "" {
		return false, fmt.Sprintf("missing host in %q", raw)
	}
	return true, raw
}

func checkStorage(ctx context.Context, s settings.Settings) (bool, string) {
	if s.Storage == settings.StorageRedis {
		kv, err := runstore.ConnectRedis(ctx, runstore.RedisOptions{Addr: s.RedisAddr, DB: s.RedisDB})
		if err != nil {
			return false, err.Error()
		}
		_ = kv.Close()
		return true, "redis reachable at " + s.RedisAddr
	}
	dir := filepath.Join(s.StateDir, "queues")
	if _, err := runstore.NewFileKV(dir); err != nil {
		return false, err.Error()
	}
	return true, "file store at " + dir
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "imagine-manager-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}
