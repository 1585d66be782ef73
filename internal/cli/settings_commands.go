package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"imagine-manager/internal/settings"
)

func runSettings(args []string) error {
	if len(args) == 0 {
		printSettingsUsage()
		return nil
	}
	switch args[0] {
	case "show":
		return runSettingsShow(args[1:])
	case "set":
		return runSettingsSet(args[1:])
	case "help", "-h", "--help":
		printSettingsUsage()
		return nil
	default:
		printSettingsUsage()
		return fmt.Errorf("unknown settings subcommand %q", args[0])
	}
}

func runSettingsShow(args []string) error {
	fs := flag.NewFlagSet("settings show", flag.ContinueOnError)
	config := fs.String("config", settings.DefaultSettingsPath, "settings file path")
	effective := fs.Bool("effective", false, "apply environment overrides before printing")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	configPath := strings.TrimSpace(*config)
	s, err := settings.Read(configPath)
	if err != nil {
		return err
	}
	if *effective {
		s = settings.ApplyEnv(s, os.Getenv)
	}
	s = s.Redacted()
	if *jsonOut {
		return printJSON(map[string]any{
			"config_path": configPath,
			"settings":    s,
		})
	}

	fmt.Printf("config: %s\n", configPath)
	printSettings(s)
	return nil
}

// runSettingsSet takes key=value pairs, for example
// `settings set cookie="sso=..." upscale_max_ms=2500`.
func runSettingsSet(args []string) error {
	fs := flag.NewFlagSet("settings set", flag.ContinueOnError)
	config := fs.String("config", settings.DefaultSettingsPath, "settings file path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	pairs := fs.Args()
	if len(pairs) == 0 {
		printSettingsUsage()
		return errors.New("at least one key=value pair is required")
	}

	configPath := strings.TrimSpace(*config)
	s, err := settings.Read(configPath)
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("expected key=value, got %q", pair)
		}
		if err := settings.Set(&s, key, value); err != nil {
			return err
		}
	}

	res, err := settings.Update(settings.UpdateOptions{Path: configPath, Settings: s})
	if err != nil {
		return err
	}
	res.Settings = res.Settings.Redacted()
	if *jsonOut {
		return printJSON(res)
	}
	fmt.Printf("updated settings in %s\n", res.Path)
	printSettings(res.Settings)
	return nil
}

func printSettings(s settings.Settings) {
	fmt.Println(kv("base_url", s.BaseURL))
	fmt.Println(kv("cookie", defaultIfEmpty(s.Cookie, "(none)")))
	fmt.Println(kv("proxy", defaultIfEmpty(s.Proxy, "(none)")))
	fmt.Println(kv("timeout_seconds", fmt.Sprint(s.TimeoutSeconds)))
	fmt.Println(kv("state_dir", s.StateDir))
	fmt.Println(kv("output_dir", s.OutputDir))
	fmt.Println(kv("storage", s.Storage))
	if s.Storage == settings.StorageRedis {
		fmt.Println(kv("redis_addr", s.RedisAddr))
		fmt.Println(kv("redis_db", fmt.Sprint(s.RedisDB)))
	}
	p := s.Pacing
	fmt.Printf("pacing: upscale=%d-%dms refetch=%d-%dms download=%dms job_step=%d-%dms\n",
		p.UpscaleMinMS, p.UpscaleMaxMS, p.RefetchMinMS, p.RefetchMaxMS, p.DownloadMS, p.JobStepMinMS, p.JobStepMaxMS)
}

func printSettingsUsage() {
	fmt.Println("settings commands:")
	fmt.Println("  settings show [--effective]")
	fmt.Println("  settings set key=value [key=value ...]")
	fmt.Printf("  keys: %s\n", strings.Join(settings.Keys(), ", "))
}
