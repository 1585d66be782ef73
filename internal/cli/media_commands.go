package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"imagine-manager/internal/download"
	"imagine-manager/internal/jobs"
	"imagine-manager/internal/media"
	"imagine-manager/internal/model"
	"imagine-manager/internal/upscale"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// postIDsFrom collects --post values and positional arguments.
func postIDsFrom(fs *flag.FlagSet, flagged string) []string {
	out := make([]string, 0, fs.NArg()+1)
	for _, raw := range append([]string{flagged}, fs.Args()...) {
		for _, part := range strings.Split(raw, ",") {
			if v := strings.TrimSpace(part); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func runFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	post := fs.String("post", "", "post id")
	common := bindCommonFlags(fs)
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids := postIDsFrom(fs, *post)
	if len(ids) != 1 {
		fs.Usage()
		return errors.New("exactly one post id is required")
	}

	ctx, cancel := signalContext()
	defer cancel()
	rt, err := openRuntime(ctx, common, runtimeOptions{command: "fetch"})
	if err != nil {
		return err
	}
	defer rt.Close()

	p, err := rt.client.FetchPost(ctx, ids[0])
	if err != nil {
		return err
	}
	summary := media.Process(p)
	if *common.jsonOut {
		return printJSON(map[string]any{
			"post":    p,
			"summary": summary,
		})
	}

	fmt.Printf("post_id: %s\n", p.ID)
	if p.Prompt != "" {
		fmt.Printf("prompt: %s\n", truncateRunes(p.Prompt, 120))
	}
	fmt.Printf("children: %d\n", len(p.ChildPosts))
	fmt.Printf("hd_videos: %d\n", summary.HDVideoCount)
	fmt.Printf("videos_to_upscale: %d\n", len(summary.VideosToUpscale))
	for _, id := range summary.VideosToUpscale {
		fmt.Printf("  - %s\n", id)
	}
	fmt.Printf("urls: %d\n", len(summary.URLs))
	for _, u := range summary.URLs {
		fmt.Printf("  - %s\n", u)
	}
	return nil
}

func runUpscale(args []string) error {
	fs := flag.NewFlagSet("upscale", flag.ContinueOnError)
	post := fs.String("post", "", "post id (or pass ids as arguments)")
	common := bindCommonFlags(fs)
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids := postIDsFrom(fs, *post)
	if len(ids) == 0 {
		fs.Usage()
		return errors.New("at least one post id is required")
	}

	ctx, cancel := signalContext()
	defer cancel()
	rt, err := openRuntime(ctx, common, runtimeOptions{command: "upscale", lock: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	quiet := *common.jsonOut
	orch, err := rt.upscaler(ctx, func(s upscale.Status) {
		if !quiet {
			fmt.Printf("[%s] %s\n", s.PostID, s.Message)
		}
	})
	if err != nil {
		return err
	}

	results := make([]upscale.Result, 0, len(ids))
	var failed error
	for _, id := range ids {
		res, err := orch.UpscalePost(ctx, id)
		results = append(results, res)
		if err != nil {
			if ctx.Err() != nil {
				failed = errInterrupted
				break
			}
			failed = errors.Join(failed, err)
		}
	}
	if *common.jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
		return failed
	}
	for _, res := range results {
		if res.Total > 0 {
			fmt.Printf("%s: %s (%d/%d attempted, %d failed, %d hd)\n", res.PostID, res.Status, res.Done, res.Total, res.Failed, res.Summary.HDVideoCount)
		}
	}
	return failed
}

func runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	post := fs.String("post", "", "post id (or pass ids as arguments)")
	common := bindCommonFlags(fs)
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids := postIDsFrom(fs, *post)
	if len(ids) == 0 {
		fs.Usage()
		return errors.New("at least one post id is required")
	}

	ctx, cancel := signalContext()
	defer cancel()
	rt, err := openRuntime(ctx, common, runtimeOptions{command: "download", lock: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	quiet := *common.jsonOut
	orch, err := rt.downloader(ctx, func(s download.Status) {
		if !quiet {
			fmt.Printf("[%s] %s\n", s.PostID, s.Message)
		}
	})
	if err != nil {
		return err
	}

	results := make([]download.Result, 0, len(ids))
	var failed error
	for _, id := range ids {
		res, err := orch.DownloadPost(ctx, id)
		results = append(results, res)
		if err != nil {
			if ctx.Err() != nil {
				failed = errInterrupted
				break
			}
			failed = errors.Join(failed, err)
		}
	}
	if *common.jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
		return failed
	}
	fmt.Printf("output_dir: %s\n", rt.settings.OutputDir)
	return failed
}

func runPostAction(action jobs.Action) func([]string) error {
	return func(args []string) error {
		name := string(action)
		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		post := fs.String("post", "", "post id (or pass ids as arguments)")
		yes := fs.Bool("yes", false, "skip confirmation prompt")
		common := bindCommonFlags(fs)
		fs.SetOutput(flag.CommandLine.Output())
		if err := fs.Parse(args); err != nil {
			return err
		}
		ids := postIDsFrom(fs, *post)
		if len(ids) == 0 {
			fs.Usage()
			return errors.New("at least one post id is required")
		}
		if action == jobs.ActionDelete && !*yes {
			ok, err := promptConfirm(fmt.Sprintf("delete %d post(s)? [y/N]: ", len(ids)))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("delete cancelled")
				return nil
			}
		}

		ctx, cancel := signalContext()
		defer cancel()
		rt, err := openRuntime(ctx, common, runtimeOptions{command: name, lock: true})
		if err != nil {
			return err
		}
		defer rt.Close()

		runner, err := rt.jobRunner(ctx)
		if err != nil {
			return err
		}
		item, err := runner.Run(ctx, action, ids)
		if err != nil {
			if ctx.Err() != nil {
				return errInterrupted
			}
			return err
		}
		if *common.jsonOut {
			return printJSON(item)
		}
		fmt.Printf("job: %s\n", item.Key)
		fmt.Printf("action: %s\n", item.Payload.Action)
		fmt.Printf("status: %s\n", item.Status)
		fmt.Printf("processed: %d/%d\n", item.ProcessedItems, item.TotalItems)
		if item.Status == model.StatusFailed {
			return fmt.Errorf("%s job failed: %s", name, item.Error)
		}
		return nil
	}
}
