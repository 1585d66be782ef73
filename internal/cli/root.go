package cli

import (
	"fmt"

	"imagine-manager/internal/jobs"
)

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "fetch":
		return runFetch(args[1:])
	case "upscale":
		return runUpscale(args[1:])
	case "download":
		return runDownload(args[1:])
	case "like":
		return runPostAction(jobs.ActionLike)(args[1:])
	case "unlike":
		return runPostAction(jobs.ActionUnlike)(args[1:])
	case "delete":
		return runPostAction(jobs.ActionDelete)(args[1:])
	case "queue":
		return runQueue(args[1:])
	case "watch":
		return runWatch(args[1:])
	case "settings":
		return runSettings(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("imagine-manager: queued upscale, download and post actions for Grok Imagine")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  imagine-manager settings set cookie=\"<session cookie>\"")
	fmt.Println("  imagine-manager doctor")
	fmt.Println("  imagine-manager upscale <post-id>")
	fmt.Println("  imagine-manager watch")
	fmt.Println()
	fmt.Println("Media Commands:")
	fmt.Println("  fetch     show a post's media and which videos still need HD")
	fmt.Println("  upscale   queue every non-HD video of a post and wait for the batch")
	fmt.Println("  download  download every media URL of a post")
	fmt.Println("  like      like post(s) as one queued job")
	fmt.Println("  unlike    unlike post(s) as one queued job")
	fmt.Println("  delete    delete post(s) as one queued job (asks first)")
	fmt.Println()
	fmt.Println("Queue Commands:")
	fmt.Println("  queue     status, resume, clear-completed, clear")
	fmt.Println("  watch     interactive queue monitor")
	fmt.Println()
	fmt.Println("Setup Commands:")
	fmt.Println("  settings  show/update persisted settings")
	fmt.Println("  doctor    check settings, directories and storage")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Use --json on commands for machine-readable output")
	fmt.Println("  - Queues persist under --state-dir (file) or in redis (--storage redis)")
	fmt.Println("  - Interrupted items are retried by `queue resume`")
}
