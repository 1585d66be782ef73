package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"strings"

	"imagine-manager/internal/model"
	"imagine-manager/internal/runstore"
)

type queueStatus struct {
	Name   string            `json:"name"`
	Counts model.QueueCounts `json:"counts"`
	Items  []model.QueueItem `json:"items,omitempty"`
}

func runQueue(args []string) error {
	if len(args) == 0 {
		printQueueUsage()
		return nil
	}
	switch args[0] {
	case "status":
		return runQueueStatus(args[1:])
	case "resume":
		return runQueueResume(args[1:])
	case "clear-completed":
		return runQueueClear(args[1:], false)
	case "clear":
		return runQueueClear(args[1:], true)
	case "help", "-h", "--help":
		printQueueUsage()
		return nil
	default:
		printQueueUsage()
		return fmt.Errorf("unknown queue subcommand %q", args[0])
	}
}

// runQueueStatus reads persisted queue documents without taking the state
// lock, so it works while another process is draining the queues.
func runQueueStatus(args []string) error {
	fs := flag.NewFlagSet("queue status", flag.ContinueOnError)
	which := fs.String("queue", "all", "queue name: all|upscale|download|jobs")
	verbose := fs.Bool("items", false, "list every item")
	common := bindCommonFlags(fs)
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	names, err := resolveQueueNames(*which)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	rt, err := openRuntime(ctx, common, runtimeOptions{command: "queue status"})
	if err != nil {
		return err
	}
	defer rt.Close()

	out := make([]queueStatus, 0, len(names))
	for _, name := range names {
		items, err := readPersistedItems(ctx, rt, name)
		if err != nil {
			return err
		}
		st := queueStatus{Name: name, Counts: model.CountItems(items)}
		if *verbose || *common.jsonOut {
			st.Items = items
		}
		out = append(out, st)
	}
	if *common.jsonOut {
		return printJSON(out)
	}

	for _, st := range out {
		c := st.Counts
		fmt.Printf("%s: total=%d pending=%d processing=%d completed=%d failed=%d\n",
			st.Name, c.Total, c.Pending, c.Processing, c.Completed, c.Failed)
		for _, it := range st.Items {
			line := fmt.Sprintf("  %-10s %s", it.Status, it.Key)
			if it.TotalItems > 0 {
				line += fmt.Sprintf(" (%d/%d)", it.ProcessedItems, it.TotalItems)
			}
			if it.Error != "" {
				line += "  " + truncateRunes(it.Error, 80)
			}
			fmt.Println(line)
		}
	}
	return nil
}

func readPersistedItems(ctx context.Context, rt *appRuntime, name string) ([]model.QueueItem, error) {
	data, err := rt.kv.Get(ctx, name)
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			return []model.QueueItem{}, nil
		}
		return nil, fmt.Errorf("read %s queue: %w", name, err)
	}
	var doc model.PersistedQueue
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s queue: %w", name, err)
	}
	if doc.Items == nil {
		doc.Items = []model.QueueItem{}
	}
	return doc.Items, nil
}

// runQueueResume drains whatever is pending, including items demoted from
// an interrupted session.
func runQueueResume(args []string) error {
	fs := flag.NewFlagSet("queue resume", flag.ContinueOnError)
	which := fs.String("queue", "all", "queue name: all|upscale|download|jobs")
	common := bindCommonFlags(fs)
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	names, err := resolveQueueNames(*which)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	rt, err := openRuntime(ctx, common, runtimeOptions{command: "queue resume", lock: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	summaries := make([]queueStatus, 0, len(names))
	for _, name := range names {
		q, err := rt.openQueue(ctx, name)
		if err != nil {
			return err
		}
		pending := q.Counts().Pending
		if pending > 0 && !*common.jsonOut {
			fmt.Printf("%s: resuming %d pending item(s)\n", name, pending)
		}
		q.StartProcessing()
	}
	for _, name := range names {
		q := rt.queues[name]
		if err := q.Wait(ctx); err != nil {
			for _, other := range rt.queues {
				other.StopProcessing()
			}
			return errInterrupted
		}
		summaries = append(summaries, queueStatus{Name: name, Counts: q.Counts()})
	}

	if *common.jsonOut {
		return printJSON(summaries)
	}
	for _, st := range summaries {
		c := st.Counts
		fmt.Printf("%s: completed=%d failed=%d pending=%d\n", st.Name, c.Completed, c.Failed, c.Pending)
	}
	return nil
}

func runQueueClear(args []string, all bool) error {
	name := "queue clear-completed"
	if all {
		name = "queue clear"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	which := fs.String("queue", "all", "queue name: all|upscale|download|jobs")
	yes := fs.Bool("yes", false, "skip confirmation prompt")
	common := bindCommonFlags(fs)
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	names, err := resolveQueueNames(*which)
	if err != nil {
		return err
	}
	if all && !*yes {
		ok, err := promptConfirm(fmt.Sprintf("remove every item from %s? [y/N]: ", strings.Join(names, ", ")))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("clear cancelled")
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

	removed := make(map[string]int, len(names))
	for _, n := range names {
		q, err := rt.openQueue(ctx, n)
		if err != nil {
			return err
		}
		if all {
			removed[n] = len(q.Items())
			q.ClearAll()
		} else {
			removed[n] = q.ClearCompleted()
		}
	}
	if *common.jsonOut {
		return printJSON(map[string]any{"removed": removed})
	}
	for _, n := range names {
		fmt.Printf("%s: removed %d item(s)\n", n, removed[n])
	}
	return nil
}

func printQueueUsage() {
	fmt.Println("queue commands:")
	fmt.Println("  queue status [--queue all|upscale|download|jobs] [--items]")
	fmt.Println("  queue resume [--queue ...]")
	fmt.Println("  queue clear-completed [--queue ...]")
	fmt.Println("  queue clear [--queue ...] [--yes]")
}
