package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"imagine-manager/internal/imagine"
	"imagine-manager/internal/model"
	"imagine-manager/internal/queue"
)

type Action string

const (
	ActionLike   Action = "like"
	ActionUnlike Action = "unlike"
	ActionDelete Action = "delete"
)

var (
	ErrUnknownAction = errors.New("unknown job action")
	ErrNoPosts       = errors.New("job needs at least one post id")
)

func ParseAction(raw string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(raw))); a {
	case ActionLike, ActionUnlike, ActionDelete:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
	}
}

// PostActions is the part of the API client a bulk job drives.
type PostActions interface {
	LikePost(ctx context.Context, postID string) imagine.Result
	UnlikePost(ctx context.Context, postID string) imagine.Result
	DeletePost(ctx context.Context, postID string) imagine.Result
}

type HandlerOptions struct {
	Actions PostActions
	// Delay paces consecutive posts inside one job.
	Delay  queue.Delay
	Sleep  queue.Sleeper
	Logger *zap.Logger
}

// NewHandler walks a job's posts in order, reporting a step per post. A job
// fails only when none of its posts succeeded.
func NewHandler(opts HandlerOptions) queue.Handler {
	delay := opts.Delay
	if delay == nil {
		delay = queue.NoDelay
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = queue.SleepContext
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return queue.HandlerFunc(func(ctx context.Context, item model.QueueItem, step queue.StepFunc) error {
		action, err := ParseAction(item.Payload.Action)
		if err != nil {
			return err
		}
		ids := item.Payload.PostIDs
		total := len(ids)
		if total == 0 {
			return ErrNoPosts
		}
		if step == nil {
			step = func(int, int) {}
		}
		step(0, total)

		succeeded := 0
		lastErr := ""
		for i, id := range ids {
			if i > 0 {
				if err := sleep(ctx, delay()); err != nil {
					return err
				}
			}
			res := run(ctx, opts.Actions, action, id)
			if res.Success {
				succeeded++
			} else {
				lastErr = res.Error
			}
			step(i+1, total)
		}

		logger.Info("job finished",
			zap.String("job", item.Key),
			zap.String("action", string(action)),
			zap.Int("succeeded", succeeded),
			zap.Int("total", total),
		)
		if succeeded == 0 {
			return fmt.Errorf("%s: 0/%d posts succeeded: %s", action, total, lastErr)
		}
		return nil
	})
}

func run(ctx context.Context, a PostActions, action Action, postID string) imagine.Result {
	switch action {
	case ActionLike:
		return a.LikePost(ctx, postID)
	case ActionUnlike:
		return a.UnlikePost(ctx, postID)
	default:
		return a.DeletePost(ctx, postID)
	}
}

// Runner submits bulk jobs to a job queue.
type Runner struct {
	queue *queue.Queue
	newID func() string
}

func NewRunner(q *queue.Queue) *Runner {
	return &Runner{queue: q, newID: uuid.NewString}
}

// NewItem builds a job item. Post ids are trimmed and deduplicated in order.
func (r *Runner) NewItem(action Action, postIDs []string) (model.QueueItem, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return model.QueueItem{}, err
	}
	seen := make(map[string]bool, len(postIDs))
	ids := make([]string, 0, len(postIDs))
	for _, id := range postIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return model.QueueItem{}, ErrNoPosts
	}
	return model.QueueItem{
		Key:     r.newID(),
		Payload: model.Payload{Action: string(action), PostIDs: ids},
	}, nil
}

// Submit enqueues a job and returns its key without waiting.
func (r *Runner) Submit(action Action, postIDs []string) (string, error) {
	item, err := r.NewItem(action, postIDs)
	if err != nil {
		return "", err
	}
	r.queue.Enqueue([]model.QueueItem{item})
	return item.Key, nil
}

// Run enqueues a job and blocks until it reached a terminal status. The
// returned item carries the final progress and error.
func (r *Runner) Run(ctx context.Context, action Action, postIDs []string) (model.QueueItem, error) {
	item, err := r.NewItem(action, postIDs)
	if err != nil {
		return model.QueueItem{}, err
	}
	batch := r.queue.EnqueueBatch([]model.QueueItem{item}, nil)
	defer batch.Close()

	select {
	case <-batch.Done():
	case <-ctx.Done():
		return item, ctx.Err()
	}
	final, _ := r.queue.Get(item.Key)
	if batch.Stopped() {
		return final, fmt.Errorf("job %s stopped before it ran", item.Key)
	}
	return final, nil
}
