package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"imagine-manager/internal/imagine"
	"imagine-manager/internal/model"
	"imagine-manager/internal/queue"
)

type fakeActions struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeActions) do(op, id string) imagine.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+":"+id)
	if f.fail[id] {
		return imagine.Result{Error: op + " post: HTTP 500"}
	}
	return imagine.Result{Success: true}
}

func (f *fakeActions) LikePost(_ context.Context, id string) imagine.Result {
	return f.do("like", id)
}

func (f *fakeActions) UnlikePost(_ context.Context, id string) imagine.Result {
	return f.do("unlike", id)
}

func (f *fakeActions) DeletePost(_ context.Context, id string) imagine.Result {
	return f.do("delete", id)
}

func newTestRunner(t *testing.T, actions PostActions) (*Runner, *queue.Queue, *int) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	var mu sync.Mutex
	sleeps := 0
	q := queue.New(queue.Options{
		Name: "jobs",
		Handler: NewHandler(HandlerOptions{
			Actions: actions,
			Delay:   queue.Jitter(time.Second, 2*time.Second),
			Sleep: func(ctx context.Context, d time.Duration) error {
				if d < time.Second || d > 2*time.Second {
					t.Errorf("step delay out of window: %s", d)
				}
				mu.Lock()
				sleeps++
				mu.Unlock()
				return ctx.Err()
			},
			Logger: logger,
		}),
		Logger: logger,
	})
	t.Cleanup(q.Dispose)
	return NewRunner(q), q, &sleeps
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRun_WalksPostsAndRecordsProgress(t *testing.T) {
	actions := &fakeActions{fail: map[string]bool{"p2": true}}
	r, _, sleeps := newTestRunner(t, actions)

	item, err := r.Run(testContext(t), ActionLike, []string{"p1", " p2 ", "p3", "p1", ""})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if item.Status != model.StatusCompleted {
		t.Fatalf("expected partial success to complete, got %s (%s)", item.Status, item.Error)
	}
	if item.ProcessedItems != 3 || item.TotalItems != 3 || item.Progress != 1 {
		t.Fatalf("unexpected progress: %+v", item)
	}
	want := []string{"like:p1", "like:p2", "like:p3"}
	if strings.Join(actions.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected calls: %v", actions.calls)
	}
	if *sleeps != 2 {
		t.Fatalf("expected pacing between 3 posts, got %d waits", *sleeps)
	}
}

func TestRun_FailsWhenNoPostSucceeded(t *testing.T) {
	actions := &fakeActions{fail: map[string]bool{"p1": true, "p2": true}}
	r, _, _ := newTestRunner(t, actions)

	item, err := r.Run(testContext(t), ActionDelete, []string{"p1", "p2"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if item.Status != model.StatusFailed {
		t.Fatalf("expected failed job, got %s", item.Status)
	}
	if !strings.Contains(item.Error, "0/2") {
		t.Fatalf("expected tally in error, got %q", item.Error)
	}
}

func TestSubmit_ValidatesInput(t *testing.T) {
	r, q, _ := newTestRunner(t, &fakeActions{})

	if _, err := r.Submit(Action("boost"), []string{"p1"}); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	if _, err := r.Submit(ActionUnlike, []string{" ", ""}); !errors.Is(err, ErrNoPosts) {
		t.Fatalf("expected ErrNoPosts, got %v", err)
	}

	key, err := r.Submit(ActionUnlike, []string{"p9"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := q.Wait(testContext(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}
	it, ok := q.Get(key)
	if !ok || it.Status != model.StatusCompleted || it.Payload.Action != "unlike" {
		t.Fatalf("unexpected job item: %+v", it)
	}
}

func TestParseAction(t *testing.T) {
	for raw, want := range map[string]Action{"like": ActionLike, " UNLIKE ": ActionUnlike, "Delete": ActionDelete} {
		got, err := ParseAction(raw)
		if err != nil || got != want {
			t.Fatalf("ParseAction(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseAction("share"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected unknown action error, got %v", err)
	}
}
