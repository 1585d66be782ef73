package upscale

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"imagine-manager/internal/media"
	"imagine-manager/internal/model"
	"imagine-manager/internal/queue"
)

const (
	StatusFinished         = "Upscale batch finished"
	StatusFinishedDegraded = "Upscale batch finished (final refresh failed)"
	StatusStopped          = "Upscale stopped"
	StatusError            = "Error (see console)"
	StatusNothing          = "Nothing to upscale"
)

var (
	ErrAlreadyRunning = errors.New("upscale already running for post")
	ErrEmptyPostID    = errors.New("post id is required")
)

type PostFetcher interface {
	FetchPost(ctx context.Context, postID string) (*model.Post, error)
}

// Status is a progress notification for one post's upscale batch.
type Status struct {
	PostID  string
	Message string
	Done    int
	Total   int
}

type Result struct {
	PostID    string
	Status    string
	Done      int
	Total     int
	Succeeded int
	Failed    int
	Summary   model.PostMediaSummary
}

type Options struct {
	Fetcher PostFetcher
	Queue   *queue.Queue
	// RefetchDelay paces the background refresh of the post while its
	// videos are being upscaled.
	RefetchDelay queue.Delay
	Sleep        queue.Sleeper
	Logger       *zap.Logger
	OnStatus     func(Status)
}

type Orchestrator struct {
	fetcher      PostFetcher
	queue        *queue.Queue
	refetchDelay queue.Delay
	sleep        queue.Sleeper
	logger       *zap.Logger
	onStatus     func(Status)

	mu        sync.Mutex
	active    map[string]struct{}
	summaries map[string]model.PostMediaSummary
}

func New(opts Options) *Orchestrator {
	delay := opts.RefetchDelay
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
	o := &Orchestrator{
		fetcher:      opts.Fetcher,
		queue:        opts.Queue,
		refetchDelay: delay,
		sleep:        sleep,
		logger:       logger,
		onStatus:     opts.OnStatus,
		active:       make(map[string]struct{}),
		summaries:    make(map[string]model.PostMediaSummary),
	}
	return o
}

// Summary returns the most recently computed media summary for postID.
func (o *Orchestrator) Summary(postID string) (model.PostMediaSummary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.summaries[strings.TrimSpace(postID)]
	return s, ok
}

func (o *Orchestrator) Active(postID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[postID]
	return ok
}

// UpscalePost fetches a post, queues every video that still lacks an HD
// rendition and blocks until each queued video has been attempted. While the
// batch runs the post is refetched on a jittered interval so newly resolved
// HD urls show up in Summary(postID).
func (o *Orchestrator) UpscalePost(ctx context.Context, postID string) (Result, error) {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return Result{}, ErrEmptyPostID
	}
	if !o.acquire(postID) {
		return Result{PostID: postID}, ErrAlreadyRunning
	}
	defer o.release(postID)

	post, err := o.fetcher.FetchPost(ctx, postID)
	if err != nil {
		o.logger.Error("fetch post failed", zap.String("post_id", postID), zap.Error(err))
		o.emit(Status{PostID: postID, Message: StatusError})
		return Result{PostID: postID, Status: StatusError}, fmt.Errorf("fetch post %s: %w", postID, err)
	}
	summary := o.publish(postID, post)

	total := len(summary.VideosToUpscale)
	if total == 0 {
		o.emit(Status{PostID: postID, Message: StatusNothing})
		return Result{PostID: postID, Status: StatusNothing, Summary: summary}, nil
	}

	batch := o.queue.EnqueueBatch(VideoItems(postID, summary.VideosToUpscale), func(t queue.Tally) {
		o.emit(Status{PostID: postID, Message: progressMessage(t), Done: t.Done, Total: t.Total})
	})
	defer batch.Close()
	o.logger.Info("upscale batch queued", zap.String("post_id", postID), zap.Int("videos", total))
	if t := batch.Tally(); !batch.Complete() {
		o.emit(Status{PostID: postID, Message: progressMessage(t), Done: t.Done, Total: t.Total})
	}

	refetchCtx, cancelRefetch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.refetch(refetchCtx, postID, batch)
	}()

	select {
	case <-batch.Done():
	case <-ctx.Done():
		batch.Abort()
	}
	cancelRefetch()
	wg.Wait()

	res := newResult(postID, batch.Tally())
	if batch.Stopped() {
		res.Status = StatusStopped
		res.Summary, _ = o.Summary(postID)
		o.emit(Status{PostID: postID, Message: StatusStopped, Done: res.Done, Total: res.Total})
		return res, ctx.Err()
	}

	res.Status = StatusFinished
	if post, err := o.fetcher.FetchPost(ctx, postID); err != nil {
		o.logger.Warn("final refresh failed", zap.String("post_id", postID), zap.Error(err))
		res.Status = StatusFinishedDegraded
		res.Summary, _ = o.Summary(postID)
	} else {
		res.Summary = o.publish(postID, post)
	}
	o.logger.Info("upscale batch finished",
		zap.String("post_id", postID),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("hd_videos", res.Summary.HDVideoCount),
	)
	o.emit(Status{PostID: postID, Message: res.Status, Done: res.Done, Total: res.Total})
	return res, nil
}

func (o *Orchestrator) refetch(ctx context.Context, postID string, batch *queue.Batch) {
	for !batch.Complete() {
		if err := o.sleep(ctx, o.refetchDelay()); err != nil {
			return
		}
		if batch.Complete() {
			return
		}
		post, err := o.fetcher.FetchPost(ctx, postID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.logger.Warn("refetch failed", zap.String("post_id", postID), zap.Error(err))
			continue
		}
		summary := o.publish(postID, post)
		o.logger.Debug("refetched post",
			zap.String("post_id", postID),
			zap.Int("hd_videos", summary.HDVideoCount),
		)
	}
}

func (o *Orchestrator) publish(postID string, post *model.Post) model.PostMediaSummary {
	summary := media.Process(post)
	o.mu.Lock()
	o.summaries[postID] = summary
	o.mu.Unlock()
	return summary
}

func (o *Orchestrator) acquire(postID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[postID]; busy {
		return false
	}
	o.active[postID] = struct{}{}
	return true
}

func (o *Orchestrator) release(postID string) {
	o.mu.Lock()
	delete(o.active, postID)
	o.mu.Unlock()
}

func (o *Orchestrator) emit(s Status) {
	if o.onStatus != nil {
		o.onStatus(s)
	}
}

func progressMessage(t queue.Tally) string {
	return fmt.Sprintf("Upscaling %d/%d", t.Done, t.Total)
}

func newResult(postID string, t queue.Tally) Result {
	return Result{
		PostID:    postID,
		Done:      t.Done,
		Total:     t.Total,
		Succeeded: t.Succeeded,
		Failed:    t.Failed,
	}
}
