package download

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"imagine-manager/internal/media"
	"imagine-manager/internal/model"
	"imagine-manager/internal/queue"
)

const (
	StatusNothing = "Nothing to download"
	StatusError   = "Error (see console)"
	StatusStopped = "Download stopped"
)

var ErrEmptyPostID = errors.New("post id is required")

type PostFetcher interface {
	FetchPost(ctx context.Context, postID string) (*model.Post, error)
}

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
}

type Options struct {
	Fetcher  PostFetcher
	Queue    *queue.Queue
	Logger   *zap.Logger
	OnStatus func(Status)
}

type Orchestrator struct {
	fetcher  PostFetcher
	queue    *queue.Queue
	logger   *zap.Logger
	onStatus func(Status)
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		fetcher:  opts.Fetcher,
		queue:    opts.Queue,
		logger:   logger,
		onStatus: opts.OnStatus,
	}
}

// DownloadPost queues every media URL of a post and blocks until each one
// has been attempted.
func (o *Orchestrator) DownloadPost(ctx context.Context, postID string) (Result, error) {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return Result{}, ErrEmptyPostID
	}
	post, err := o.fetcher.FetchPost(ctx, postID)
	if err != nil {
		o.logger.Error("fetch post failed", zap.String("post_id", postID), zap.Error(err))
		o.emit(Status{PostID: postID, Message: StatusError})
		return Result{PostID: postID, Status: StatusError}, fmt.Errorf("fetch post %s: %w", postID, err)
	}

	urls := media.Process(post).URLs
	if len(urls) == 0 {
		o.emit(Status{PostID: postID, Message: StatusNothing})
		return Result{PostID: postID, Status: StatusNothing}, nil
	}

	batch := o.queue.EnqueueBatch(Items(postID, urls), func(t queue.Tally) {
		o.emit(Status{PostID: postID, Message: fmt.Sprintf("Downloading %d/%d", t.Done, t.Total), Done: t.Done, Total: t.Total})
	})
	defer batch.Close()
	o.logger.Info("download batch queued", zap.String("post_id", postID), zap.Int("files", len(urls)))

	select {
	case <-batch.Done():
	case <-ctx.Done():
		batch.Abort()
	}

	t := batch.Tally()
	res := Result{PostID: postID, Done: t.Done, Total: t.Total, Succeeded: t.Succeeded, Failed: t.Failed}
	if batch.Stopped() {
		res.Status = StatusStopped
		o.emit(Status{PostID: postID, Message: res.Status, Done: t.Done, Total: t.Total})
		return res, ctx.Err()
	}
	res.Status = fmt.Sprintf("Downloaded %d/%d", t.Succeeded, t.Total)
	o.logger.Info("download batch finished",
		zap.String("post_id", postID),
		zap.Int("succeeded", t.Succeeded),
		zap.Int("failed", t.Failed),
	)
	o.emit(Status{PostID: postID, Message: res.Status, Done: t.Done, Total: t.Total})
	return res, nil
}

func (o *Orchestrator) emit(s Status) {
	if o.onStatus != nil {
		o.onStatus(s)
	}
}
