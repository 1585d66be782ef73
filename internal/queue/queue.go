package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"imagine-manager/internal/model"
	"imagine-manager/internal/runstore"
)

type Options struct {
	Name    string
	KV      runstore.KV
	Handler Handler
	Delay   Delay
	Sleep   Sleeper
	Logger  *zap.Logger
	Now     func() time.Time
}

// Queue is a persistent store paired with its single-flight processor.
type Queue struct {
	*Store
	proc *Processor
}

func New(opts Options) *Queue {
	store := NewStore(StoreOptions{
		Name:   opts.Name,
		KV:     opts.KV,
		Logger: opts.Logger,
		Now:    opts.Now,
	})
	proc := NewProcessor(store, ProcessorOptions{
		Handler: opts.Handler,
		Delay:   opts.Delay,
		Sleep:   opts.Sleep,
		Logger:  opts.Logger,
	})
	return &Queue{Store: store, proc: proc}
}

// Enqueue adds new items and starts processing when any were added.
func (q *Queue) Enqueue(items []model.QueueItem) []string {
	added := q.Store.Enqueue(items)
	if len(added) > 0 {
		q.proc.Start()
	}
	return added
}

// ClearAll halts processing and empties the queue.
func (q *Queue) ClearAll() {
	q.proc.Stop()
	q.Store.ClearAll()
}

func (q *Queue) StartProcessing() bool {
	return q.proc.Start()
}

func (q *Queue) StopProcessing() {
	q.proc.Stop()
}

func (q *Queue) IsProcessing() bool {
	return q.proc.IsProcessing()
}

func (q *Queue) State() State {
	return q.proc.State()
}

func (q *Queue) Wait(ctx context.Context) error {
	return q.proc.Wait(ctx)
}

func (q *Queue) Dispose() {
	q.proc.Dispose()
}
