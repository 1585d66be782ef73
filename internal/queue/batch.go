package queue

import (
	"sync"

	"imagine-manager/internal/model"
)

// Tally counts attempts for a batch. Done includes failures.
type Tally struct {
	Done      int
	Total     int
	Succeeded int
	Failed    int
}

// Batch follows a set of keys through a queue until every key reached a
// terminal status, or the queue was stopped or cleared underneath it.
type Batch struct {
	mu         sync.Mutex
	open       map[string]bool
	tally      Tally
	stopped    bool
	closed     bool
	finished   chan struct{}
	onProgress func(Tally)
	unsub      func()
	// gen is the first processing loop whose stop ends this batch.
	gen uint64
}

// EnqueueBatch subscribes a Batch, enqueues items and settles keys that were
// already terminal from an earlier run. Processing is started even when no
// key was new so leftover pending items make progress. Call Close when done.
func (q *Queue) EnqueueBatch(items []model.QueueItem, onProgress func(Tally)) *Batch {
	b := &Batch{
		open:       make(map[string]bool, len(items)),
		finished:   make(chan struct{}),
		onProgress: onProgress,
		gen:        q.proc.claimGen(),
	}
	for _, it := range items {
		if it.Key != "" {
			b.open[it.Key] = true
		}
	}
	b.tally.Total = len(b.open)
	b.unsub = q.Subscribe(b.observe)

	q.Enqueue(items)
	for key := range b.keys() {
		if it, ok := q.Get(key); ok {
			b.settle(key, it.Status)
		} else {
			b.Abort()
		}
	}
	if b.tally.Total == 0 {
		b.finish(false)
	}
	q.StartProcessing()
	return b
}

// Done is closed once the batch has ended.
func (b *Batch) Done() <-chan struct{} {
	return b.finished
}

func (b *Batch) Complete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Stopped reports whether the batch ended before every key was attempted.
func (b *Batch) Stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

func (b *Batch) Tally() Tally {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tally
}

// Abort ends the batch early unless every key was already attempted.
func (b *Batch) Abort() {
	b.finish(true)
}

func (b *Batch) Close() {
	if b.unsub != nil {
		b.unsub()
	}
}

func (b *Batch) keys() map[string]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]bool, len(b.open))
	for k := range b.open {
		out[k] = true
	}
	return out
}

func (b *Batch) observe(ev Event) {
	switch ev.Kind {
	case EventItemStatus:
		b.settle(ev.Item.Key, ev.Item.Status)
	case EventCleared:
		b.mu.Lock()
		hit := false
		for _, k := range ev.Keys {
			if b.open[k] {
				hit = true
				break
			}
		}
		b.mu.Unlock()
		if hit {
			b.Abort()
		}
	case EventIdle:
		if ev.Stopped && ev.Gen >= b.gen {
			b.Abort()
		}
	}
}

func (b *Batch) settle(key, status string) {
	if !model.IsTerminal(status) {
		return
	}
	b.mu.Lock()
	if b.closed || !b.open[key] {
		b.mu.Unlock()
		return
	}
	delete(b.open, key)
	b.tally.Done++
	if status == model.StatusCompleted {
		b.tally.Succeeded++
	} else {
		b.tally.Failed++
	}
	tally := b.tally
	if b.tally.Done >= b.tally.Total {
		b.closed = true
		close(b.finished)
	}
	b.mu.Unlock()

	if b.onProgress != nil {
		b.onProgress(tally)
	}
}

func (b *Batch) finish(stopped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.stopped = stopped
	b.closed = true
	close(b.finished)
}
