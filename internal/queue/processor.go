package queue

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"imagine-manager/internal/model"
)

type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// StepFunc lets a handler report progress through a multi-step item.
type StepFunc func(done, total int)

type Handler interface {
	Handle(ctx context.Context, item model.QueueItem, step StepFunc) error
}

type HandlerFunc func(ctx context.Context, item model.QueueItem, step StepFunc) error

func (f HandlerFunc) Handle(ctx context.Context, item model.QueueItem, step StepFunc) error {
	return f(ctx, item, step)
}

type ProcessorOptions struct {
	Handler Handler
	Delay   Delay
	Sleep   Sleeper
	Logger  *zap.Logger
}

// Processor drains a Store one item at a time. At most one handler call is
// in flight per processor.
type Processor struct {
	store   *Store
	handler Handler
	delay   Delay
	sleep   Sleeper
	logger  *zap.Logger

	opCtx    context.Context
	opCancel context.CancelFunc

	mu         sync.Mutex
	state      State
	stopReq    bool
	disposed   bool
	paceCancel context.CancelFunc
	done       chan struct{}
	gen        uint64
}

func NewProcessor(store *Store, opts ProcessorOptions) *Processor {
	delay := opts.Delay
	if delay == nil {
		delay = NoDelay
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opCtx, opCancel := context.WithCancel(context.Background())
	return &Processor{
		store:    store,
		handler:  opts.Handler,
		delay:    delay,
		sleep:    sleep,
		logger:   logger.With(zap.String("queue", store.Name())),
		opCtx:    opCtx,
		opCancel: opCancel,
	}
}

func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Processor) IsProcessing() bool {
	return p.State() != StateIdle
}

// Start launches the processing loop if the processor is idle. It reports
// whether a new loop was started.
func (p *Processor) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed || p.handler == nil || p.state != StateIdle {
		return false
	}
	paceCtx, cancel := context.WithCancel(context.Background())
	p.state = StateRunning
	p.stopReq = false
	p.paceCancel = cancel
	p.done = make(chan struct{})
	p.gen++
	go p.loop(paceCtx, p.done, p.gen)
	return true
}

// claimGen returns the generation of the loop that will see work enqueued
// now: the running loop, or the next one when idle.
func (p *Processor) claimGen() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateIdle {
		return p.gen + 1
	}
	return p.gen
}

// Stop asks the loop to exit before its next item. The in-flight handler
// call is allowed to finish; pending pacing waits are cancelled.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning {
		return
	}
	p.state = StateStopping
	p.stopReq = true
	if p.paceCancel != nil {
		p.paceCancel()
	}
}

// Wait blocks until the processor is idle.
func (p *Processor) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.state == StateIdle {
			p.mu.Unlock()
			return nil
		}
		done := p.done
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
	}
}

// Dispose stops the loop, aborts any in-flight handler call and waits for
// the loop to exit. A disposed processor cannot be restarted.
func (p *Processor) Dispose() {
	p.mu.Lock()
	p.disposed = true
	p.mu.Unlock()
	p.Stop()
	p.opCancel()
	_ = p.Wait(context.Background())
}

func (p *Processor) stopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopReq
}

// finish moves the processor to idle unless new pending work arrived and no
// stop was requested. The check runs under p.mu so an Enqueue racing with
// the exit either sees Idle and restarts the loop, or is picked up here.
func (p *Processor) finish() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopReq && p.store.hasPending() {
		return false
	}
	p.state = StateIdle
	p.stopReq = false
	if p.paceCancel != nil {
		p.paceCancel()
		p.paceCancel = nil
	}
	return true
}

// loop runs until finish hands off to idle. The idle event is sent after the
// hand-off so a new loop may already be running; gen tells them apart.
func (p *Processor) loop(paceCtx context.Context, done chan struct{}, gen uint64) {
	stopped := false
	defer func() {
		p.store.notify(Event{Kind: EventIdle, Stopped: stopped, Gen: gen})
		close(done)
	}()

	for pass := 0; ; pass++ {
		if pass > 0 {
			if p.stopping() {
				stopped = true
				if p.finish() {
					return
				}
			}
			if !p.store.hasPending() && p.finish() {
				return
			}
			if err := p.sleep(paceCtx, p.delay()); err != nil {
				stopped = true
				if p.finish() {
					return
				}
			}
		}

		items := p.store.pendingSnapshot()
		if len(items) == 0 {
			if p.finish() {
				return
			}
			continue
		}

		result := p.runPass(paceCtx, items)
		p.store.notify(Event{Kind: EventPassFinished, Pass: result, Processed: result.Succeeded + result.Failed, Total: result.Total})
		p.logger.Info("queue pass finished",
			zap.Int("total", result.Total),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
			zap.Bool("stopped", result.Stopped),
		)
		if result.Stopped {
			stopped = true
			if p.finish() {
				return
			}
		}
	}
}

func (p *Processor) runPass(paceCtx context.Context, items []model.QueueItem) PassResult {
	result := PassResult{Total: len(items)}
	for i, item := range items {
		if p.stopping() {
			result.Stopped = true
			break
		}
		if !p.store.UpdateStatus(item.Key, model.StatusProcessing, "") {
			result.Skipped++
			continue
		}

		key := item.Key
		step := func(done, total int) {
			p.store.UpdateProgress(key, done, total)
		}
		err := p.handler.Handle(p.opCtx, item, step)
		if err != nil {
			p.store.UpdateStatus(key, model.StatusFailed, err.Error())
			result.Failed++
			p.logger.Warn("queue item failed", zap.String("key", key), zap.Error(err))
		} else {
			p.store.UpdateStatus(key, model.StatusCompleted, "")
			result.Succeeded++
			p.logger.Debug("queue item completed", zap.String("key", key))
		}
		p.store.notify(Event{Kind: EventProgress, Processed: i + 1, Total: len(items)})

		if i < len(items)-1 {
			if err := p.sleep(paceCtx, p.delay()); err != nil {
				result.Stopped = true
				break
			}
		}
	}
	return result
}
