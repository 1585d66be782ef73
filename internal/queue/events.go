package queue

import "imagine-manager/internal/model"

type EventKind string

const (
	EventEnqueued     EventKind = "enqueued"
	EventItemStatus   EventKind = "item_status"
	EventItemProgress EventKind = "item_progress"
	EventProgress     EventKind = "progress"
	EventPassFinished EventKind = "pass_finished"
	EventIdle         EventKind = "idle"
	EventCleared      EventKind = "cleared"
)

// Event is delivered to subscribers after the store state it describes has
// been applied. Observers run on the goroutine that caused the change and
// must not block.
type Event struct {
	Queue     string
	Kind      EventKind
	Item      model.QueueItem
	Keys      []string
	Processed int
	Total     int
	Pass      PassResult
	Stopped   bool
	// Gen identifies the processing loop that sent an EventIdle.
	Gen uint64
}

type Observer func(Event)

// PassResult tallies one sweep over the items pending at its start.
type PassResult struct {
	Total     int  `json:"total"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped,omitempty"`
	Stopped   bool `json:"stopped,omitempty"`
}
