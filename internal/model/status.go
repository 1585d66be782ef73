package model

import "fmt"

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var allowedTransitions = map[string]map[string]bool{
	"": {
		StatusPending: true,
	},
	StatusPending: {
		StatusProcessing: true,
	},
	StatusProcessing: {
		StatusProcessing: true,
		StatusCompleted:  true,
		StatusFailed:     true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

func IsKnownStatus(status string) bool {
	_, ok := allowedTransitions[status]
	return ok && status != ""
}

func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionItemStatus(item *QueueItem, toStatus string, errMsg string) error {
	from := item.Status
	if !CanTransition(from, toStatus) {
		return fmt.Errorf("invalid queue item status transition: %q -> %q (key=%s)", from, toStatus, item.Key)
	}
	item.Status = toStatus
	if toStatus == StatusFailed {
		item.Error = errMsg
	} else {
		item.Error = ""
	}
	return nil
}

// DemoteStale puts an item that was left processing by an interrupted
// session back to pending. It is only valid during rehydration.
func DemoteStale(item *QueueItem) bool {
	if item.Status != StatusProcessing {
		return false
	}
	item.Status = StatusPending
	item.Error = ""
	return true
}
