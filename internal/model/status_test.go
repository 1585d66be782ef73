package model

import "testing"

func TestCanTransition_AllowsExpectedPaths(t *testing.T) {
	cases := []struct {
		from string
		to   string
	}{
		{"", StatusPending},
		{StatusPending, StatusProcessing},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
	}

	for _, tc := range cases {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be allowed", tc.from, tc.to)
		}
	}
}

func TestCanTransition_TerminalStatusIsSticky(t *testing.T) {
	terminal := []string{StatusCompleted, StatusFailed}
	targets := []string{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	for _, from := range terminal {
		for _, to := range targets {
			if CanTransition(from, to) {
				t.Fatalf("expected transition %q -> %q to be rejected", from, to)
			}
		}
	}
}

func TestCanTransition_RejectsInvalidPaths(t *testing.T) {
	cases := []struct {
		from string
		to   string
	}{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusFailed},
		{StatusProcessing, StatusPending},
		{"not_a_state", StatusPending},
	}

	for _, tc := range cases {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be rejected", tc.from, tc.to)
		}
	}
}

func TestTransitionItemStatus_RecordsErrorOnlyWhenFailed(t *testing.T) {
	item := QueueItem{Key: "v1", Status: StatusProcessing}
	if err := TransitionItemStatus(&item, StatusFailed, "HTTP 500"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if item.Error != "HTTP 500" {
		t.Fatalf("expected error to be recorded, got %q", item.Error)
	}

	ok := QueueItem{Key: "v2", Status: StatusProcessing}
	if err := TransitionItemStatus(&ok, StatusCompleted, "ignored"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if ok.Error != "" {
		t.Fatalf("expected no error on completed item, got %q", ok.Error)
	}
}

func TestDemoteStale(t *testing.T) {
	item := QueueItem{Key: "v1", Status: StatusProcessing}
	if !DemoteStale(&item) || item.Status != StatusPending {
		t.Fatalf("expected processing item to be demoted, got %q", item.Status)
	}
	done := QueueItem{Key: "v2", Status: StatusCompleted}
	if DemoteStale(&done) || done.Status != StatusCompleted {
		t.Fatalf("expected completed item to stay completed")
	}
}

func TestCountItems(t *testing.T) {
	c := CountItems([]QueueItem{
		{Status: StatusPending},
		{Status: StatusPending},
		{Status: StatusProcessing},
		{Status: StatusCompleted},
		{Status: StatusFailed},
	})
	if c.Total != 5 || c.Pending != 2 || c.Processing != 1 || c.Completed != 1 || c.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", c)
	}
}
