package jobs

import (
	"testing"
	"time"
)

func TestHubPublishReachesSubscriber(t *testing.T) {
	h := NewHub()
	events, cancel := h.Subscribe("job-1")
	defer cancel()

	h.Publish("job-1", StatusGenerating, "")

	select {
	case ev := <-events:
		if ev.JobID != "job-1" || ev.Status != StatusGenerating {
			t.Fatalf("event = %+v", ev)
		}
		if ev.TSMs == 0 {
			t.Fatalf("event missing timestamp")
		}
	case <-time.After(time.Second):
		t.Fatalf("no event received")
	}
}

func TestHubIsolatesJobs(t *testing.T) {
	h := NewHub()
	events, cancel := h.Subscribe("job-1")
	defer cancel()

	h.Publish("job-2", StatusDone, "")

	select {
	case ev := <-events:
		t.Fatalf("received event for another job: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubCloseJobClosesSubscribers(t *testing.T) {
	h := NewHub()
	events, cancel := h.Subscribe("job-1")
	defer cancel()

	h.CloseJob("job-1")

	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed")
	}

	// cancel after CloseJob must be a no-op, not a double close.
	cancel()
}

func TestHubDropsWhenSubscriberIsSlow(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe("job-1")
	defer cancel()

	// Publish more than the buffer without draining; must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish("job-1", StatusGenerating, "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked on slow subscriber")
	}
}
