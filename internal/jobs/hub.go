package jobs

import (
	"sync"
	"time"
)

// Event is one progress update for a job.
type Event struct {
	JobID   string `json:"job_id"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	TSMs    int64  `json:"ts_ms"`
}

// Hub fans job events out to websocket subscribers. Slow subscribers drop
// events rather than stall the pipeline.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a channel of events for jobID and a cancel func that
// must be called when the subscriber goes away.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[jobID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[jobID]; ok {
			if _, present := set[ch]; present {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, jobID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish sends an event to every subscriber of the job.
func (h *Hub) Publish(jobID string, status Status, message string) {
	ev := Event{JobID: jobID, Status: status, Message: message, TSMs: time.Now().UnixMilli()}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[jobID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// CloseJob closes all subscriber channels for a finished job.
func (h *Hub) CloseJob(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[jobID] {
		close(ch)
	}
	delete(h.subs, jobID)
}
