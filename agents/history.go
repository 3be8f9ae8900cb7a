package agents

import "sync"

// historyBuffer keeps the most recent source responses, newest first. Oldest
// entries are evicted once the buffer is full.
type historyBuffer struct {
	mu      sync.Mutex
	entries []*Response
	cap     int
}

func newHistoryBuffer(capacity int) *historyBuffer {
	if capacity <= 0 {
		capacity = 100
	}
	return &historyBuffer{cap: capacity}
}

func (h *historyBuffer) add(r *Response) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, nil)
	copy(h.entries[1:], h.entries)
	h.entries[0] = r
	if len(h.entries) > h.cap {
		h.entries = h.entries[:h.cap]
	}
}

func (h *historyBuffer) snapshot() []*Response {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*Response, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *historyBuffer) clear() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.entries)
	h.entries = nil
	return n
}
