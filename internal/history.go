package internal

import (
	"encoding/json"
	"sync"
)

// DefaultHistoryLimit caps the replay backlog when no limit is configured.
const DefaultHistoryLimit = 1000

// History is the bounded, insertion-ordered backlog replayed to newly joined
// clients. It holds raw payloads as broadcast; once full, the oldest entry is
// evicted to make room. A ring buffer keeps eviction O(1).
type History struct {
	mu      sync.Mutex
	entries []json.RawMessage
	head    int
	count   int
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{entries: make([]json.RawMessage, limit)}
}

// Append retains a payload, evicting the oldest entry when at capacity. The
// caller is responsible for only handing over broadcastable messages (text
// and whole files, never chunks or presence updates).
func (h *History) Append(payload json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == len(h.entries) {
		h.entries[h.head] = payload
		h.head = (h.head + 1) % len(h.entries)
		return
	}
	h.entries[(h.head+h.count)%len(h.entries)] = payload
	h.count++
}

// Snapshot returns the current backlog oldest-first. The returned slice is a
// copy, stable against appends that happen while the caller replays it.
func (h *History) Snapshot() []json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]json.RawMessage, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.entries[(h.head+i)%len(h.entries)]
	}
	return out
}

// Len reports how many entries are currently retained.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
