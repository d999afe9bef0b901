// Package history implements conversation history and compaction: the
// ordered ResponseItem log a turn is built from, cleanup of
// status/screenshot clutter on new user input, volley-aware
// summarize-then-prune at the end of a turn, and preflight compaction
// before a turn is sent. Token estimation, chunking, and chunked
// summarization are consolidated here with the volley/marker primitives
// from internal/model into a single package rather than several parallel
// compaction implementations.
package history

import (
	"sync"

	"github.com/aibozo/code-sub000/internal/model"
)

// History is the ordered ResponseItem log for one session.
type History struct {
	mu    sync.Mutex
	items []model.ResponseItem
}

// New returns an empty History.
func New() *History {
	return &History{}
}

// RecordItems appends items in order.
func (h *History) RecordItems(items ...model.ResponseItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, items...)
}

// Contents clones the current ordered list.
func (h *History) Contents() []model.ResponseItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.ResponseItem, len(h.items))
	copy(out, h.items)
	return out
}

// Replace atomically swaps the entire item list, used by summarize-then-
// prune and preflight compaction after they compute a new slice.
func (h *History) Replace(items []model.ResponseItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = items
}

// Len returns the current item count.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// KeepLastMessages truncates to the last n Message items, counting only
// Message-kind items but keeping whatever non-Message items trail the nth
// kept message.
func (h *History) KeepLastMessages(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = keepLastMessages(h.items, n)
}

func keepLastMessages(items []model.ResponseItem, n int) []model.ResponseItem {
	if n <= 0 {
		return nil
	}
	messageCount := 0
	cut := len(items)
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Kind == model.ItemMessage {
			messageCount++
			if messageCount == n {
				cut = i
				break
			}
		}
	}
	if messageCount < n {
		return items
	}
	out := make([]model.ResponseItem, len(items)-cut)
	copy(out, items[cut:])
	return out
}
