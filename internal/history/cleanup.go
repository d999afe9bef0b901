package history

import "github.com/aibozo/code-sub000/internal/model"

// CleanupOnNewUserInput runs before a fresh turn is spawned: it keeps
// every non-status item plus the screenshot status messages that
// immediately follow the last two real user messages, and drops
// everything else.
func (h *History) CleanupOnNewUserInput() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = cleanupOnNewUserInput(h.items)
}

func cleanupOnNewUserInput(items []model.ResponseItem) []model.ResponseItem {
	keepScreenshot := make(map[int]bool)

	realUserIndices := make([]int, 0, 2)
	for i, it := range items {
		if it.IsRealUserMessage() {
			realUserIndices = append(realUserIndices, i)
		}
	}
	if n := len(realUserIndices); n > 2 {
		realUserIndices = realUserIndices[n-2:]
	}

	for _, ui := range realUserIndices {
		for j := ui + 1; j < len(items); j++ {
			if items[j].IsRealUserMessage() {
				break
			}
			if items[j].IsStatusMessage() && items[j].HasImage() {
				keepScreenshot[j] = true
				break
			}
		}
	}

	out := make([]model.ResponseItem, 0, len(items))
	for i, it := range items {
		if !it.IsStatusMessage() || keepScreenshot[i] {
			out = append(out, it)
		}
	}
	return out
}
