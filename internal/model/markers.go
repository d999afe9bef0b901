package model

import "strings"

// EphemeralMarkerPrefix tags a user-role Message as single-turn only.
const EphemeralMarkerPrefix = "[EPHEMERAL:"

// MemoryMarkerPrefix tags a user-role Message as injected memory content
// (code index hits, summary hits, or a preflight compaction summary). A
// memory-marked message is never itself re-summarized.
const MemoryMarkerPrefix = "[memory:"

// Memory injection header kinds.
const (
	MemoryHeaderCode      = "[memory:code v1 | repo=%s]"
	MemoryHeaderRetrieval = "[memory:retrieval v1 | repo=%s]"
	MemoryHeaderSummary   = "[memory:summary v1 | repo=%s]"
	MemoryHeaderContext   = "[memory:context v1 | repo=%s]"
)

// IsEphemeral reports whether this item is a user-role Message whose first
// InputText begins with the ephemeral sentinel.
func (r ResponseItem) IsEphemeral() bool {
	if !r.IsUserMessage() {
		return false
	}
	text, ok := r.FirstInputText()
	return ok && strings.HasPrefix(text, EphemeralMarkerPrefix)
}

// IsMemoryItem reports whether this item is a user-role Message whose first
// InputText begins with the memory sentinel.
func (r ResponseItem) IsMemoryItem() bool {
	if !r.IsUserMessage() {
		return false
	}
	text, ok := r.FirstInputText()
	return ok && strings.HasPrefix(text, MemoryMarkerPrefix)
}

// StatusMarkers are substrings that mark a user-role Message as
// transcript-cleanup "status" clutter rather than a real user message.
var statusMarkers = []string{
	"== System Status ==",
	"Current working directory:",
	"Git branch:",
}

// IsStatusMessage reports whether this user-role Message is a status
// message: it carries one of the status marker substrings, or an image.
func (r ResponseItem) IsStatusMessage() bool {
	if !r.IsUserMessage() {
		return false
	}
	if r.HasImage() {
		return true
	}
	text, _ := r.FirstInputText()
	for _, m := range statusMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// IsRealUserMessage reports whether this is a user-role Message carrying
// genuine user text: not a status message, no image, non-empty text.
func (r ResponseItem) IsRealUserMessage() bool {
	if !r.IsUserMessage() || r.IsStatusMessage() {
		return false
	}
	text, ok := r.FirstInputText()
	return ok && strings.TrimSpace(text) != ""
}
