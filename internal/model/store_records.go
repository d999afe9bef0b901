package model

// EmbeddedRecord is one line of memory_embeddings.jsonl.
type EmbeddedRecord struct {
	RepoKey string    `json:"repo_key"`
	ID      string    `json:"id"`
	TSMs    int64     `json:"ts_ms"`
	Kind    string    `json:"kind"` // "summary" | "code" | ...
	Title   string    `json:"title"`
	Text    string    `json:"text"`
	Dim     int       `json:"dim"`
	Vec     []float32 `json:"vec"`
}

// StoredSummary is one line of memory.jsonl.
type StoredSummary struct {
	RepoKey   string   `json:"repo_key"`
	SessionID string   `json:"session_id"`
	TSMs      int64    `json:"ts_ms"`
	Kind      string   `json:"kind"` // always "summary"
	Title     string   `json:"title"`
	Text      string   `json:"text"`
	MsgIDs    []string `json:"msg_ids,omitempty"`
}

// Volley is a contiguous index range into a ResponseItem sequence, starting
// at a user-role Message.
type Volley struct {
	Start int
	End   int // exclusive
}

// SegmentIntoVolleys splits items into volleys: each volley begins at a
// user-role Message; items before the first user message (if any) form a
// leading volley of their own. The last volley runs to the end.
func SegmentIntoVolleys(items []ResponseItem) []Volley {
	if len(items) == 0 {
		return nil
	}
	var volleys []Volley
	start := 0
	for i, item := range items {
		if i > 0 && item.IsUserMessage() {
			volleys = append(volleys, Volley{Start: start, End: i})
			start = i
		}
	}
	volleys = append(volleys, Volley{Start: start, End: len(items)})
	return volleys
}

// ScreenshotFingerprint identifies a screenshot by perceptual hashes so the
// turn engine only re-attaches it to the model when it actually changed.
type ScreenshotFingerprint struct {
	Path  string
	PHash uint64
	DHash uint64
}

// Changed reports whether either hash differs from prior.
func (f ScreenshotFingerprint) Changed(prior *ScreenshotFingerprint) bool {
	if prior == nil {
		return true
	}
	return f.PHash != prior.PHash || f.DHash != prior.DHash
}
