package history

// Config is the per-session memory configuration governing
// summarize-then-prune and preflight compaction.
type Config struct {
	// Enabled gates summarize-then-prune entirely; when false, RunEndOfTurn
	// is a no-op.
	Enabled bool

	KeepLastMessages int

	// EmbeddingsEnabled and APIKeySet gate whether summarize-then-prune also
	// embeds the resulting summary into the vector store.
	EmbeddingsEnabled bool
	APIKeySet         bool

	// ModelContextWindow and ReserveOutputTokens feed preflight compaction's
	// effective_window computation.
	ModelContextWindow  int
	ReserveOutputTokens int

	// MinUsedPercent triggers preflight compaction even under the window
	// (default 75).
	MinUsedPercent float64
	// TargetUsedPercent is the percentage preflight compaction stops at
	// (default 85).
	TargetUsedPercent float64
	// MaxSummariesPerRequest bounds preflight compaction iterations per turn
	// independent of the hard 64-iteration loop bound.
	MaxSummariesPerRequest int

	// VolleyCharBudget is the starting per-volley summary budget for
	// preflight compaction (default 1200).
	VolleyCharBudget int
}

const (
	defaultVolleyCharBudget       = 1200
	defaultMinUsedPercent         = 75.0
	defaultTargetUsedPercent      = 85.0
	defaultMaxSummariesPerRequest = 8
	compactionSafetyMargin        = 2000
	preflightLoopBound            = 64
)

// DefaultConfig returns the documented default tunables.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		KeepLastMessages:       20,
		ModelContextWindow:     128_000,
		ReserveOutputTokens:    4_000,
		MinUsedPercent:         defaultMinUsedPercent,
		TargetUsedPercent:      defaultTargetUsedPercent,
		MaxSummariesPerRequest: defaultMaxSummariesPerRequest,
		VolleyCharBudget:       defaultVolleyCharBudget,
	}
}
