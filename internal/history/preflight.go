package history

import (
	"context"
	"fmt"

	"github.com/aibozo/code-sub000/internal/model"
)

// isRetrievalInjectionItem reports whether it is a prepended retrieval
// injection block, so the last-resort preflight step can drop it.
func isRetrievalInjectionItem(it model.ResponseItem) bool {
	text, ok := it.FirstInputText()
	if !ok {
		return false
	}
	return it.IsUserMessage() && (hasPrefix(text, "[memory:code ") || hasPrefix(text, "[memory:retrieval ") || hasPrefix(text, "[memory:summary "))
}

func hasPrefix(s, p string) bool {
	return len(s) >= len(p) && s[:len(p)] == p
}

// PreflightResult reports what preflight compaction did, for logging/metrics.
type PreflightResult struct {
	Iterations    int
	SummariesUsed int
	DroppedBlock  bool
}

// RunPreflight runs preflight compaction: iteratively summarizing the
// oldest unprotected volley until estimated usage is under the configured
// target, bounded at preflightLoopBound iterations.
func (h *History) RunPreflight(ctx context.Context, cfg Config, repoKey string, summarizer Summarizer) (PreflightResult, error) {
	var result PreflightResult

	effectiveWindow := cfg.ModelContextWindow - cfg.ReserveOutputTokens - compactionSafetyMargin
	if effectiveWindow <= 0 {
		return result, nil
	}

	h.mu.Lock()
	items := make([]model.ResponseItem, len(h.items))
	copy(items, h.items)
	h.mu.Unlock()

	protectVolleys := clampInt(cfg.KeepLastMessages/2, 1, 5)
	volleyBudget := cfg.VolleyCharBudget
	if volleyBudget <= 0 {
		volleyBudget = defaultVolleyCharBudget
	}

	minUsed := cfg.MinUsedPercent
	if minUsed <= 0 {
		minUsed = defaultMinUsedPercent
	}
	targetUsed := cfg.TargetUsedPercent
	if targetUsed <= 0 {
		targetUsed = defaultTargetUsedPercent
	}
	maxSummaries := cfg.MaxSummariesPerRequest
	if maxSummaries <= 0 {
		maxSummaries = defaultMaxSummariesPerRequest
	}

	estimated := EstimateItemsTokens(items)
	usedPct := percentOf(estimated, effectiveWindow)
	if estimated <= effectiveWindow && usedPct < minUsed {
		return result, nil
	}

	for iter := 0; iter < preflightLoopBound; iter++ {
		result.Iterations++

		usedPct = percentOf(estimated, effectiveWindow)
		if usedPct < targetUsed || result.SummariesUsed >= maxSummaries {
			break
		}

		volleys := model.SegmentIntoVolleys(items)
		if len(volleys) <= protectVolleys {
			if protectVolleys > 1 {
				protectVolleys--
				continue
			}
			if volleyBudget > 200 {
				volleyBudget = maxInt(200, int(float64(volleyBudget)*0.7))
				continue
			}
			if dropIdx := findRetrievalBlock(items); dropIdx >= 0 {
				items = append(items[:dropIdx], items[dropIdx+1:]...)
				estimated = EstimateItemsTokens(items)
				result.DroppedBlock = true
				continue
			}
			break
		}

		candidateIdx := 0
		candidate := volleys[candidateIdx]

		var summary Summary
		var err error
		if summarizer != nil {
			summary, err = summarizer.Summarize(ctx, items[candidate.Start:candidate.End])
		} else {
			err = fmt.Errorf("history: no summarizer configured")
		}
		if err != nil {
			items = append(items[:candidate.Start], items[candidate.End:]...)
			estimated = EstimateItemsTokens(items)
			continue
		}

		replacement := model.Message(model.RoleUser, model.InputText(fmt.Sprintf(
			"%s\n%s\n%s",
			fmt.Sprintf(model.MemoryHeaderContext, repoKey),
			summary.Title,
			truncateToBudget(summary.Text, volleyBudget),
		)))

		rebuilt := make([]model.ResponseItem, 0, len(items)-candidate.End+candidate.Start+1)
		rebuilt = append(rebuilt, items[:candidate.Start]...)
		rebuilt = append(rebuilt, replacement)
		rebuilt = append(rebuilt, items[candidate.End:]...)
		items = rebuilt

		estimated = EstimateItemsTokens(items)
		result.SummariesUsed++
	}

	h.mu.Lock()
	h.items = items
	h.mu.Unlock()

	return result, nil
}

func findRetrievalBlock(items []model.ResponseItem) int {
	for i, it := range items {
		if isRetrievalInjectionItem(it) {
			return i
		}
	}
	return -1
}

func truncateToBudget(s string, budget int) string {
	if len(s) <= budget {
		return s
	}
	if budget <= 4 {
		return s[:0]
	}
	return s[:budget-4] + " ..."
}

func percentOf(value, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(value) / float64(total) * 100
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
