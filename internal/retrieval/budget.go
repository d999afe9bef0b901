package retrieval

// Hard cap: injection budget never exceeds this fraction of the context
// window.
const maxContextWindowFraction = 0.10

const charsPerToken = 4

// charBudget computes the per-turn injection budget in characters: (context_window - reserve_output -
// input_tokens - 2_000) tokens, capped by 10% of context_window, converted
// to chars.
func charBudget(contextWindow, reserveOutput, inputTokens int) int {
	remaining := contextWindow - reserveOutput - inputTokens - 2000
	capLimit := int(float64(contextWindow) * maxContextWindowFraction)
	if remaining > capLimit {
		remaining = capLimit
	}
	if remaining <= 0 {
		return 0
	}
	return remaining * charsPerToken
}

// split divides a char budget into a code-section share (~60%) and the
// remainder for the memory section.
func split(total int) (codeBudget, memoryBudget int) {
	codeBudget = total * 6 / 10
	memoryBudget = total - codeBudget
	return
}
