package turn

import "github.com/aibozo/code-sub000/internal/model"

// ReconcileAborted scans items for a FunctionCall or LocalShellCall whose
// matching FunctionCallOutput never arrived — the result was lost when a
// prior turn was interrupted — and appends a synthetic aborted output for
// each one found, so every call in the transcript has a matching result
// before it is replayed to the provider.
func ReconcileAborted(items []model.ResponseItem) []model.ResponseItem {
	satisfied := make(map[string]bool, len(items))
	for _, it := range items {
		if it.Kind == model.ItemFunctionCallOutput {
			satisfied[it.CallID] = true
		}
	}

	var pending []string
	seen := make(map[string]bool)
	for _, it := range items {
		if it.CallID == "" || seen[it.CallID] {
			continue
		}
		if it.Kind == model.ItemFunctionCall || it.Kind == model.ItemLocalShellCall {
			seen[it.CallID] = true
			if !satisfied[it.CallID] {
				pending = append(pending, it.CallID)
			}
		}
	}
	if len(pending) == 0 {
		return items
	}

	out := make([]model.ResponseItem, len(items), len(items)+len(pending))
	copy(out, items)
	for _, callID := range pending {
		out = append(out, model.AbortedOutput(callID))
	}
	return out
}
