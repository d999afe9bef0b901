package turn

import "github.com/aibozo/code-sub000/internal/model"

// BuildPrompt assembles the item list sent to the provider for one turn, in
// order: the retrieval injection message (if any), the filtered history
// (ephemeral single-turn items and their accompanying image dropped),
// pending extra items queued for this turn, and fresh status items.
func BuildPrompt(historyItems []model.ResponseItem, injection model.ResponseItem, injected bool, extraItems, statusItems []model.ResponseItem) []model.ResponseItem {
	out := make([]model.ResponseItem, 0, len(historyItems)+len(extraItems)+len(statusItems)+1)

	if injected {
		out = append(out, injection)
	}

	out = append(out, filterEphemeral(historyItems)...)
	out = append(out, extraItems...)
	out = append(out, statusItems...)

	return ReconcileAborted(out)
}

// filterEphemeral drops every ephemeral user message and, when present, the
// InputImage message immediately following it — ephemeral items (and any
// screenshot attached to them) are single-turn only and must not survive
// into a later turn's prompt.
func filterEphemeral(items []model.ResponseItem) []model.ResponseItem {
	out := make([]model.ResponseItem, 0, len(items))
	for i := 0; i < len(items); i++ {
		it := items[i]
		if it.IsEphemeral() {
			if i+1 < len(items) && items[i+1].IsUserMessage() && items[i+1].HasImage() {
				i++
			}
			continue
		}
		out = append(out, it)
	}
	return out
}
