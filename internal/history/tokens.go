package history

import "github.com/aibozo/code-sub000/internal/model"

// charsPerToken is the approximate character-to-token ratio used
// throughout compaction: estimated tokens are ceil(total_text_chars / 4).
const charsPerToken = 4

// EstimateTokens estimates the token count of one item's text content
// (ceiling division of its rendered character count by charsPerToken).
func EstimateTokens(item model.ResponseItem) int {
	chars := len(itemChars(item))
	return (chars + charsPerToken - 1) / charsPerToken
}

// EstimateItemsTokens sums EstimateTokens across items.
func EstimateItemsTokens(items []model.ResponseItem) int {
	total := 0
	for _, it := range items {
		total += EstimateTokens(it)
	}
	return total
}

// itemChars renders the text a token-estimate should be based on: message
// content, function call name/arguments, and function call output content.
func itemChars(item model.ResponseItem) string {
	switch item.Kind {
	case model.ItemMessage:
		return item.TextContent()
	case model.ItemFunctionCall:
		return item.Name + item.Arguments
	case model.ItemFunctionCallOutput:
		if item.Output != nil {
			return item.Output.Content
		}
		return ""
	case model.ItemReasoning:
		s := ""
		for _, line := range item.Summary {
			s += line
		}
		if item.RContent != nil {
			s += *item.RContent
		}
		return s
	default:
		return string(item.Raw)
	}
}
