// Package retrieval composes one hybrid code+memory user message per turn
// within a character budget, combining semantic embedding lookups with
// lexical fuzzy file search.
package retrieval

import "github.com/aibozo/code-sub000/internal/model"

// ExtractQuery scans items in reverse for the last user-role Message and
// concatenates its InputText/OutputText content. An empty return means no
// injection should occur.
func ExtractQuery(items []model.ResponseItem) string {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].IsUserMessage() {
			return items[i].TextContent()
		}
	}
	return ""
}
