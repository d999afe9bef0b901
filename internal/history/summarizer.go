package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/aibozo/code-sub000/internal/model"
)

// Summary is the output of a Summarizer pass.
type Summary struct {
	Title string
	Text  string
}

// Summarizer generates a Summary for a slice of ResponseItems. It takes
// the full ResponseItem union rather than Message-only slices, so tool
// calls/results contribute to the summary too.
type Summarizer interface {
	Summarize(ctx context.Context, items []model.ResponseItem) (Summary, error)
}

// CompactSummarizer is the always-available, non-LLM Summarizer used for
// preflight compaction (too latency-sensitive for an LLM round trip) and as
// the summarize_on_prune fallback when no API key is configured. It renders
// a fixed per-item-kind bullet format and truncates to fit a char budget.
type CompactSummarizer struct {
	// CharBudget bounds the rendered Text length; Render truncates with " ..."
	// once the budget is exceeded.
	CharBudget int
}

// NewCompactSummarizer returns a CompactSummarizer with the documented
// default per-volley budget.
func NewCompactSummarizer(charBudget int) *CompactSummarizer {
	if charBudget <= 0 {
		charBudget = defaultVolleyCharBudget
	}
	return &CompactSummarizer{CharBudget: charBudget}
}

func (c *CompactSummarizer) Summarize(_ context.Context, items []model.ResponseItem) (Summary, error) {
	lines := renderCompactLines(items)
	title := compactTitle(items)
	text := assembleWithinBudget(lines, c.CharBudget)
	return Summary{Title: title, Text: text}, nil
}

// renderCompactLines renders one bullet line per item, following
// per-item-type rules: User:/Assistant: prefixed messages, Call: <name>,
// Result(ok|err): <excerpt>, Shell: <cmd>. File anchors and outcome lines
// are promoted to the front by assembleWithinBudget's caller ordering.
func renderCompactLines(items []model.ResponseItem) []string {
	var lines []string
	var fileAnchors []string
	var outcomeLines []string

	for _, it := range items {
		switch it.Kind {
		case model.ItemMessage:
			switch it.Role {
			case model.RoleUser:
				lines = append(lines, "User: "+excerpt(it.TextContent(), 200))
			case model.RoleAssistant:
				text := it.TextContent()
				lines = append(lines, "Assistant: "+excerpt(text, 200))
				if ol := outcomeLine(text); ol != "" {
					outcomeLines = append(outcomeLines, ol)
				}
			}
			for _, anchor := range fileAnchorsIn(it.TextContent()) {
				fileAnchors = append(fileAnchors, anchor)
			}
		case model.ItemFunctionCall:
			lines = append(lines, "Call: "+it.Name)
			for _, anchor := range fileAnchorsIn(it.Arguments) {
				fileAnchors = append(fileAnchors, anchor)
			}
		case model.ItemFunctionCallOutput:
			content := ""
			ok := true
			if it.Output != nil {
				content = it.Output.Content
				ok = it.Output.Success == nil || *it.Output.Success
			}
			status := "ok"
			if !ok {
				status = "err"
			}
			lines = append(lines, fmt.Sprintf("Result(%s): %s", status, excerpt(content, 60)))
			if ol := outcomeLine(content); ol != "" {
				outcomeLines = append(outcomeLines, ol)
			}
		case model.ItemLocalShellCall:
			lines = append(lines, "Shell: "+excerpt(string(it.Action), 60))
		}
	}

	var ordered []string
	if len(fileAnchors) > 0 {
		ordered = append(ordered, "Files: "+strings.Join(dedupeStrings(fileAnchors), ", "))
	}
	ordered = append(ordered, dedupeStrings(outcomeLines)...)
	ordered = append(ordered, lines...)
	return ordered
}

func compactTitle(items []model.ResponseItem) string {
	for _, it := range items {
		if it.IsUserMessage() {
			return excerpt(it.TextContent(), 60)
		}
	}
	return "volley summary"
}

// assembleWithinBudget joins lines, truncating the last line with " ..."
// once remaining budget drops below 5 chars.
func assembleWithinBudget(lines []string, budget int) string {
	if budget <= 0 {
		return ""
	}
	var b strings.Builder
	remaining := budget
	for i, line := range lines {
		sep := ""
		if i > 0 {
			sep = "\n"
		}
		need := len(sep) + len(line)
		if need <= remaining {
			b.WriteString(sep)
			b.WriteString(line)
			remaining -= need
			continue
		}
		if remaining-len(sep) > 5 {
			avail := remaining - len(sep) - 4
			if avail > 0 {
				b.WriteString(sep)
				b.WriteString(line[:avail])
				b.WriteString(" ...")
			}
		}
		break
	}
	return b.String()
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// outcomeLine detects known test/build outcome markers in text.
func outcomeLine(text string) string {
	lower := strings.ToLower(text)
	markers := []string{"test result: ok", "test result: failed", "build failed", "compilation error", "error:"}
	for _, m := range markers {
		if strings.Contains(lower, m) {
			idx := strings.Index(lower, m)
			end := idx + len(m) + 60
			if end > len(text) {
				end = len(text)
			}
			return excerpt(text[idx:end], 80)
		}
	}
	return ""
}

// fileAnchorsIn harvests slash-bearing path-like tokens and
// "*** Update File:" apply_patch headers from text.
func fileAnchorsIn(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "*** Update File:") {
			out = append(out, strings.TrimSpace(strings.TrimPrefix(trimmed, "*** Update File:")))
			continue
		}
		for _, tok := range strings.Fields(trimmed) {
			tok = strings.Trim(tok, "`'\",.();:")
			if strings.Contains(tok, "/") && !strings.HasPrefix(tok, "http") && len(tok) < 200 {
				out = append(out, tok)
			}
		}
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
