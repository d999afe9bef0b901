package retrieval

import (
	"strings"
	"unicode"
)

// Dedupe thresholds.
const (
	defaultTitleThreshold   = 0.97
	defaultContentThreshold = 0.92
	defaultMinPrefixLen     = 32
)

// DedupeConfig bundles the fuzzy-dedupe thresholds.
type DedupeConfig struct {
	TitleThreshold   float64
	ContentThreshold float64
	MinPrefixLen     int
}

// DefaultDedupeConfig returns the documented default thresholds.
func DefaultDedupeConfig() DedupeConfig {
	return DedupeConfig{
		TitleThreshold:   defaultTitleThreshold,
		ContentThreshold: defaultContentThreshold,
		MinPrefixLen:     defaultMinPrefixLen,
	}
}

// tokenize lowercases and splits on non-alphanumeric runs.
func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// jaccardSimilarity computes |A∩B| / |A∪B| over token sets of a and b.
func jaccardSimilarity(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// strongContainment reports whether a contains b's first minPrefix runes
// as a case-insensitive substring.
func strongContainment(a, b string, minPrefix int) bool {
	rb := []rune(b)
	if len(rb) < minPrefix {
		return false
	}
	prefix := string(rb[:minPrefix])
	return strings.Contains(strings.ToLower(a), strings.ToLower(prefix))
}

// shouldDedupe applies the dedupe criterion: (title_jaccard >= title_thr
// AND (content_jaccard >= content_thr OR strong_containment)) OR
// strong_containment.
func shouldDedupe(memTitle, memContent, codeTitle, codeContent string, cfg DedupeConfig) bool {
	sc := strongContainment(codeContent, memContent, cfg.MinPrefixLen)
	if sc {
		return true
	}
	titleJ := jaccardSimilarity(memTitle, codeTitle)
	if titleJ < cfg.TitleThreshold {
		return false
	}
	contentJ := jaccardSimilarity(memContent, codeContent)
	return contentJ >= cfg.ContentThreshold
}

// DedupeMemoryBullets drops each memory bullet that fuzzy-matches any code
// bullet's title/content.
func DedupeMemoryBullets(codeBullets []Bullet, memoryBullets []Bullet, cfg DedupeConfig) []Bullet {
	var out []Bullet
	for _, m := range memoryBullets {
		dup := false
		for _, c := range codeBullets {
			if shouldDedupe(m.Title, m.Text, c.Title, c.Text, cfg) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, m)
		}
	}
	return out
}
