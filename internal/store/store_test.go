package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aibozo/code-sub000/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestRecentEmptyWhenMissing(t *testing.T) {
	s := newTestStore(t)
	rows, err := s.Recent("rk", 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}

func TestAppendAndRecentFiltersAndLimits(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append("rk1", "sess", "A", "alpha", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append("rk2", "sess", "B", "bravo", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append("rk1", "sess", "C", "charlie", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	rowsAll, err := s.Recent("rk1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rowsAll) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rowsAll))
	}

	// R1: append then recent(>=1) returns the just-appended record first.
	if rowsAll[0].Title != "C" {
		t.Fatalf("expected most recent (C) first, got %s", rowsAll[0].Title)
	}

	rowsLimit, err := s.Recent("rk1", 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rowsLimit) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rowsLimit))
	}
}

func TestFilePermissionsAreOwnerOnly(t *testing.T) {
	s := newTestStore(t)
	if err := s.Append("rk", "sess", "T", "t", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	info, err := os.Stat(filepath.Join(s.homeDir, summaryFilename))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %o", info.Mode().Perm())
	}
}

func TestQueryKindOrderingIsNonIncreasing(t *testing.T) {
	s := newTestStore(t)
	vecs := [][]float32{
		{1, 0},
		{0.9, 0.1},
		{0, 1},
	}
	for i, v := range vecs {
		if err := s.Add(model.EmbeddedRecord{
			RepoKey: "rk", ID: string(rune('a' + i)), Kind: "code", Title: "t", Text: "x", Dim: 2, Vec: v,
		}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	hits, err := s.QueryKind("rk", "code", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("query_kind: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Fatalf("scores not non-increasing: %+v", hits)
		}
	}
}

func TestReplaceKindPreservesOtherRecordsAndMalformedLines(t *testing.T) {
	s := newTestStore(t)

	if err := s.Add(model.EmbeddedRecord{RepoKey: "rk", ID: "1", Kind: "code", Dim: 1, Vec: []float32{1}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(model.EmbeddedRecord{RepoKey: "rk", ID: "2", Kind: "summary", Dim: 1, Vec: []float32{1}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(model.EmbeddedRecord{RepoKey: "other", ID: "3", Kind: "code", Dim: 1, Vec: []float32{1}}); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Append a malformed line directly — it must survive ReplaceKind
	// verbatim, since this process cannot interpret it.
	f, err := os.OpenFile(filepath.Join(s.homeDir, embeddingFilename), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("{not json\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	if err := s.ReplaceKind("rk", "code", []model.EmbeddedRecord{
		{RepoKey: "rk", ID: "new", Kind: "code", Dim: 1, Vec: []float32{0.5}},
	}); err != nil {
		t.Fatalf("replace_kind: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(s.homeDir, embeddingFilename))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	content := string(raw)

	if !containsLine(content, `"id":"2"`) {
		t.Fatalf("expected untouched summary record (id=2) to survive: %s", content)
	}
	if !containsLine(content, `"id":"3"`) {
		t.Fatalf("expected untouched other-repo record (id=3) to survive: %s", content)
	}
	if containsLine(content, `"id":"1"`) {
		t.Fatalf("expected replaced record (id=1) to be gone: %s", content)
	}
	if !containsLine(content, `"id":"new"`) {
		t.Fatalf("expected new record to be present: %s", content)
	}
	if !containsLine(content, "{not json") {
		t.Fatalf("expected malformed line to be preserved verbatim: %s", content)
	}

	// Sanity: every surviving non-malformed line still parses.
	for _, line := range splitLines(content) {
		if line == "" || line == "{not json" {
			continue
		}
		var rec model.EmbeddedRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unexpected unparsable survivor line %q: %v", line, err)
		}
	}
}

func containsLine(content, substr string) bool {
	for _, line := range splitLines(content) {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func splitLines(s string) []string {
	return strings.Split(s, "\n")
}
