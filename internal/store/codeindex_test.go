package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLanguageAwareChunkSizesAdjust(t *testing.T) {
	base := 1000
	rs := languageAwareChunkBytes("src/main.rs", base)
	md := languageAwareChunkBytes("README.md", base)
	txt := languageAwareChunkBytes("notes.txt", base)
	if rs >= base {
		t.Fatalf("expected code chunk size to shrink, got %d", rs)
	}
	if md <= base {
		t.Fatalf("expected doc chunk size to grow, got %d", md)
	}
	if txt != base {
		t.Fatalf("expected plain text chunk size unchanged, got %d", txt)
	}
}

func TestSkippablePathFiltersCommonBinariesAndMinified(t *testing.T) {
	cases := map[string]bool{
		"logo.png":      true,
		"bundle.min.js": true,
		"Cargo.lock":    true,
		"lib.rs":        false,
	}
	for path, want := range cases {
		if got := isSkippablePath(path); got != want {
			t.Errorf("isSkippablePath(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestChunkTextPrefersNewlineBoundaries(t *testing.T) {
	s := "line1\nline2-xxxx\nline3"
	chunks := chunkText(s, 8)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	if chunks[0][len(chunks[0])-1] != '\n' {
		t.Fatalf("expected first chunk to end on a newline, got %q", chunks[0])
	}
}

type fakeEmbedder struct {
	dim int
}

func (f *fakeEmbedder) Embed(texts []string, dim int) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, dim)
		v[0] = float32(len(texts[i]))
		out[i] = v
	}
	return out, nil
}

func TestEnsureIndexSkipsUnchangedFilesOnSecondRun(t *testing.T) {
	dir := t.TempDir()
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := New(home)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	embedder := &fakeEmbedder{}

	idx1 := NewCodeIndexer(s, embedder, home)
	if err := idx1.EnsureIndex("repo1", dir, 4, 512); err != nil {
		t.Fatalf("ensure index: %v", err)
	}
	hits1, err := s.QueryKind("repo1", "code", []float32{0, 0, 0, 0}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits1) == 0 {
		t.Fatalf("expected at least one indexed chunk")
	}

	// Fresh indexer instance (new process lifetime) over the same home:
	// since the file fingerprint is unchanged, R2 says no new records.
	idx2 := NewCodeIndexer(s, embedder, home)
	if err := idx2.EnsureIndex("repo1", dir, 4, 512); err != nil {
		t.Fatalf("ensure index: %v", err)
	}
	hits2, err := s.QueryKind("repo1", "code", []float32{0, 0, 0, 0}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits2) != len(hits1) {
		t.Fatalf("expected no new records for unchanged file: before=%d after=%d", len(hits1), len(hits2))
	}
}
