package retrieval

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// CodeSection composes the code bullets for the per-turn injection
// message: semantic hits via EmbeddingClient/VectorStore, interleaved
// with lexical fuzzy file-search hits, alternating pairs for diversity.
func CodeSection(cfg Config, cwd, query string, budget int, vectors VectorStore, client EmbeddingClient) []Bullet {
	if budget <= 0 || query == "" {
		return nil
	}

	var semantic []Bullet
	if cfg.EmbeddingsOn && cfg.APIKeySet && client != nil && vectors != nil {
		semantic = semanticCodeHits(cfg, query, vectors, client)
	}

	lexical := lexicalCodeHits(cfg, cwd, query)

	interleaved := interleave(semantic, lexical)
	return fitBullets(interleaved, budget)
}

func semanticCodeHits(cfg Config, query string, vectors VectorStore, client EmbeddingClient) []Bullet {
	vecs, err := client.Embed([]string{query}, cfg.Dim)
	if err != nil || len(vecs) != 1 {
		return nil
	}
	hits, err := vectors.QueryKind(cfg.RepoKey, "code", vecs[0], cfg.TopKSemantic)
	if err != nil {
		return nil
	}
	out := make([]Bullet, 0, len(hits))
	for _, h := range hits {
		line := fmt.Sprintf("- %s: %s", h.Record.Title, excerptText(h.Record.Text, 200))
		out = append(out, Bullet{Title: h.Record.Title, Text: h.Record.Text, Rendered: line})
	}
	return out
}

// lexicalCodeHits fuzzy-matches query against workspace file paths under
// cwd, reading a bounded window of each match.
func lexicalCodeHits(cfg Config, cwd, query string) []Bullet {
	if cwd == "" {
		return nil
	}
	paths := collectWorkspacePaths(cwd)
	if len(paths) == 0 {
		return nil
	}

	matches := fuzzy.Find(query, paths)
	sort.Sort(matches)
	topK := cfg.TopKFiles
	if topK <= 0 {
		topK = 8
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}

	var out []Bullet
	for _, m := range matches {
		relPath := paths[m.Index]
		snippet, ok := readSnippet(filepath.Join(cwd, relPath), cfg.ChunkBytes)
		if !ok {
			continue
		}
		line := fmt.Sprintf("- %s:#1: %s", relPath, snippet)
		out = append(out, Bullet{Title: relPath, Text: snippet, Rendered: line})
	}
	return out
}

func collectWorkspacePaths(root string) []string {
	var out []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirNames[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	return out
}

var skipDirNames = map[string]bool{
	".git": true, "node_modules": true, "target": true, "dist": true,
	"build": true, ".idea": true, ".vscode": true, "__pycache__": true,
}

// readSnippet reads up to 2*chunkBytes of path, rejects binary content, and
// returns up to chunkBytes preferring a newline boundary.
func readSnippet(path string, chunkBytes int) (string, bool) {
	if chunkBytes <= 0 {
		chunkBytes = 800
	}
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	buf := make([]byte, 2*chunkBytes)
	n, _ := f.Read(buf)
	buf = buf[:n]
	for _, b := range buf {
		if b == 0 {
			return "", false
		}
	}
	if len(buf) <= chunkBytes {
		return string(buf), true
	}
	window := buf[:chunkBytes]
	if idx := strings.LastIndexByte(string(window), '\n'); idx > 0 {
		window = window[:idx]
	}
	return string(window), true
}

func excerptText(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// interleave alternates a and b pair by pair.
func interleave(a, b []Bullet) []Bullet {
	out := make([]Bullet, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		if i < len(a) {
			out = append(out, a[i])
			i++
		}
		if j < len(b) {
			out = append(out, b[j])
			j++
		}
	}
	return out
}

// fitBullets greedily keeps bullets whose rendered lines fit within budget
// characters, in order.
func fitBullets(bullets []Bullet, budget int) []Bullet {
	var out []Bullet
	used := 0
	for _, b := range bullets {
		need := len(b.Rendered) + 1 // newline
		if used+need > budget {
			continue
		}
		out = append(out, b)
		used += need
	}
	return out
}
