package store

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aibozo/code-sub000/internal/model"
)

// Hard caps.
const (
	MaxFileBytes = 512 * 1024
	MaxRepoBytes = 8 * 1024 * 1024
	embedBatch   = 64
)

var skipDirs = map[string]bool{
	".git": true, "target": true, "node_modules": true, "dist": true,
	"build": true, ".idea": true, ".vscode": true, "__pycache__": true,
}

var binaryExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".svg": true, ".ico": true, ".pdf": true, ".zip": true, ".gz": true,
	".xz": true, ".bz2": true, ".7z": true, ".mp3": true, ".mp4": true,
	".mov": true, ".avi": true, ".wasm": true,
}

// EmbeddingClient embeds a batch of texts into fixed-dimension vectors. The
// concrete implementation (OpenAI-compatible embeddings endpoint) lives in
// internal/retrieval; CodeIndexer only depends on this narrow interface so
// store tests can supply a fake.
type EmbeddingClient interface {
	Embed(texts []string, dim int) ([][]float32, error)
}

type repoIndexState struct {
	Files map[string][3]any `json:"files"` // rel path -> (mtime_ms, size, sha1)
}

type codeIndexState struct {
	Repos map[string]repoIndexState `json:"repos"`
}

// CodeIndexer scans a workspace and populates the store's kind="code"
// EmbeddedRecords, using incremental fingerprinting and a per-run byte
// cap to bound rescans.
type CodeIndexer struct {
	store     *Store
	client    EmbeddingClient
	statePath string

	mu      sync.Mutex
	indexed map[string]bool // repo_key -> already indexed this process lifetime
}

// NewCodeIndexer returns a CodeIndexer persisting fingerprint state under
// homeDir/code_index_state.json.
func NewCodeIndexer(s *Store, client EmbeddingClient, homeDir string) *CodeIndexer {
	return &CodeIndexer{
		store:     s,
		client:    client,
		statePath: filepath.Join(homeDir, "code_index_state.json"),
		indexed:   make(map[string]bool),
	}
}

// EnsureIndex performs a best-effort incremental scan+embed+store for
// repoKey, skipping unchanged files by fingerprint. Errors are swallowed
// except where returning them aids tests; callers that want strict
// behavior should call Rebuild instead. Only one indexing pass per
// repo_key per process lifetime runs.
func (c *CodeIndexer) EnsureIndex(repoKey, cwd string, dim, chunkBytes int) error {
	c.mu.Lock()
	if c.indexed[repoKey] {
		c.mu.Unlock()
		return nil
	}
	c.indexed[repoKey] = true
	c.mu.Unlock()

	state := c.loadState()
	repoState, ok := state.Repos[repoKey]
	if !ok {
		repoState = repoIndexState{Files: map[string][3]any{}}
	}

	var (
		indexedBytes int
		batchTexts   []string
		batchTitles  []string
	)
	flush := func() {
		if len(batchTexts) == 0 {
			return
		}
		vecs, err := c.client.Embed(batchTexts, dim)
		if err == nil {
			now := time.Now().UnixMilli()
			for i, v := range vecs {
				_ = c.store.Add(model.EmbeddedRecord{
					RepoKey: repoKey, ID: uuid.NewString(), TSMs: now,
					Kind: "code", Title: batchTitles[i], Text: batchTexts[i], Dim: dim, Vec: v,
				})
			}
		}
		batchTexts = batchTexts[:0]
		batchTitles = batchTitles[:0]
	}

	for _, path := range collectCodeFiles(cwd) {
		if indexedBytes >= MaxRepoBytes {
			break
		}
		if isSkippablePath(path) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.Size() > MaxFileBytes {
			continue
		}
		buf, err := os.ReadFile(path)
		if err != nil || isProbablyBinary(buf) {
			continue
		}

		rel, _ := filepath.Rel(cwd, path)
		mtimeMS := info.ModTime().UnixMilli()
		sum := sha1.Sum(buf)
		sha1Hex := hex.EncodeToString(sum[:])

		if prev, ok := repoState.Files[rel]; ok {
			if pm, ps, ph := prev[0], prev[1], prev[2]; toInt64(pm) == mtimeMS && toInt64(ps) == info.Size() && ph == sha1Hex {
				continue // unchanged: R2
			}
		}

		langChunk := languageAwareChunkBytes(path, chunkBytes)
		for idx, chunk := range chunkText(string(buf), langChunk) {
			if indexedBytes >= MaxRepoBytes {
				break
			}
			indexedBytes += len(chunk)
			batchTexts = append(batchTexts, chunk)
			batchTitles = append(batchTitles, fmt.Sprintf("%s:#%d", rel, idx+1))
			if len(batchTexts) >= embedBatch {
				flush()
			}
		}
		repoState.Files[rel] = [3]any{mtimeMS, info.Size(), sha1Hex}
	}
	flush()

	state.Repos[repoKey] = repoState
	c.saveState(state)
	return nil
}

// Rebuild performs a full re-index of repoKey and replaces its kind="code"
// records atomically via Store.ReplaceKind, supplementing the incremental
// EnsureIndex path for cases like a changed skip-list invalidating the
// fingerprint cache.
func (c *CodeIndexer) Rebuild(repoKey, cwd string, dim, chunkBytes int) error {
	var (
		newRecords   []model.EmbeddedRecord
		indexedBytes int
		batchTexts   []string
		batchTitles  []string
	)
	now := time.Now().UnixMilli()
	flush := func() {
		if len(batchTexts) == 0 {
			return
		}
		vecs, err := c.client.Embed(batchTexts, dim)
		if err == nil {
			for i, v := range vecs {
				newRecords = append(newRecords, model.EmbeddedRecord{
					RepoKey: repoKey, ID: uuid.NewString(), TSMs: now,
					Kind: "code", Title: batchTitles[i], Text: batchTexts[i], Dim: dim, Vec: v,
				})
			}
		}
		batchTexts = batchTexts[:0]
		batchTitles = batchTitles[:0]
	}

	for _, path := range collectCodeFiles(cwd) {
		if indexedBytes >= MaxRepoBytes {
			break
		}
		if isSkippablePath(path) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.Size() > MaxFileBytes {
			continue
		}
		buf, err := os.ReadFile(path)
		if err != nil || isProbablyBinary(buf) {
			continue
		}
		rel, _ := filepath.Rel(cwd, path)
		langChunk := languageAwareChunkBytes(path, chunkBytes)
		for idx, chunk := range chunkText(string(buf), langChunk) {
			if indexedBytes >= MaxRepoBytes {
				break
			}
			indexedBytes += len(chunk)
			batchTexts = append(batchTexts, chunk)
			batchTitles = append(batchTitles, fmt.Sprintf("%s:#%d", rel, idx+1))
			if len(batchTexts) >= embedBatch {
				flush()
			}
		}
	}
	flush()

	return c.store.ReplaceKind(repoKey, "code", newRecords)
}

func (c *CodeIndexer) loadState() codeIndexState {
	raw, err := os.ReadFile(c.statePath)
	if err != nil {
		return codeIndexState{Repos: map[string]repoIndexState{}}
	}
	var s codeIndexState
	if err := json.Unmarshal(raw, &s); err != nil || s.Repos == nil {
		return codeIndexState{Repos: map[string]repoIndexState{}}
	}
	return s
}

func (c *CodeIndexer) saveState(s codeIndexState) {
	if err := os.MkdirAll(filepath.Dir(c.statePath), 0o700); err != nil {
		return
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(c.statePath, b, 0o600)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func collectCodeFiles(root string) []string {
	var out []string
	stack := []string{root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			p := filepath.Join(dir, e.Name())
			if e.IsDir() {
				if skipDirs[e.Name()] {
					continue
				}
				stack = append(stack, p)
				continue
			}
			out = append(out, p)
		}
	}
	return out
}

func isSkippablePath(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".lock") || strings.HasSuffix(name, ".min.js") {
		return true
	}
	return binaryExts[strings.ToLower(filepath.Ext(path))]
}

func isProbablyBinary(buf []byte) bool {
	for _, b := range buf {
		if b == 0 {
			return true
		}
	}
	return false
}

var docExts = map[string]bool{".md": true, ".rst": true, ".adoc": true}
var denseCodeExts = map[string]bool{
	".rs": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".go": true, ".java": true, ".kt": true, ".c": true,
	".h": true, ".cpp": true, ".hpp": true, ".cs": true,
}

func languageAwareChunkBytes(path string, defaultChunkBytes int) int {
	ext := strings.ToLower(filepath.Ext(path))
	n := defaultChunkBytes
	switch {
	case docExts[ext]:
		n = int(float64(defaultChunkBytes) * 1.5)
	case denseCodeExts[ext]:
		n = int(float64(defaultChunkBytes) * 0.85)
	}
	if n < 512 {
		n = 512
	}
	return n
}

// chunkText splits s into chunks of at most chunkBytes bytes, preferring to
// end each chunk on a newline boundary.
func chunkText(s string, chunkBytes int) []string {
	if chunkBytes <= 0 || len(s) == 0 {
		return nil
	}
	b := []byte(s)
	var out []string
	start := 0
	for start < len(b) {
		end := start + chunkBytes
		if end > len(b) {
			end = len(b)
		}
		slice := b[start:end]
		cut := len(slice)
		if pos := lastIndexByte(slice, '\n'); pos > 0 {
			cut = pos + 1
		}
		out = append(out, string(slice[:cut]))
		start += cut
	}
	return out
}

func lastIndexByte(b []byte, c byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] == c {
			return i
		}
	}
	return -1
}
