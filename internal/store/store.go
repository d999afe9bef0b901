// Package store implements the append-only JSONL vector/summary store:
// memory.jsonl for StoredSummary records and memory_embeddings.jsonl for
// EmbeddedRecord records, both guarded by advisory file locks so the store
// is safe across processes that share a home directory.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aibozo/code-sub000/internal/model"
)

const (
	summaryFilename   = "memory.jsonl"
	embeddingFilename = "memory_embeddings.jsonl"
)

// Store is the vector/summary store. One Store per home directory; callers
// sharing a home directory across processes are coordinated only by the
// advisory file locks — there is no additional in-process mutex guarding
// correctness across processes, only within this process to avoid
// redundant contention.
type Store struct {
	homeDir string
	mu      sync.Mutex // serializes this process's own accesses
}

// New returns a Store rooted at homeDir (created if absent).
func New(homeDir string) (*Store, error) {
	if err := os.MkdirAll(homeDir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create home dir: %w", err)
	}
	return &Store{homeDir: homeDir}, nil
}

func (s *Store) summaryPath() string   { return filepath.Join(s.homeDir, summaryFilename) }
func (s *Store) embeddingPath() string { return filepath.Join(s.homeDir, embeddingFilename) }

// Append builds a StoredSummary with ts_ms=now and appends it to
// memory.jsonl.
func (s *Store) Append(repoKey, sessionID, title, text string, msgIDs []string) error {
	rec := model.StoredSummary{
		RepoKey:   repoKey,
		SessionID: sessionID,
		TSMs:      time.Now().UnixMilli(),
		Kind:      "summary",
		Title:     title,
		Text:      text,
		MsgIDs:    msgIDs,
	}
	return s.appendLine(s.summaryPath(), rec)
}

// Recent returns up to limit StoredSummary records for repoKey, most
// recent first.
func (s *Store) Recent(repoKey string, limit int) ([]model.StoredSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []model.StoredSummary
	if err := readLocked(s.summaryPath(), func(line string) {
		var rec model.StoredSummary
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return // malformed lines are skipped for reads, preserved for replace
		}
		if rec.RepoKey == repoKey {
			all = append(all, rec)
		}
	}); err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].TSMs > all[j].TSMs })
	if limit >= 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Add appends one EmbeddedRecord to memory_embeddings.jsonl.
func (s *Store) Add(rec model.EmbeddedRecord) error {
	return s.appendLine(s.embeddingPath(), rec)
}

// KindHit is one scored result of QueryKind.
type KindHit struct {
	Record model.EmbeddedRecord
	Score  float64
}

// QueryKind performs k-NN cosine similarity search over EmbeddedRecords
// matching repoKey and kind, returning the topK highest-scoring hits in
// non-increasing score order.
func (s *Store) QueryKind(repoKey, kind string, queryVec []float32, topK int) ([]KindHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []KindHit
	if err := readLocked(s.embeddingPath(), func(line string) {
		var rec model.EmbeddedRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return
		}
		if rec.RepoKey != repoKey || rec.Kind != kind || rec.Dim != len(queryVec) {
			return
		}
		hits = append(hits, KindHit{Record: rec, Score: cosineSimilarity(queryVec, rec.Vec)})
	}); err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK >= 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// AnyKind reports whether at least one EmbeddedRecord exists for
// (repoKey, kind), short-circuiting the scan.
func (s *Store) AnyKind(repoKey, kind string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	err := readLockedUntil(s.embeddingPath(), func(line string) bool {
		var rec model.EmbeddedRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return false
		}
		if rec.RepoKey == repoKey && rec.Kind == kind {
			found = true
			return true // stop scanning
		}
		return false
	})
	return found, err
}

// ReplaceKind atomically rewrites memory_embeddings.jsonl, dropping every
// record matching (repoKey, kind) and appending newRecords in its place.
// Every other line — including malformed ones this process cannot parse —
// is preserved verbatim.
func (s *Store) ReplaceKind(repoKey, kind string, newRecords []model.EmbeddedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.embeddingPath()
	src, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("store: open for replace: %w", err)
	}
	defer src.Close()
	if err := ensureOwnerOnly(src); err != nil {
		return err
	}
	if err := lockWithRetry(src, true); err != nil {
		return err
	}
	defer unlock(src)

	tmpPath := path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}

	w := bufio.NewWriter(tmp)
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		var rec model.EmbeddedRecord
		if err := json.Unmarshal([]byte(line), &rec); err == nil {
			if rec.RepoKey == repoKey && rec.Kind == kind {
				continue // dropped: replaced below
			}
		}
		// Either a non-matching record or a malformed line: preserved
		// verbatim.
		if _, err := fmt.Fprintln(w, line); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
	}
	if err := sc.Err(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: scan source: %w", err)
	}
	for _, rec := range newRecords {
		b, err := json.Marshal(rec)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("store: marshal replacement record: %w", err)
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func (s *Store) appendLine(path string, rec any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal record: %w", err)
	}
	b = append(b, '\n')

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("store: open %s: %w", path, err)
	}
	defer f.Close()
	if err := ensureOwnerOnly(f); err != nil {
		return err
	}
	if err := lockWithRetry(f, true); err != nil {
		return err
	}
	defer unlock(f)

	if _, err := f.Write(b); err != nil {
		return fmt.Errorf("store: write: %w", err)
	}
	return nil
}

// readLocked opens path shared-locked and calls fn once per line. A
// missing file is treated as empty rather than an error.
func readLocked(path string, fn func(line string)) error {
	return readLockedUntil(path, func(line string) bool {
		fn(line)
		return false
	})
}

func readLockedUntil(path string, fn func(line string) (stop bool)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: open %s: %w", path, err)
	}
	defer f.Close()
	if err := lockWithRetry(f, false); err != nil {
		return err
	}
	defer unlock(f)

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if fn(line) {
			break
		}
	}
	return sc.Err()
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
