// Package retrieval implements the codebase context lookup used by the
// planning workflow: source files are chunked, embedded as term-frequency
// vectors, and ranked by cosine similarity against the request text.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Document is one retrievable chunk of source text.
type Document struct {
	ID      string
	Path    string
	Content string
}

// scored pairs a document with its similarity to the query.
type scored struct {
	doc   Document
	score float64
}

// MemoryStore is an in-memory TF similarity index. It implements the
// engine's ContextProvider.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
	vecs map[string]map[string]float64
}

// NewMemoryStore returns an empty index.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]Document),
		vecs: make(map[string]map[string]float64),
	}
}

// Upsert encodes and stores a document.
func (s *MemoryStore) Upsert(ctx context.Context, doc Document) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if doc.ID == "" {
		return errors.New("document id required")
	}
	vector := embed(doc.Content)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	s.vecs[doc.ID] = vector
	return nil
}

// Len reports how many documents are indexed.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Snippets returns the most similar chunks for the query, each prefixed
// with its source path so downstream consumers can cite files.
func (s *MemoryStore) Snippets(ctx context.Context, query string, limit int) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if limit <= 0 {
		limit = 5
	}
	qVec := embed(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []scored
	for id, vec := range s.vecs {
		score := cosineSimilarity(qVec, vec)
		if score == 0 {
			continue
		}
		results = append(results, scored{doc: s.docs[id], score: score})
	}
	if len(results) == 0 {
		return nil, nil
	}
	sortScored(results)
	if len(results) > limit {
		results = results[:limit]
	}
	snippets := make([]string, 0, len(results))
	for _, r := range results {
		snippets = append(snippets, fmt.Sprintf("// %s\n%s", r.doc.Path, r.doc.Content))
	}
	return snippets, nil
}

// maxChunkLines bounds chunk size so one large file cannot dominate the
// snippet budget.
const maxChunkLines = 40

var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".rs": true, ".java": true, ".c": true, ".h": true, ".cpp": true,
	".md": true, ".yaml": true, ".yml": true, ".sql": true,
}

// LoadDirectory walks root and indexes every recognized source file,
// splitting large files into fixed-size line chunks. Hidden directories
// are skipped. It returns the number of chunks indexed.
func (s *MemoryStore) LoadDirectory(ctx context.Context, root string) (int, error) {
	if root == "" {
		return 0, errors.New("retrieval root required")
	}
	count := 0
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(path)] {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		for i, chunk := range chunkLines(string(content), maxChunkLines) {
			doc := Document{
				ID:      fmt.Sprintf("%s#%d", rel, i),
				Path:    rel,
				Content: chunk,
			}
			if err := s.Upsert(ctx, doc); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return count, err
	}
	return count, nil
}

func chunkLines(text string, size int) []string {
	lines := strings.Split(text, "\n")
	var chunks []string
	for start := 0; start < len(lines); start += size {
		end := start + size
		if end > len(lines) {
			end = len(lines)
		}
		chunk := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// embed builds a term-frequency vector. Intentionally simple so a real
// embedding model can be swapped in behind the same interface.
func embed(text string) map[string]float64 {
	vector := make(map[string]float64)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		vector[strings.Trim(token, "(){}[],.;:\"'`")]++
	}
	delete(vector, "")
	return vector
}

func cosineSimilarity(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for term, weight := range a {
		dot += weight * b[term]
		normA += weight * weight
	}
	for _, weight := range b {
		normB += weight * weight
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortScored(results []scored) {
	for i := 0; i < len(results)-1; i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].score > results[i].score {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
}
