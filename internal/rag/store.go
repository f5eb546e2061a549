package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/philippgille/chromem-go"

	"aura/internal/logging"
	"aura/internal/pysrc"
)

// DBDirName is where the vector database lives inside a project. It is
// excluded from file trees and indexing.
const DBDirName = ".rag_db"

// QueryK is the default number of snippets returned per retrieval.
const QueryK = 5

var indexableExts = map[string]bool{
	".py":   true,
	".md":   true,
	".txt":  true,
	".json": true,
	".toml": true,
	".cfg":  true,
	".ini":  true,
	".yaml": true,
	".yml":  true,
}

// IsIndexable reports whether a file belongs in the retrieval index.
func IsIndexable(path string) bool {
	return indexableExts[strings.ToLower(filepath.Ext(path))]
}

// Snippet is one retrieval hit.
type Snippet struct {
	Path       string  `json:"path"`
	Content    string  `json:"content"`
	Similarity float32 `json:"similarity"`
}

// Store is the per-project vector index, backed by an embedded persistent
// chromem database under the project's .rag_db directory.
type Store struct {
	db       *chromem.DB
	col      *chromem.Collection
	colName  string
	embedder Embedder
	log      logging.Logger
}

func collectionName(userID int64, projectName string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, projectName)
	return fmt.Sprintf("aura_project_%d_%s", userID, sanitized)
}

// NewStore opens (or creates) the vector index for one project.
func NewStore(projectPath string, userID int64, projectName string, embedder Embedder, log logging.Logger) (*Store, error) {
	db, err := chromem.NewPersistentDB(filepath.Join(projectPath, DBDirName), false)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	s := &Store{
		db:       db,
		colName:  collectionName(userID, projectName),
		embedder: embedder,
		log:      logging.OrNop(log),
	}
	if err := s.openCollection(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) openCollection() error {
	col, err := s.db.GetOrCreateCollection(s.colName, nil, s.embeddingFunc())
	if err != nil {
		return fmt.Errorf("open collection %s: %w", s.colName, err)
	}
	s.col = col
	return nil
}

func (s *Store) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.Embed(ctx, text)
	}
}

// ReindexFile replaces everything stored for relPath. Python files index
// one document per top-level function or class, so retrieval returns whole
// definitions; other files, and Python that does not parse or has no
// top-level definitions, fall back to overlapping text chunks. Empty
// content just removes the file from the index.
func (s *Store) ReindexFile(ctx context.Context, relPath, content string) error {
	if err := s.RemoveFile(ctx, relPath); err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(relPath), ".py") {
		nodes, err := pysrc.TopLevelNodes(ctx, content)
		if err != nil {
			s.log.Debug("falling back to text chunks for %s: %v", relPath, err)
		}
		if err == nil && len(nodes) > 0 {
			return s.indexNodes(ctx, relPath, nodes)
		}
	}
	for i, chunk := range ChunkText(content) {
		doc := chromem.Document{
			ID:      fmt.Sprintf("%s#%d", relPath, i),
			Content: chunk,
			Metadata: map[string]string{
				"file_path": relPath,
				"chunk":     fmt.Sprintf("%d", i),
			},
		}
		if err := s.col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("index %s chunk %d: %w", relPath, i, err)
		}
	}
	return nil
}

// indexNodes stores one document per definition. IDs are derived from the
// path, kind, and name, so re-adding a definition overwrites its previous
// embedding instead of accumulating duplicates.
func (s *Store) indexNodes(ctx context.Context, relPath string, nodes []pysrc.Node) error {
	for _, node := range nodes {
		doc := chromem.Document{
			ID:      fmt.Sprintf("%s-%s-%s", relPath, node.Kind, node.Name),
			Content: node.Source,
			Metadata: map[string]string{
				"file_path": relPath,
				"node_type": node.Kind,
				"node_name": node.Name,
			},
		}
		if err := s.col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("index %s %s %s: %w", relPath, node.Kind, node.Name, err)
		}
	}
	return nil
}

// RemoveFile drops every document stored for relPath.
func (s *Store) RemoveFile(ctx context.Context, relPath string) error {
	if s.col.Count() == 0 {
		return nil
	}
	if err := s.col.Delete(ctx, map[string]string{"file_path": relPath}, nil); err != nil {
		return fmt.Errorf("remove %s from index: %w", relPath, err)
	}
	return nil
}

// ReindexProject rebuilds the whole index from scratch. read returns the
// content of one relative path; files the reader fails on are skipped.
func (s *Store) ReindexProject(ctx context.Context, files []string, read func(string) (string, error)) error {
	if err := s.db.DeleteCollection(s.colName); err != nil {
		return fmt.Errorf("drop collection: %w", err)
	}
	if err := s.openCollection(); err != nil {
		return err
	}
	indexed := 0
	for _, relPath := range files {
		if !IsIndexable(relPath) {
			continue
		}
		content, err := read(relPath)
		if err != nil {
			s.log.Warn("skipping unreadable file %s during reindex: %v", relPath, err)
			continue
		}
		if err := s.ReindexFile(ctx, relPath, content); err != nil {
			return err
		}
		indexed++
	}
	s.log.Info("reindexed project: %d files, %d documents", indexed, s.col.Count())
	return nil
}

// Query retrieves up to k snippets relevant to text, most similar first.
// k values above the collection size are clamped; an empty index returns nil.
func (s *Store) Query(ctx context.Context, text string, k int) ([]Snippet, error) {
	count := s.col.Count()
	if count == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = QueryK
	}
	if k > count {
		k = count
	}
	results, err := s.col.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	snippets := make([]Snippet, 0, len(results))
	for _, res := range results {
		snippets = append(snippets, Snippet{
			Path:       res.Metadata["file_path"],
			Content:    res.Content,
			Similarity: res.Similarity,
		})
	}
	return snippets, nil
}

// Count reports the number of stored chunks.
func (s *Store) Count() int {
	return s.col.Count()
}
