package vectordb

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"regchat/chunking"
	"regchat/embedding"
	"regchat/extractor"
)

// Config holds configuration for the vector index.
type Config struct {
	Path       string // Directory holding persisted collections
	Collection string // Collection name, one per embedding corpus
	InMemory   bool   // Skip persistence (tests)

	// RebuildOnStart drops any persisted collection at open time so the
	// next build re-embeds everything. When false, a non-empty persisted
	// collection is reused without recomputing embeddings.
	RebuildOnStart bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:       "./index",
		Collection: "registration_guide",
	}
}

// Index stores chunk vectors plus metadata and answers nearest-neighbor
// queries by cosine similarity. Collections persist under Config.Path, so a
// process restart reloads vectors without recomputing embeddings.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   embedding.Embedder
	config     Config
}

// Result is one retrieved chunk with its similarity score.
type Result struct {
	Chunk chunking.Chunk
	Score float32
}

// Open opens (or creates) the index described by cfg. The embedder is used
// both for indexing and for query vectors.
func Open(cfg Config, embedder embedding.Embedder) (*Index, error) {
	var db *chromem.DB
	var err error
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector index at %s: %w", cfg.Path, err)
		}
	}

	if cfg.RebuildOnStart {
		// Ignore "not found": there is nothing to drop on first run.
		_ = db.DeleteCollection(cfg.Collection)
	}

	embedFn := func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := embedder.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return vecs[0], nil
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", cfg.Collection, err)
	}

	return &Index{
		db:         db,
		collection: collection,
		embedder:   embedder,
		config:     cfg,
	}, nil
}

// Count returns the number of indexed chunks.
func (ix *Index) Count() int {
	return ix.collection.Count()
}

// Add embeds the chunks in bulk and stores them. Entries are immutable once
// written; identical chunk IDs overwrite rather than duplicate, so rebuilds
// from the same source are idempotent. An embedding failure aborts the whole
// batch and nothing is stored.
func (ix *Index) Add(ctx context.Context, chunks []chunking.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Text,
			Embedding: vectors[i],
			Metadata:  encodeMetadata(c),
		}
	}

	if err := ix.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}

	log.Info().
		Int("chunks", len(chunks)).
		Str("collection", ix.config.Collection).
		Msg("indexed chunks")
	return nil
}

// Search returns the topK chunks closest to the query, ranked by cosine
// similarity. topK is clamped to the collection size; an empty collection
// yields no results and no error.
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	count := ix.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > count {
		topK = count
	}

	hits, err := ix.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]Result, len(hits))
	for i, hit := range hits {
		results[i] = Result{
			Chunk: chunking.Chunk{
				ID:       hit.ID,
				Text:     hit.Content,
				Metadata: decodeMetadata(hit.Metadata),
				Index:    atoi(hit.Metadata["chunk_index"]),
			},
			Score: hit.Similarity,
		}
	}
	return results, nil
}

// Drop removes the collection and all persisted vectors.
func (ix *Index) Drop() error {
	return ix.db.DeleteCollection(ix.config.Collection)
}

func encodeMetadata(c chunking.Chunk) map[string]string {
	m := map[string]string{
		"section":     c.Metadata.Section,
		"step_index":  strconv.Itoa(c.Metadata.StepIndex),
		"step_title":  c.Metadata.StepTitle,
		"chunk_index": strconv.Itoa(c.Index),
	}
	if c.Metadata.ImageURL != "" {
		m["image_url"] = c.Metadata.ImageURL
	}
	return m
}

func decodeMetadata(m map[string]string) extractor.Metadata {
	return extractor.Metadata{
		Section:   m["section"],
		StepIndex: atoi(m["step_index"]),
		StepTitle: m["step_title"],
		ImageURL:  m["image_url"],
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
