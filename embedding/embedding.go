package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"regchat/security"
)

// Embedder converts texts into vectors. The vector index and the answer
// pipeline depend on this interface so tests can inject deterministic fakes.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds configuration for embedding generation.
type Config struct {
	Model          string        // Gemini embedding model
	BatchSize      int           // Texts per EmbedContent call
	MaxConcurrency int           // Batches processed in parallel
	RequestTimeout time.Duration // Timeout per API call
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Model:          "text-embedding-004",
		BatchSize:      32,
		MaxConcurrency: 4,
		RequestTimeout: 30 * time.Second,
	}
}

// GeminiEmbedder calls the Google Gemini embedding API.
type GeminiEmbedder struct {
	client *genai.Client
	config Config
}

// NewGeminiEmbedder creates an embedder on top of an existing genai client.
func NewGeminiEmbedder(client *genai.Client, cfg Config) *GeminiEmbedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	return &GeminiEmbedder{client: client, config: cfg}
}

// Embed generates one vector per text, preserving input order. Batches are
// embedded in parallel up to MaxConcurrency; any API failure aborts the
// whole call with ErrEmbeddingFailed, leaving the caller to decide whether
// to retry or serve without retrieval.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	semaphore := make(chan struct{}, e.config.MaxConcurrency)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		wg.Add(1)
		go func(offset int, batch []string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			vecs, err := e.embedBatch(ctx, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			copy(vectors[offset:], vecs)
		}(start, texts[start:end])
	}
	wg.Wait()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	log.Debug().Int("texts", len(texts)).Str("model", e.config.Model).Msg("embedded texts")
	return vectors, nil
}

func (e *GeminiEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(batch))
	for i, text := range batch {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	cctx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	resp, err := e.client.Models.EmbedContent(cctx, e.config.Model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", security.ErrEmbeddingFailed, err)
	}
	if len(resp.Embeddings) != len(batch) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			security.ErrEmbeddingFailed, len(resp.Embeddings), len(batch))
	}

	vecs := make([][]float32, len(batch))
	for i, em := range resp.Embeddings {
		if em == nil || len(em.Values) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", security.ErrEmbeddingFailed, i)
		}
		vecs[i] = em.Values
	}
	return vecs, nil
}
