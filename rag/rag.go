package rag

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"regchat/chunking"
	"regchat/extractor"
	"regchat/vectordb"
)

// Config holds configuration for the answer pipeline.
type Config struct {
	TopK           int           // Chunks retrieved per query
	RequestTimeout time.Duration // Timeout for the generation call

	// StockReply is served when retrieval is disabled or finds nothing.
	StockReply string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TopK:           3,
		RequestTimeout: 60 * time.Second,
		StockReply:     "I couldn't find any relevant information to answer your question.",
	}
}

// Generator produces text from a prompt. Implemented by GeminiGenerator and
// by test fakes.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Image is a visual guide attached to an answer.
type Image struct {
	URL     string `json:"url"`
	Step    string `json:"step"`
	Section string `json:"section"`
}

// Answer is the composed response for one query: the model text verbatim
// plus the deduplicated visual guides gathered from the retrieved chunks.
type Answer struct {
	Text   string  `json:"text_response"`
	Images []Image `json:"images"`
}

// Pipeline wires the four stages of the system: extraction, chunking,
// embedding (via the index) and answer composition. There is a single
// concrete pipeline; stages vary through the injected index and generator.
type Pipeline struct {
	index     *vectordb.Index
	generator Generator
	chunkCfg  chunking.Config
	config    Config
}

// NewPipeline assembles a pipeline from its stages.
func NewPipeline(index *vectordb.Index, generator Generator, chunkCfg chunking.Config, cfg Config) *Pipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	if cfg.StockReply == "" {
		cfg.StockReply = DefaultConfig().StockReply
	}
	return &Pipeline{
		index:     index,
		generator: generator,
		chunkCfg:  chunkCfg,
		config:    cfg,
	}
}

// IndexHTML extracts, chunks, embeds and indexes an HTML guide. A page with
// no extractable sections returns ErrNoContentExtracted; the index is left
// untouched and the pipeline keeps serving stock replies.
func (p *Pipeline) IndexHTML(ctx context.Context, r io.Reader) (int, error) {
	docs, err := extractor.FromHTML(r)
	if err != nil {
		return 0, err
	}
	return p.indexDocuments(ctx, docs)
}

// IndexPDF extracts, chunks, embeds and indexes a PDF manual.
func (p *Pipeline) IndexPDF(ctx context.Context, r io.Reader, source string) (int, error) {
	docs, err := extractor.FromPDF(r, source)
	if err != nil {
		return 0, err
	}
	return p.indexDocuments(ctx, docs)
}

func (p *Pipeline) indexDocuments(ctx context.Context, docs []extractor.Document) (int, error) {
	chunks := chunking.SplitDocuments(docs, p.chunkCfg)
	if err := p.index.Add(ctx, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Retrievable reports whether the index holds anything to retrieve.
func (p *Pipeline) Retrievable() bool {
	return p.index.Count() > 0
}

// Answer retrieves the TopK chunks closest to the query, assembles the
// prompt, and calls the generation model. The model text is returned
// verbatim; image metadata from the retrieved chunks is deduplicated by URL
// in first-seen order. Generation failures surface as ErrGenerationFailed
// and are not retried.
func (p *Pipeline) Answer(ctx context.Context, query string) (*Answer, error) {
	if !p.Retrievable() {
		return &Answer{Text: p.config.StockReply, Images: []Image{}}, nil
	}

	results, err := p.index.Search(ctx, query, p.config.TopK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &Answer{Text: p.config.StockReply, Images: []Image{}}, nil
	}

	if p.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.RequestTimeout)
		defer cancel()
	}

	text, err := p.generator.Generate(ctx, buildPrompt(query, results))
	if err != nil {
		return nil, err
	}

	log.Debug().Int("sources", len(results)).Msg("composed answer")
	return &Answer{
		Text:   text,
		Images: collectImages(results),
	}, nil
}

const promptTemplate = `You are a helpful assistant for the vehicle registration process.
Use the following retrieved information to answer the user's question.
If the information contains references to images, mention that visual guides are available and describe them.

Retrieved information:
%s

User question: %s

Instructions:
1. Answer specifically based on the retrieved information
2. If steps are involved, list them in order
3. Mention when visual guides are available
4. Be concise but thorough

Answer:`

// buildPrompt embeds the retrieved chunk text and the user query into the
// fixed prompt template.
func buildPrompt(query string, results []vectordb.Result) string {
	var ctx strings.Builder
	for i, r := range results {
		if i > 0 {
			ctx.WriteString("\n---\n")
		}
		fmt.Fprintf(&ctx, "[Source %d - %s]\n%s\n", i+1, r.Chunk.Metadata.Section, r.Chunk.Text)
	}
	return fmt.Sprintf(promptTemplate, ctx.String(), query)
}

// collectImages gathers image metadata from retrieved chunks, keeping each
// URL exactly once in first-occurrence order.
func collectImages(results []vectordb.Result) []Image {
	images := []Image{}
	seen := make(map[string]bool)
	for _, r := range results {
		url := r.Chunk.Metadata.ImageURL
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		images = append(images, Image{
			URL:     url,
			Step:    r.Chunk.Metadata.StepTitle,
			Section: r.Chunk.Metadata.Section,
		})
	}
	return images
}
