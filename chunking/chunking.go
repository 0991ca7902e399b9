package chunking

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"regchat/extractor"
)

// Chunk is the unit of embedding and retrieval: a bounded-size window of an
// extracted document, carrying the document's metadata unchanged.
type Chunk struct {
	ID       string             `json:"id"`
	Text     string             `json:"text"`
	Index    int                `json:"chunk_index"`
	Metadata extractor.Metadata `json:"metadata"`
}

// Config holds configuration for text chunking.
type Config struct {
	MaxChunkSize    int  // Maximum characters per chunk
	OverlapSize     int  // Characters to overlap between consecutive chunks
	MinChunkSize    int  // Minimum characters for a split fragment
	SplitOnSentence bool // Prefer sentence boundaries when splitting
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize:    1000,
		OverlapSize:     200,
		MinChunkSize:    20,
		SplitOnSentence: true,
	}
}

// Fixed namespace so identical chunks always get the same ID, which keeps
// re-indexing idempotent in the vector store.
var chunkNamespace = uuid.MustParse("5955ff11-0749-4f38-9cf9-60495cbfadf6")

// SplitDocuments splits extracted documents into overlapping chunks.
// Splitting is deterministic: identical documents and config always yield
// the same chunk sequence, IDs included.
func SplitDocuments(docs []extractor.Document, cfg Config) []Chunk {
	var chunks []Chunk
	for _, doc := range docs {
		for i, text := range splitText(doc.Text, cfg) {
			chunks = append(chunks, Chunk{
				ID:       chunkID(doc.Metadata, i, text),
				Text:     text,
				Index:    i,
				Metadata: doc.Metadata,
			})
		}
	}
	return chunks
}

func chunkID(m extractor.Metadata, index int, text string) string {
	key := fmt.Sprintf("%s|%d|%d|%s", m.Section, m.StepIndex, index, text)
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

// splitText splits text into overlapping windows of at most MaxChunkSize
// characters. Text that fits in one window is returned as a single chunk.
func splitText(text string, cfg Config) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= cfg.MaxChunkSize {
		return []string{text}
	}

	var parts []string
	start := 0
	for start < len(text) {
		end := start + cfg.MaxChunkSize
		if end >= len(text) {
			end = len(text)
		} else {
			end = findBreakPoint(text, start, end, cfg)
			if end <= start {
				end = start + cfg.MaxChunkSize
			}
		}

		part := strings.TrimSpace(text[start:end])
		if len(part) >= cfg.MinChunkSize {
			parts = append(parts, part)
		}

		if end >= len(text) {
			break
		}
		next := end - cfg.OverlapSize
		if next <= start {
			next = end
		}
		start = next
	}
	return parts
}

// findBreakPoint looks back from maxEnd for a sentence or word boundary so
// windows do not cut words in half.
func findBreakPoint(text string, start, maxEnd int, cfg Config) int {
	searchStart := maxEnd - 200
	if searchStart < start {
		searchStart = start
	}

	if cfg.SplitOnSentence {
		sentenceEnders := []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}
		bestPos := -1
		for _, ender := range sentenceEnders {
			if pos := strings.LastIndex(text[searchStart:maxEnd], ender); pos != -1 {
				actualPos := searchStart + pos + len(ender)
				if actualPos > bestPos {
					bestPos = actualPos
				}
			}
		}
		if bestPos != -1 {
			return bestPos
		}
	}

	if pos := strings.LastIndex(text[searchStart:maxEnd], " "); pos != -1 {
		return searchStart + pos
	}
	return maxEnd
}
