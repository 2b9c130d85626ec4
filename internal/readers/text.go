// Package readers splits source documents into chunks for ingestion.
package readers

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/doctrove/doctrove/internal/docs"
)

// Chunking defaults, in characters.
const (
	DefaultChunkSize = 3000
	DefaultOverlap   = 100
)

// TextReader chunks plain text by size with overlap. Chunk boundaries
// prefer the last newline inside the window, then the last space, so
// words are not split mid-token.
type TextReader struct {
	// ChunkSize is the maximum chunk length in characters (default 3000).
	ChunkSize int
	// Overlap is how many trailing characters of one chunk reopen the
	// next (default 100).
	Overlap int
}

func (r *TextReader) Chunk(data []byte) ([]docs.Chunk, error) {
	size := r.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	overlap := r.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		return nil, fmt.Errorf("text reader: overlap %d must be smaller than chunk size %d", overlap, size)
	}

	text := string(bytes.ToValidUTF8(data, []byte("�")))
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	var chunks []docs.Chunk
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, docs.Chunk{Text: string(runes[start:])})
			break
		}
		cut := breakPoint(runes[start:end])
		chunks = append(chunks, docs.Chunk{Text: string(runes[start : start+cut])})
		next := start + cut - overlap
		if next <= start {
			next = start + cut
		}
		start = next
	}
	return chunks, nil
}

// breakPoint finds where to cut a full window: the last newline in its
// second half, else the last space, else the window end.
func breakPoint(window []rune) int {
	half := len(window) / 2
	for i := len(window) - 1; i > half; i-- {
		if window[i] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 1; i > half; i-- {
		if window[i] == ' ' {
			return i + 1
		}
	}
	return len(window)
}

// ForPath returns the reader for a source path by extension. Plain
// text is the fallback for unknown extensions; binary formats that
// need a dedicated parser are rejected.
func ForPath(path string, chunkSize, overlap int) (docs.Reader, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return nil, fmt.Errorf("readers: no PDF parser available for %s", path)
	default:
		return &TextReader{ChunkSize: chunkSize, Overlap: overlap}, nil
	}
}
