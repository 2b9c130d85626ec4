package readers

import (
	"strings"
	"testing"

	"github.com/doctrove/doctrove/internal/docs"
)

func TestTextReader_SmallInput(t *testing.T) {
	r := &TextReader{}
	chunks, err := r.Chunk([]byte("a short document"))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "a short document" {
		t.Errorf("chunk = %q", chunks[0].Text)
	}
}

func TestTextReader_Whitespace(t *testing.T) {
	r := &TextReader{}
	chunks, err := r.Chunk([]byte("   \n\t  \n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("whitespace-only input produced %d chunks", len(chunks))
	}
}

func TestTextReader_ChunkingAndOverlap(t *testing.T) {
	r := &TextReader{ChunkSize: 100, Overlap: 20}

	var sb strings.Builder
	for i := 0; i < 60; i++ {
		sb.WriteString("word ")
	}
	text := sb.String() // 300 chars

	chunks, err := r.Chunk([]byte(text))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want at least 3", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch.Text) > 100 {
			t.Errorf("chunk %d length %d exceeds 100", i, len(ch.Text))
		}
	}
	// Consecutive chunks share overlapping text.
	tail := chunks[0].Text[len(chunks[0].Text)-10:]
	if !strings.Contains(chunks[1].Text, tail) {
		t.Errorf("chunk 1 does not overlap chunk 0: tail=%q head=%q", tail, chunks[1].Text[:20])
	}
	// Every input character appears in some chunk.
	joined := strings.Join(chunkTexts(chunks), "")
	if len(joined) < len(text) {
		t.Errorf("chunks cover %d chars, input has %d", len(joined), len(text))
	}
}

func TestTextReader_PrefersNewlineBoundary(t *testing.T) {
	r := &TextReader{ChunkSize: 50, Overlap: 0}

	line := strings.Repeat("x", 30)
	text := line + "\n" + line + "\n" + line
	chunks, err := r.Chunk([]byte(text))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(chunks[0].Text, "\n") {
		t.Errorf("chunk 0 does not end on a newline: %q", chunks[0].Text)
	}
}

func TestTextReader_OverlapTooLarge(t *testing.T) {
	r := &TextReader{ChunkSize: 10, Overlap: 10}
	if _, err := r.Chunk([]byte("some text")); err == nil {
		t.Error("expected error when overlap >= chunk size")
	}
}

func TestTextReader_InvalidUTF8(t *testing.T) {
	r := &TextReader{}
	chunks, err := r.Chunk([]byte{'o', 'k', 0xff, 0xfe, 'a', 'b'})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "ok") {
		t.Errorf("valid bytes lost: %q", chunks[0].Text)
	}
}

func TestForPath(t *testing.T) {
	if _, err := ForPath("paper.pdf", 0, 0); err == nil {
		t.Error("expected error for pdf without a parser")
	}
	r, err := ForPath("notes.md", 500, 50)
	if err != nil {
		t.Fatal(err)
	}
	tr, ok := r.(*TextReader)
	if !ok {
		t.Fatalf("ForPath returned %T, want *TextReader", r)
	}
	if tr.ChunkSize != 500 || tr.Overlap != 50 {
		t.Errorf("sizing not forwarded: %+v", tr)
	}
}

func chunkTexts(chunks []docs.Chunk) []string {
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}
	return out
}
