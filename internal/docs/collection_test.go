package docs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/doctrove/doctrove/internal/observability"
)

// stubEmbedder maps chunk text to fixed vectors.
type stubEmbedder struct {
	mu    sync.Mutex
	vecs  map[string][]float32
	calls int
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := s.vecs[t]
		if !ok {
			return nil, fmt.Errorf("no stub vector for %q", t)
		}
		out[i] = v
	}
	return out, nil
}

func testDoc(name, content string) (*Doc, []*Text) {
	doc := &Doc{
		Docname:  name,
		Dockey:   Dockey([]byte(content)),
		Citation: name + ", 2024.",
	}
	texts := []*Text{{
		Name: name + " chunk 1",
		Text: content,
		Doc:  doc,
	}}
	return doc, texts
}

func TestAddTexts_DuplicateKey(t *testing.T) {
	c := NewCollection(nil)
	ctx := context.Background()

	doc, texts := testDoc("Smith2024", "the content")
	added, err := c.AddTexts(ctx, texts, doc, nil)
	if err != nil || !added {
		t.Fatalf("first add: added=%v err=%v", added, err)
	}

	// Same content under a different name: same dockey, rejected.
	dup, dupTexts := testDoc("Other2024", "the content")
	added, err = c.AddTexts(ctx, dupTexts, dup, nil)
	if err != nil {
		t.Fatalf("duplicate add returned error: %v", err)
	}
	if added {
		t.Error("duplicate dockey was added")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestAddTexts_Empty(t *testing.T) {
	c := NewCollection(nil)
	doc := &Doc{Docname: "Empty2024", Dockey: "k1"}
	_, err := c.AddTexts(context.Background(), nil, doc, nil)
	if !errors.Is(err, ErrNoTexts) {
		t.Errorf("err = %v, want ErrNoTexts", err)
	}
	if c.Len() != 0 {
		t.Error("failed add mutated the collection")
	}
}

func TestAddTexts_FilterRejection(t *testing.T) {
	c := NewCollection(&CollectionConfig{
		Filters: []DocFilter{func(d *Doc) bool { return d.Year >= 2020 }},
	})
	ctx := context.Background()

	old := &Doc{Docname: "Old1999", Dockey: "k-old", Year: 1999}
	added, err := c.AddTexts(ctx, []*Text{{Name: "Old1999 chunk 1", Text: "x", Doc: old}}, old, nil)
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Error("filtered document was added")
	}

	recent := &Doc{Docname: "New2024", Dockey: "k-new", Year: 2024}
	added, err = c.AddTexts(ctx, []*Text{{Name: "New2024 chunk 1", Text: "y", Doc: recent}}, recent, nil)
	if err != nil || !added {
		t.Fatalf("passing document rejected: added=%v err=%v", added, err)
	}
}

func TestAddTexts_DocnameCollision(t *testing.T) {
	c := NewCollection(nil)
	ctx := context.Background()

	first, firstTexts := testDoc("Smith2024", "first paper")
	if _, err := c.AddTexts(ctx, firstTexts, first, nil); err != nil {
		t.Fatal(err)
	}

	second, secondTexts := testDoc("Smith2024", "second paper")
	added, err := c.AddTexts(ctx, secondTexts, second, nil)
	if err != nil || !added {
		t.Fatalf("added=%v err=%v", added, err)
	}
	if second.Docname != "Smith2024a" {
		t.Errorf("renamed docname = %q, want Smith2024a", second.Docname)
	}
	if secondTexts[0].Name != "Smith2024a chunk 1" {
		t.Errorf("chunk renamed to %q, want Smith2024a chunk 1", secondTexts[0].Name)
	}
	// The first document keeps its name.
	if first.Docname != "Smith2024" {
		t.Errorf("first docname changed to %q", first.Docname)
	}
}

func TestAddTexts_SynchronousEmbedding(t *testing.T) {
	emb := &stubEmbedder{vecs: map[string][]float32{"the content": {1, 0}}}
	c := NewCollection(nil)

	doc, texts := testDoc("Smith2024", "the content")
	added, err := c.AddTexts(context.Background(), texts, doc, &AddTextsOptions{Embedder: emb})
	if err != nil || !added {
		t.Fatalf("added=%v err=%v", added, err)
	}
	if texts[0].Embedding == nil {
		t.Error("embedding not assigned at ingestion")
	}
	if emb.calls != 1 {
		t.Errorf("embedder calls = %d, want 1", emb.calls)
	}
}

func TestRetrieveTexts_LazyIndex(t *testing.T) {
	emb := &stubEmbedder{vecs: map[string][]float32{
		"alpha text": {1, 0},
		"beta text":  {0, 1},
		"alpha":      {1, 0},
	}}
	c := NewCollection(nil)
	ctx := context.Background()

	docA, textsA := testDoc("Alpha2024", "alpha text")
	docB, textsB := testDoc("Beta2024", "beta text")
	for _, add := range []struct {
		doc   *Doc
		texts []*Text
	}{{docA, textsA}, {docB, textsB}} {
		if _, err := c.AddTexts(ctx, add.texts, add.doc, nil); err != nil {
			t.Fatal(err)
		}
	}
	// Ingestion without an embedder must not touch the embedder.
	if emb.calls != 0 {
		t.Fatalf("embedder called during deferred ingestion: %d", emb.calls)
	}

	got, err := c.RetrieveTexts(ctx, "alpha", 1, emb, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "Alpha2024 chunk 1" {
		t.Fatalf("retrieved %v, want [Alpha2024 chunk 1]", names(got))
	}

	// A second retrieval must not re-embed the indexed chunks.
	callsAfterFirst := emb.calls
	if _, err := c.RetrieveTexts(ctx, "alpha", 1, emb, nil); err != nil {
		t.Fatal(err)
	}
	// One additional call for the query embedding only.
	if emb.calls != callsAfterFirst+1 {
		t.Errorf("embedder calls went %d -> %d, want +1 for the query", callsAfterFirst, emb.calls)
	}
}

func TestDelete_TombstoneFiltering(t *testing.T) {
	emb := &stubEmbedder{vecs: map[string][]float32{
		"alpha text": {1, 0},
		"beta text":  {0.9, 0.1},
		"alpha":      {1, 0},
	}}
	c := NewCollection(nil)
	ctx := context.Background()

	docA, textsA := testDoc("Alpha2024", "alpha text")
	docB, textsB := testDoc("Beta2024", "beta text")
	if _, err := c.AddTexts(ctx, textsA, docA, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AddTexts(ctx, textsB, docB, nil); err != nil {
		t.Fatal(err)
	}

	// Build the index, then tombstone Alpha. The index is not rebuilt.
	if _, err := c.RetrieveTexts(ctx, "alpha", 2, emb, nil); err != nil {
		t.Fatal(err)
	}
	c.Delete(docA.Dockey)
	if c.Len() != 1 {
		t.Fatalf("Len() after delete = %d, want 1", c.Len())
	}

	got, err := c.RetrieveTexts(ctx, "alpha", 1, emb, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Doc.Dockey != docB.Dockey {
		t.Errorf("retrieved %v, want only Beta2024's chunk", names(got))
	}
}

func TestDelete_ThenReingest(t *testing.T) {
	emb := &stubEmbedder{vecs: map[string][]float32{
		"alpha text": {1, 0},
		"alpha":      {1, 0},
	}}
	c := NewCollection(nil)
	ctx := context.Background()

	docA, textsA := testDoc("Alpha2024", "alpha text")
	if _, err := c.AddTexts(ctx, textsA, docA, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RetrieveTexts(ctx, "alpha", 1, emb, nil); err != nil {
		t.Fatal(err)
	}

	c.Delete(docA.Dockey)

	// Same content again: the tombstone must not suppress it.
	docA2, textsA2 := testDoc("Alpha2024", "alpha text")
	added, err := c.AddTexts(ctx, textsA2, docA2, nil)
	if err != nil || !added {
		t.Fatalf("re-ingestion: added=%v err=%v", added, err)
	}

	got, err := c.RetrieveTexts(ctx, "alpha", 1, emb, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("retrieved %d chunks after re-ingestion, want 1", len(got))
	}
}

func TestDeleteByName(t *testing.T) {
	c := NewCollection(nil)
	ctx := context.Background()

	doc, texts := testDoc("Gone2024", "gone text")
	if _, err := c.AddTexts(ctx, texts, doc, nil); err != nil {
		t.Fatal(err)
	}
	c.DeleteByName("Gone2024")
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
	if _, ok := c.Doc(doc.Dockey); ok {
		t.Error("deleted document still resolvable by dockey")
	}
}

func TestClear(t *testing.T) {
	c := NewCollection(nil)
	ctx := context.Background()
	doc, texts := testDoc("Smith2024", "the content")
	if _, err := c.AddTexts(ctx, texts, doc, nil); err != nil {
		t.Fatal(err)
	}
	c.Clear()
	if c.Len() != 0 || len(c.Texts()) != 0 {
		t.Error("Clear left residual state")
	}
	// The name is free again.
	again, againTexts := testDoc("Smith2024", "the content")
	added, err := c.AddTexts(ctx, againTexts, again, nil)
	if err != nil || !added {
		t.Fatalf("re-add after Clear: added=%v err=%v", added, err)
	}
	if again.Docname != "Smith2024" {
		t.Errorf("docname after Clear = %q, want Smith2024", again.Docname)
	}
}

func names(texts []*Text) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = t.Name
	}
	return out
}

func TestDelete_AuditTrail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	if err := observability.InitGlobalAuditLogger(&observability.AuditConfig{
		Enabled:    true,
		OutputPath: path,
	}); err != nil {
		t.Fatal(err)
	}

	c := NewCollection(nil)
	ctx := context.Background()
	doc, texts := testDoc("Smith2024", "the content")
	if _, err := c.AddTexts(ctx, texts, doc, nil); err != nil {
		t.Fatal(err)
	}
	c.Delete(doc.Dockey)
	if err := observability.Audit().Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	trail := string(data)
	if !strings.Contains(trail, `"event_type":"doc.delete"`) {
		t.Errorf("audit trail missing delete event: %s", trail)
	}
	if !strings.Contains(trail, c.ID.String()) {
		t.Errorf("audit trail missing collection id %s: %s", c.ID, trail)
	}
	if !strings.Contains(trail, "Smith2024") {
		t.Errorf("audit trail missing docname: %s", trail)
	}
}
