package docs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/doctrove/doctrove/internal/observability"
	"github.com/doctrove/doctrove/internal/vector"
)

// ErrNoTexts is returned when a document is added without any chunks.
var ErrNoTexts = errors.New("no texts to add")

// Embedder converts texts into embedding vectors, length- and
// order-preserving. llm.Provider satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// DocFilter is an admission predicate evaluated against a document's
// fields before it is accepted into the collection.
type DocFilter func(*Doc) bool

// CollectionConfig configures a new Collection.
type CollectionConfig struct {
	// Name labels the collection (default "default").
	Name string
	// Index backs semantic retrieval (default in-memory store).
	Index vector.Store
	// Filters are admission predicates applied on every AddTexts.
	Filters []DocFilter
	Logger  *slog.Logger
}

// Collection owns documents and their chunks, enforces identity and
// admission invariants, and owns the semantic index. The index is
// populated lazily: AddTexts never touches it, the first retrieval
// syncs it.
type Collection struct {
	mu sync.RWMutex

	ID   uuid.UUID
	Name string

	docs     map[string]*Doc
	texts    []*Text
	byName   map[string]*Text
	docnames map[string]struct{}
	// deleted holds tombstoned dockeys: the index may still contain
	// their vectors, retrieval filters them out.
	deleted map[string]struct{}

	index   vector.Store
	filters []DocFilter
	logger  *slog.Logger
}

// NewCollection creates an empty collection.
func NewCollection(cfg *CollectionConfig) *Collection {
	if cfg == nil {
		cfg = &CollectionConfig{}
	}
	name := cfg.Name
	if name == "" {
		name = "default"
	}
	index := cfg.Index
	if index == nil {
		index = vector.NewMemory()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Collection{
		ID:       uuid.New(),
		Name:     name,
		docs:     make(map[string]*Doc),
		byName:   make(map[string]*Text),
		docnames: make(map[string]struct{}),
		deleted:  make(map[string]struct{}),
		index:    index,
		filters:  cfg.Filters,
		logger:   logger,
	}
}

// AddTextsOptions tunes one AddTexts call.
type AddTextsOptions struct {
	// Embedder, when set, assigns embeddings synchronously at ingestion
	// for chunks that lack them. When nil, embedding is deferred to the
	// first retrieval.
	Embedder Embedder
}

// AddTexts adds pre-chunked texts for a document. It fails closed:
// false without mutation when the dockey is already present or an
// admission filter rejects the document; ErrNoTexts when texts is
// empty. Docname collisions are resolved by suffixing, renaming the
// chunks to match. Returns true when the document was added.
func (c *Collection) AddTexts(ctx context.Context, texts []*Text, doc *Doc, opts *AddTextsOptions) (bool, error) {
	if opts == nil {
		opts = &AddTextsOptions{}
	}

	c.mu.RLock()
	_, exists := c.docs[doc.Dockey]
	c.mu.RUnlock()
	if exists {
		return false, nil
	}
	if len(texts) == 0 {
		return false, ErrNoTexts
	}
	for _, filter := range c.filters {
		if !filter(doc) {
			return false, nil
		}
	}

	// Embed before taking the write lock: admission is already decided
	// and the embedding call may block on the network.
	if opts.Embedder != nil && texts[0].Embedding == nil {
		contents := make([]string, len(texts))
		for i, t := range texts {
			contents[i] = t.Text
		}
		vectors, err := opts.Embedder.Embed(ctx, contents)
		if err != nil {
			return false, fmt.Errorf("embedding texts: %w", err)
		}
		if len(vectors) != len(texts) {
			return false, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(texts))
		}
		for i, t := range texts {
			t.Embedding = vectors[i]
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check under the lock; a concurrent add may have won.
	if _, ok := c.docs[doc.Dockey]; ok {
		return false, nil
	}

	if _, taken := c.docnames[doc.Docname]; taken {
		renamed := uniqueName(doc.Docname, c.docnames)
		for _, t := range texts {
			t.Name = strings.Replace(t.Name, doc.Docname, renamed, 1)
		}
		doc.Docname = renamed
	}

	if doc.Docname == "" || doc.Dockey == "" {
		return false, nil
	}

	c.docs[doc.Dockey] = doc
	c.texts = append(c.texts, texts...)
	for _, t := range texts {
		c.byName[t.Name] = t
	}
	c.docnames[doc.Docname] = struct{}{}
	// Re-ingestion of a previously deleted document revives the key;
	// leaving the tombstone would suppress the new chunks at retrieval.
	delete(c.deleted, doc.Dockey)
	return true, nil
}

// Delete removes the document with the given dockey and its chunks,
// and tombstones the key. The semantic index is not rebuilt; stale
// vectors are filtered out of search results instead.
func (c *Collection) Delete(dockey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteLocked(dockey)
}

// DeleteByName is Delete keyed by docname.
func (c *Collection) DeleteByName(docname string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, doc := range c.docs {
		if doc.Docname == docname {
			c.deleteLocked(key)
			return
		}
	}
}

func (c *Collection) deleteLocked(dockey string) {
	doc, ok := c.docs[dockey]
	if !ok {
		return
	}
	observability.Audit().LogDocDelete(context.Background(), c.ID.String(), doc.Docname, dockey)
	delete(c.docs, dockey)
	delete(c.docnames, doc.Docname)
	c.deleted[dockey] = struct{}{}

	kept := c.texts[:0]
	for _, t := range c.texts {
		if t.Doc.Dockey == dockey {
			delete(c.byName, t.Name)
			continue
		}
		kept = append(kept, t)
	}
	c.texts = kept
}

// Clear resets documents, chunks, names, and the index. Tombstones are
// kept; they are harmless against an empty index.
func (c *Collection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	observability.Audit().LogClear(context.Background(), c.ID.String(), len(c.docs))
	c.docs = make(map[string]*Doc)
	c.texts = nil
	c.byName = make(map[string]*Text)
	c.docnames = make(map[string]struct{})
	c.index.Clear()
}

// Docs returns the live documents sorted by docname.
func (c *Collection) Docs() []*Doc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Doc, 0, len(c.docs))
	for _, d := range c.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Docname < out[j].Docname })
	return out
}

// Len reports the number of documents.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Texts returns the chunks in insertion order.
func (c *Collection) Texts() []*Text {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Text, len(c.texts))
	copy(out, c.texts)
	return out
}

// Doc returns the document for a dockey.
func (c *Collection) Doc(dockey string) (*Doc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[dockey]
	return doc, ok
}

// syncIndex brings the semantic index up to date: chunks not yet
// indexed get their missing embeddings computed, then are added.
// Idempotent by chunk name; concurrent calls may duplicate embedding
// work but cannot corrupt the index.
func (c *Collection) syncIndex(ctx context.Context, embedder Embedder) error {
	c.mu.RLock()
	var pending []*Text
	for _, t := range c.texts {
		if !c.index.Has(t.Name) {
			pending = append(pending, t)
		}
	}
	c.mu.RUnlock()

	if len(pending) == 0 {
		return nil
	}

	var toEmbed []*Text
	for _, t := range pending {
		if t.Embedding == nil {
			toEmbed = append(toEmbed, t)
		}
	}
	if len(toEmbed) > 0 {
		if embedder == nil {
			return errors.New("index sync: embedder required for deferred embeddings")
		}
		contents := make([]string, len(toEmbed))
		for i, t := range toEmbed {
			contents[i] = t.Text
		}
		vectors, err := embedder.Embed(ctx, contents)
		if err != nil {
			return fmt.Errorf("index sync: %w", err)
		}
		if len(vectors) != len(toEmbed) {
			return fmt.Errorf("index sync: embedding count mismatch: got %d, want %d", len(vectors), len(toEmbed))
		}
		c.mu.Lock()
		for i, t := range toEmbed {
			if t.Embedding == nil {
				t.Embedding = vectors[i]
			}
		}
		c.mu.Unlock()
	}

	entries := make([]vector.Entry, len(pending))
	for i, t := range pending {
		entries[i] = vector.Entry{
			Name:    t.Name,
			Vector:  t.Embedding,
			Payload: map[string]string{"dockey": t.Doc.Dockey},
		}
	}
	return c.index.Add(ctx, entries)
}

// RetrieveOptions tunes retrieval.
type RetrieveOptions struct {
	// MMRLambda trades relevance against diversity in [0,1];
	// 1 is pure relevance. Default 0.9.
	MMRLambda float32
}

// DefaultMMRLambda is used when RetrieveOptions leaves MMRLambda zero.
const DefaultMMRLambda = 0.9

// RetrieveTexts performs MMR search with the query over the index,
// syncing it first. It over-fetches by the tombstone count so that
// after filtering deleted documents up to k genuine results remain.
func (c *Collection) RetrieveTexts(ctx context.Context, query string, k int, embedder Embedder, opts *RetrieveOptions) ([]*Text, error) {
	lambda := float32(DefaultMMRLambda)
	if opts != nil && opts.MMRLambda > 0 {
		lambda = opts.MMRLambda
	}

	if err := c.syncIndex(ctx, embedder); err != nil {
		return nil, err
	}

	if embedder == nil {
		return nil, errors.New("retrieve: embedder required")
	}
	qvecs, err := embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieve: embedding query: %w", err)
	}
	if len(qvecs) != 1 {
		return nil, fmt.Errorf("retrieve: expected 1 query vector, got %d", len(qvecs))
	}

	c.mu.RLock()
	fetch := k + len(c.deleted)
	c.mu.RUnlock()

	entries, _, err := c.index.MMRSearch(ctx, qvecs[0], fetch, 2*fetch, lambda)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	matches := make([]*Text, 0, k)
	for _, e := range entries {
		if len(matches) == k {
			break
		}
		if _, gone := c.deleted[e.Payload["dockey"]]; gone {
			continue
		}
		t, live := c.byName[e.Name]
		if !live {
			continue
		}
		matches = append(matches, t)
	}
	return matches, nil
}
