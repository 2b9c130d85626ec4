package docs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/doctrove/doctrove/internal/llm"
	"github.com/doctrove/doctrove/internal/observability"
)

// ErrEmptyDocument is returned when a source yields no readable text.
var ErrEmptyDocument = errors.New("document is empty")

// Chunk is one span of document text produced by a Reader. Pages is
// the inclusive page range, zero for unpaged sources.
type Chunk struct {
	Text  string
	Pages [2]int
}

// Reader splits raw document bytes into chunks. internal/readers
// provides implementations per source format.
type Reader interface {
	Chunk(data []byte) ([]Chunk, error)
}

// MetadataProvider enriches a document's bibliographic fields from an
// external registry. Missing matches are not errors; Enrich leaves the
// document untouched when nothing is found.
type MetadataProvider interface {
	Enrich(ctx context.Context, doc *Doc) error
}

// AddOptions tunes one Add call. Zero-value fields are inferred: the
// citation by a generation call, the docname from the citation, the
// dockey from the content hash.
type AddOptions struct {
	Docname  string
	Dockey   string
	Citation string
	Title    string
	DOI      string
	Authors  []string

	// Reader chunks the source (required).
	Reader Reader
	// Provider performs citation inference; nil skips it.
	Provider       llm.Provider
	RequestOptions *llm.RequestOptions
	Prompts        *PromptConfig
	// Embedder, when set, embeds chunks at ingestion.
	Embedder Embedder
	// Metadata, when set, enriches the document after citation
	// inference. Enrichment failures are logged, never fatal.
	Metadata MetadataProvider
	// HTTPClient is used by AddURL; nil means http.DefaultClient.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Add ingests one document from r. The source string labels the
// document (usually a file path) and seeds the citation fallback.
// Returns the final docname and whether the document was added; an
// already-present dockey returns ("", false, nil).
func (c *Collection) Add(ctx context.Context, r io.Reader, source string, opts *AddOptions) (string, bool, error) {
	if opts == nil || opts.Reader == nil {
		return "", false, fmt.Errorf("add: reader required")
	}
	prompts := opts.Prompts
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	logger := opts.Logger
	if logger == nil {
		logger = c.logger
	}

	ctx, span := observability.StartIngestSpan(ctx, source)
	defer span.End()
	start := time.Now()

	data, err := io.ReadAll(r)
	if err != nil {
		observability.RecordError(span, err)
		return "", false, fmt.Errorf("add: reading %s: %w", source, err)
	}
	if len(data) == 0 {
		return "", false, fmt.Errorf("add %s: %w", source, ErrEmptyDocument)
	}

	dockey := opts.Dockey
	if dockey == "" {
		dockey = Dockey(data)
	}
	if _, exists := c.Doc(dockey); exists {
		observability.RecordIngestResult(span, false, "", 0)
		observability.Metrics().RecordIngest(time.Since(start), false, 0)
		observability.Audit().LogIngestSkip(ctx, c.ID.String(), source, "duplicate content")
		return "", false, nil
	}

	chunks, err := opts.Reader.Chunk(data)
	if err != nil {
		observability.RecordError(span, err)
		return "", false, fmt.Errorf("add: chunking %s: %w", source, err)
	}
	if len(chunks) == 0 {
		return "", false, fmt.Errorf("add %s: %w", source, ErrEmptyDocument)
	}

	citation := opts.Citation
	if citation == "" && opts.Provider != nil {
		citation = c.inferCitation(ctx, chunks[0].Text, opts, prompts, logger)
	}
	if citation == "" || len(citation) < 3 ||
		strings.Contains(citation, "Unknown") || strings.Contains(citation, "insufficient") {
		citation = fmt.Sprintf("Unknown, %s, %d", filepath.Base(source), time.Now().Year())
	}

	docname := opts.Docname
	if docname == "" {
		docname = CitationToDocname(citation)
	}

	doc := &Doc{
		Docname:  docname,
		Dockey:   dockey,
		Citation: citation,
		Title:    opts.Title,
		DOI:      opts.DOI,
		Authors:  opts.Authors,
	}

	if doc.Title == "" && opts.Provider != nil {
		c.inferStructuredCitation(ctx, doc, opts, prompts, logger)
	}
	if opts.Metadata != nil {
		if err := opts.Metadata.Enrich(ctx, doc); err != nil {
			logger.Warn("metadata enrichment failed", "docname", doc.Docname, "error", err)
		}
	}

	texts := make([]*Text, len(chunks))
	for i, ch := range chunks {
		texts[i] = &Text{
			Name:  fmt.Sprintf("%s chunk %d", doc.Docname, i+1),
			Text:  ch.Text,
			Pages: ch.Pages,
			Doc:   doc,
		}
	}

	added, err := c.AddTexts(ctx, texts, doc, &AddTextsOptions{Embedder: opts.Embedder})
	if err != nil {
		observability.RecordError(span, err)
		return "", false, err
	}
	observability.RecordIngestResult(span, added, doc.Docname, len(texts))
	observability.Metrics().RecordIngest(time.Since(start), added, len(texts))
	if added {
		observability.Audit().LogIngest(ctx, c.ID.String(), doc.Docname, doc.Dockey, len(texts), time.Since(start))
	} else {
		observability.Audit().LogIngestSkip(ctx, c.ID.String(), source, "rejected by filter")
	}
	return doc.Docname, added, nil
}

// AddFile is Add reading from a file path.
func (c *Collection) AddFile(ctx context.Context, path string, opts *AddOptions) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("add: %w", err)
	}
	defer f.Close()
	return c.Add(ctx, f, path, opts)
}

// AddURL is Add fetching the document over HTTP. The URL labels the
// document for citation fallback and dedup purposes.
func (c *Collection) AddURL(ctx context.Context, url string, opts *AddOptions) (string, bool, error) {
	client := http.DefaultClient
	if opts != nil && opts.HTTPClient != nil {
		client = opts.HTTPClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, fmt.Errorf("add: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("add: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("add: fetching %s: unexpected status %s", url, resp.Status)
	}
	return c.Add(ctx, resp.Body, url, opts)
}

// inferCitation asks the provider for a citation of the document's
// leading text. Failures return "", deferring to the fallback.
func (c *Collection) inferCitation(ctx context.Context, lead string, opts *AddOptions, prompts *PromptConfig, logger *slog.Logger) string {
	user := strings.NewReplacer("{text}", lead).Replace(prompts.Citation)
	resp, err := timedComplete(ctx, opts.Provider, &llm.Prompt{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: user}},
	}, opts.RequestOptions)
	if err != nil {
		logger.Warn("citation inference failed", "error", err)
		return ""
	}
	return strings.TrimSpace(resp.Content)
}

// inferStructuredCitation extracts title/authors/doi from the citation
// text. A malformed response is logged and the fields stay empty.
func (c *Collection) inferStructuredCitation(ctx context.Context, doc *Doc, opts *AddOptions, prompts *PromptConfig, logger *slog.Logger) {
	user := strings.NewReplacer("{citation}", doc.Citation).Replace(prompts.StructuredCitation)
	resp, err := timedComplete(ctx, opts.Provider, &llm.Prompt{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: user}},
	}, opts.RequestOptions)
	if err != nil {
		logger.Warn("structured citation inference failed", "docname", doc.Docname, "error", err)
		return
	}
	title, authors, doi, err := parseCitationResponse(resp.Content)
	if err != nil {
		logger.Warn("unparsable structured citation, leaving fields empty",
			"docname", doc.Docname, "error", err)
		return
	}
	if title != "" {
		doc.Title = title
	}
	if len(authors) > 0 {
		doc.Authors = authors
	}
	if doi != "" {
		doc.DOI = doi
	}
}
