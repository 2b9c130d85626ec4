// Package docs implements the document collection at the heart of the
// engine: deduplicated, uniquely named documents split into chunks,
// a lazily built semantic index, concurrent evidence gathering, and
// answer synthesis over the gathered evidence.
package docs

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/doctrove/doctrove/internal/llm"
)

// Doc identifies one document in a collection. Dockey is either a
// caller-supplied key or the content hash of the source bytes; Docname
// is the human-facing label, unique among non-deleted documents.
type Doc struct {
	Docname  string
	Dockey   string
	Citation string

	// Optional bibliographic details, filled by the metadata lookup or
	// extracted from the citation.
	Title   string
	Authors []string
	DOI     string
	Year    int
	URL     string
}

// Merge fills d's empty bibliographic fields from other. Fields d
// already has win; identity fields (Docname, Dockey) never change.
func (d *Doc) Merge(other *Doc) {
	if other == nil {
		return
	}
	if d.Citation == "" {
		d.Citation = other.Citation
	}
	if d.Title == "" {
		d.Title = other.Title
	}
	if len(d.Authors) == 0 {
		d.Authors = other.Authors
	}
	if d.DOI == "" {
		d.DOI = other.DOI
	}
	if d.Year == 0 {
		d.Year = other.Year
	}
	if d.URL == "" {
		d.URL = other.URL
	}
}

// FormattedCitation prefers the stored citation and falls back to one
// assembled from the detail fields.
func (d *Doc) FormattedCitation() string {
	if d.Citation != "" {
		return d.Citation
	}
	out := ""
	if len(d.Authors) > 0 {
		out = joinAuthors(d.Authors) + ". "
	}
	if d.Title != "" {
		out += d.Title + "."
	}
	if d.Year != 0 {
		out += " " + strconv.Itoa(d.Year) + "."
	}
	if d.DOI != "" {
		out += " https://doi.org/" + d.DOI
	}
	if out == "" {
		return d.Docname
	}
	return out
}

// Text is one chunk of a document: the atomic unit of embedding and
// retrieval. Immutable after ingestion except for late embedding
// assignment during index sync.
type Text struct {
	// Name is unique within the collection, derived from the docname
	// and the chunk ordinal (e.g. "Wiki2023 chunk 3").
	Name string
	Text string
	// Pages is the [first, last] page the chunk spans; zero when the
	// source has no page structure.
	Pages [2]int
	Doc   *Doc
	// Embedding may be nil until the index first needs this chunk.
	Embedding []float32
}

// Context is one unit of gathered evidence: a chunk summarized and
// scored against a question. Immutable once created.
type Context struct {
	// ID is the citation key used in assembled prompts and answers;
	// defaults to the source chunk's name.
	ID      string
	Score   float64
	Content string
	// Question records the sub-question this context answers, when the
	// gather was driven by one. Empty means the session's main question.
	Question string
	Text     *Text
}

// TokenCount tracks prompt and completion tokens for one model.
type TokenCount struct {
	Prompt     int
	Completion int
}

// Session is the unit of work for one question: evidence accumulates
// during gathering, the answer and its context land during synthesis.
// A session is owned by the call operating on it; it may be re-queried
// to iterate on a prior answer.
type Session struct {
	ID       uuid.UUID
	Question string
	Contexts []*Context

	Answer          string
	RawAnswer       string
	AnswerReasoning string
	// ContextText is the assembled context string the answer was
	// generated from.
	ContextText string
	// References maps citation keys that appear in the answer to their
	// formatted citations, in first-use order.
	References []Reference

	TokenCounts map[string]TokenCount
}

// Reference is one bibliography entry of an answered session.
type Reference struct {
	Key      string
	Citation string
}

// NewSession starts a session for a question.
func NewSession(question string) *Session {
	return &Session{
		ID:          uuid.New(),
		Question:    question,
		TokenCounts: make(map[string]TokenCount),
	}
}

// AddTokens accumulates a model call's usage onto the session.
func (s *Session) AddTokens(resp *llm.Response) {
	if resp == nil {
		return
	}
	model := resp.Model
	if model == "" {
		model = "unknown"
	}
	tc := s.TokenCounts[model]
	tc.Prompt += resp.InputTokens
	tc.Completion += resp.OutputTokens
	s.TokenCounts[model] = tc
}

// TotalTokens sums usage across all models.
func (s *Session) TotalTokens() int {
	total := 0
	for _, tc := range s.TokenCounts {
		total += tc.Prompt + tc.Completion
	}
	return total
}

func joinAuthors(authors []string) string {
	switch len(authors) {
	case 1:
		return authors[0]
	case 2:
		return authors[0] + " and " + authors[1]
	default:
		return authors[0] + " et al"
	}
}
