package docs

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/doctrove/doctrove/internal/llm"
	"github.com/doctrove/doctrove/internal/observability"
)

// Summarizer scores one chunk against a question and produces the
// evidence text an answer can cite.
type Summarizer interface {
	Summarize(ctx context.Context, req *SummaryRequest) (*SummaryResult, error)
}

// SummaryRequest carries one chunk to score.
type SummaryRequest struct {
	Text     *Text
	Question string
	// SummaryLength is a human phrase such as "about 100 words".
	SummaryLength string
}

// SummaryResult is one scored summary. Response, when set, carries the
// token usage of the call for session accounting.
type SummaryResult struct {
	Summary  string
	Score    float64
	Response *llm.Response
}

// LLMSummarizer implements Summarizer on a completion provider using
// the summary prompt templates.
type LLMSummarizer struct {
	Provider llm.Provider
	Prompts  *PromptConfig
	Options  *llm.RequestOptions
	// SkipCitationStrip keeps in-text citations in the summary.
	SkipCitationStrip bool
	Logger            *slog.Logger
}

// inTextCitationRe matches parenthetical citations carrying a year,
// e.g. "(Smith et al. 2019)" or "(Example2012Example pages 3-4)".
var inTextCitationRe = regexp.MustCompile(`\s?\([^)]*\b(?:19|20)\d{2}\b[^)]*\)`)

// timedComplete runs one completion and records its latency and token
// usage in the metrics registry.
func timedComplete(ctx context.Context, p llm.Provider, prompt *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error) {
	start := time.Now()
	resp, err := p.Complete(ctx, prompt, opts)
	tokens := 0
	if resp != nil {
		tokens = resp.InputTokens + resp.OutputTokens
	}
	observability.Metrics().RecordLLMRequest(time.Since(start), tokens, err)
	return resp, err
}

func (s *LLMSummarizer) Summarize(ctx context.Context, req *SummaryRequest) (*SummaryResult, error) {
	prompts := s.Prompts
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	length := req.SummaryLength
	if length == "" {
		length = "about 100 words"
	}
	citation := fmt.Sprintf("%s: %s", req.Text.Name, req.Text.Doc.FormattedCitation())
	user := strings.NewReplacer(
		"{citation}", citation,
		"{question}", req.Question,
		"{text}", req.Text.Text,
	).Replace(prompts.Summary)
	system := strings.NewReplacer("{summary_length}", length).Replace(prompts.SummarySystem)

	resp, err := timedComplete(ctx, s.Provider, &llm.Prompt{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
	}, s.Options)
	if err != nil {
		return nil, fmt.Errorf("summarizing %s: %w", req.Text.Name, err)
	}

	summary, score, perr := parseSummaryResponse(resp.Content)
	if perr != nil {
		// Malformed structure is not fatal: keep the raw text as the
		// summary with a neutral score.
		s.logger().Warn("unparsable summary response, using raw text",
			"chunk", req.Text.Name, "error", perr)
		summary, score = strings.TrimSpace(resp.Content), 5
	}
	if !s.SkipCitationStrip {
		summary = inTextCitationRe.ReplaceAllString(summary, "")
	}
	return &SummaryResult{Summary: summary, Score: score, Response: resp}, nil
}

func (s *LLMSummarizer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// GatherOptions tunes one evidence-gathering pass.
type GatherOptions struct {
	// K is the retrieval count (default 10).
	K int
	// MaxConcurrent bounds the summarization fan-out (default 4).
	MaxConcurrent int
	// SummaryLength is forwarded to the summarizer.
	SummaryLength string
	// MMRLambda is forwarded to retrieval.
	MMRLambda float32
	// DisableRetrieval summarizes every stored chunk instead of the
	// top-K retrieved ones. No embedding happens in that mode.
	DisableRetrieval bool

	Embedder   Embedder
	Summarizer Summarizer
}

// Gathering defaults.
const (
	DefaultEvidenceK     = 10
	DefaultMaxConcurrent = 4
)

// GatherEvidence retrieves candidate chunks for the session's question
// and summarizes each concurrently, appending one Context per relevant
// chunk to the session. Chunks already present in the session's
// contexts are skipped, as are chunks the summarizer declares not
// applicable (their token usage still counts). The fan-out is bounded;
// results keep retrieval order regardless of completion order. Any
// summarization failure aborts the whole pass with no contexts
// appended.
func (c *Collection) GatherEvidence(ctx context.Context, session *Session, opts *GatherOptions) error {
	if opts == nil {
		opts = &GatherOptions{}
	}
	k := opts.K
	if k <= 0 {
		k = DefaultEvidenceK
	}
	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	if opts.Summarizer == nil {
		return fmt.Errorf("gather evidence: summarizer required")
	}
	if c.Len() == 0 && c.index.Len() == 0 {
		// Nothing to gather from; the session stays untouched.
		return nil
	}

	ctx, span := observability.StartGatherSpan(ctx, session.Question, k)
	defer span.End()
	start := time.Now()

	var matches []*Text
	if opts.DisableRetrieval {
		matches = c.Texts()
	} else {
		var err error
		matches, err = c.RetrieveTexts(ctx, session.Question, k, opts.Embedder, &RetrieveOptions{MMRLambda: opts.MMRLambda})
		if err != nil {
			observability.RecordError(span, err)
			return fmt.Errorf("gather evidence: %w", err)
		}
	}

	seen := make(map[string]struct{}, len(session.Contexts))
	for _, existing := range session.Contexts {
		if existing.Text != nil {
			seen[existing.Text.Name] = struct{}{}
		}
	}
	candidates := matches[:0]
	for _, m := range matches {
		if _, dup := seen[m.Name]; dup {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		observability.RecordGatherResult(span, 0, 0)
		return nil
	}

	results := make([]*SummaryResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, text := range candidates {
		g.Go(func() error {
			res, err := opts.Summarizer.Summarize(gctx, &SummaryRequest{
				Text:          text,
				Question:      session.Question,
				SummaryLength: opts.SummaryLength,
			})
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		observability.RecordError(span, err)
		observability.Metrics().RecordGather(time.Since(start), 0, err)
		observability.Audit().LogGather(ctx, c.ID.String(), session.Question, len(candidates), 0, time.Since(start), err)
		return fmt.Errorf("gather evidence: %w", err)
	}

	added := 0
	for i, res := range results {
		session.AddTokens(res.Response)
		if isIrrelevantSummary(res.Summary) {
			continue
		}
		session.Contexts = append(session.Contexts, &Context{
			ID:       candidates[i].Name,
			Score:    res.Score,
			Content:  res.Summary,
			Question: session.Question,
			Text:     candidates[i],
		})
		added++
	}
	observability.RecordGatherResult(span, len(candidates), added)
	observability.Metrics().RecordGather(time.Since(start), added, nil)
	observability.Audit().LogGather(ctx, c.ID.String(), session.Question, len(candidates), added, time.Since(start), nil)
	return nil
}

// isIrrelevantSummary reports whether the summarizer declined the
// chunk. Declined chunks still count their token usage but produce no
// context.
func isIrrelevantSummary(s string) bool {
	if strings.TrimSpace(s) == "" {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "not applicable") || strings.Contains(lower, "not relevant")
}
