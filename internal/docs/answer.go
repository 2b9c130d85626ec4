package docs

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/doctrove/doctrove/internal/llm"
	"github.com/doctrove/doctrove/internal/observability"
)

// Synthesis defaults.
const (
	DefaultMaxSources   = 5
	DefaultAnswerLength = "about 200 words, but can be longer"
)

// minContextLen is the threshold below which the assembled context is
// considered too thin to answer from.
const minContextLen = 10

var extraBackgroundRe = regexp.MustCompile(`\([Ee]xtra [Bb]ackground [Ii]nformation\)`)

// QueryOptions tunes one answer synthesis.
type QueryOptions struct {
	// Provider performs the generation calls.
	Provider llm.Provider
	// RequestOptions are forwarded to every generation call.
	RequestOptions *llm.RequestOptions
	Prompts        *PromptConfig

	// MaxSources bounds how many contexts reach the prompt (default 5).
	MaxSources int
	// CutoffScore drops contexts scoring below it after truncation.
	CutoffScore float64
	// AnswerLength is a human phrase forwarded to the answer prompt.
	AnswerLength string
	// GroupByQuestion partitions the context by each Context's
	// originating question instead of one flat concatenation.
	GroupByQuestion bool
	// StripExtraBackground removes the literal "(Extra background
	// information)" marker from the answer.
	StripExtraBackground bool

	// Gather, when set, runs evidence gathering first if the session
	// has no contexts yet.
	Gather *GatherOptions
}

// Query synthesizes an answer for the session's question from its
// gathered contexts. The session is mutated in place: answer text,
// reasoning, context string, references, and token usage. A context
// body below the minimal-content threshold yields the fixed
// cannot-answer response with no generation call.
func (c *Collection) Query(ctx context.Context, session *Session, opts *QueryOptions) error {
	if opts == nil || opts.Provider == nil {
		return fmt.Errorf("query: provider required")
	}
	prompts := opts.Prompts
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	maxSources := opts.MaxSources
	if maxSources <= 0 {
		maxSources = DefaultMaxSources
	}
	answerLength := opts.AnswerLength
	if answerLength == "" {
		answerLength = DefaultAnswerLength
	}

	ctx, span := observability.StartAnswerSpan(ctx, session.Question)
	defer span.End()
	start := time.Now()

	if len(session.Contexts) == 0 && opts.Gather != nil {
		if err := c.GatherEvidence(ctx, session, opts.Gather); err != nil {
			observability.RecordError(span, err)
			return err
		}
	}

	picked := selectContexts(session.Contexts, maxSources, opts.CutoffScore)

	var body string
	if opts.GroupByQuestion {
		body = groupedContextBody(picked, session.Question, prompts)
	} else {
		body = flatContextBody(picked, prompts)
	}

	validKeys := make([]string, len(picked))
	for i, pc := range picked {
		validKeys[i] = pc.ID
	}
	wrapContext := func(body string) string {
		return strings.NewReplacer(
			"{context_str}", body,
			"{valid_keys}", strings.Join(validKeys, ", "),
		).Replace(prompts.ContextOuter)
	}

	if len(body) < minContextLen {
		session.Answer = prompts.CannotAnswer
		session.RawAnswer = prompts.CannotAnswer
		session.ContextText = wrapContext(body)
		observability.RecordAnswerResult(span, 0, session.TotalTokens(), false)
		observability.Metrics().RecordQuery(time.Since(start), false)
		observability.Audit().LogQuery(ctx, c.ID.String(), session.Question, 0, true, time.Since(start), nil)
		return nil
	}

	// Pre hook: one generation call whose output joins the context as
	// extra background.
	if prompts.Pre != "" {
		pre := strings.NewReplacer("{question}", session.Question).Replace(prompts.Pre)
		resp, err := timedComplete(ctx, opts.Provider, &llm.Prompt{
			Messages: []llm.Message{{Role: llm.RoleUser, Content: pre}},
		}, opts.RequestOptions)
		if err != nil {
			observability.RecordError(span, err)
			return fmt.Errorf("query: pre hook: %w", err)
		}
		session.AddTokens(resp)
		body += fmt.Sprintf("\n\nExtra background information: %s", resp.Content)
	}

	contextStr := wrapContext(body)
	session.ContextText = contextStr

	user := strings.NewReplacer(
		"{context}", contextStr,
		"{question}", session.Question,
		"{answer_length}", answerLength,
		"{example_citation}", prompts.ExampleCitation,
	).Replace(prompts.QA)
	if session.Answer != "" && prompts.Followup != "" {
		user = strings.NewReplacer("{prior_answer}", session.Answer).Replace(prompts.Followup) + user
	}

	resp, err := timedComplete(ctx, opts.Provider, &llm.Prompt{
		SystemPrompt: prompts.QASystem,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
	}, opts.RequestOptions)
	if err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("query: %w", err)
	}
	session.AddTokens(resp)
	session.RawAnswer = resp.Content
	session.AnswerReasoning = resp.Reasoning

	answer := resp.Content
	if prompts.ExampleCitation != "" {
		answer = strings.ReplaceAll(answer, prompts.ExampleCitation, "")
	}
	if opts.StripExtraBackground {
		answer = extraBackgroundRe.ReplaceAllString(answer, "")
	}

	// Post hook: the rewrite fully replaces the answer.
	if prompts.Post != "" {
		post := strings.NewReplacer(
			"{question}", session.Question,
			"{answer}", answer,
		).Replace(prompts.Post)
		postResp, err := timedComplete(ctx, opts.Provider, &llm.Prompt{
			Messages: []llm.Message{{Role: llm.RoleUser, Content: post}},
		}, opts.RequestOptions)
		if err != nil {
			observability.RecordError(span, err)
			return fmt.Errorf("query: post hook: %w", err)
		}
		session.AddTokens(postResp)
		answer = postResp.Content
	}

	session.Answer = answer
	session.References = buildReferences(answer, picked)
	observability.RecordAnswerResult(span, len(picked), session.TotalTokens(), true)
	observability.Metrics().RecordQuery(time.Since(start), true)
	observability.Audit().LogQuery(ctx, c.ID.String(), session.Question, len(picked), false, time.Since(start), nil)
	return nil
}

// selectContexts orders contexts by score descending with chunk name
// ascending as the tie-break, truncates to maxSources, then drops any
// survivors below the cutoff.
func selectContexts(contexts []*Context, maxSources int, cutoff float64) []*Context {
	sorted := make([]*Context, len(contexts))
	copy(sorted, contexts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ID < sorted[j].ID
	})
	if len(sorted) > maxSources {
		sorted = sorted[:maxSources]
	}
	kept := sorted[:0]
	for _, pc := range sorted {
		if pc.Score >= cutoff {
			kept = append(kept, pc)
		}
	}
	return kept
}

func formatContext(pc *Context, prompts *PromptConfig) string {
	citation := ""
	if pc.Text != nil && pc.Text.Doc != nil {
		citation = pc.Text.Doc.FormattedCitation()
	}
	return strings.NewReplacer(
		"{name}", pc.ID,
		"{text}", pc.Content,
		"{citation}", citation,
	).Replace(prompts.ContextInner)
}

func flatContextBody(contexts []*Context, prompts *PromptConfig) string {
	blocks := make([]string, len(contexts))
	for i, pc := range contexts {
		blocks[i] = formatContext(pc, prompts)
	}
	return strings.Join(blocks, "\n\n")
}

// groupedContextBody partitions the contexts into per-question
// sections, in order of each question's first appearance.
func groupedContextBody(contexts []*Context, mainQuestion string, prompts *PromptConfig) string {
	var order []string
	groups := make(map[string][]string)
	for _, pc := range contexts {
		q := pc.Question
		if q == "" {
			q = mainQuestion
		}
		if _, seen := groups[q]; !seen {
			order = append(order, q)
		}
		groups[q] = append(groups[q], formatContext(pc, prompts))
	}
	sections := make([]string, len(order))
	for i, q := range order {
		sections[i] = fmt.Sprintf("Contexts related to the question: %q\n\n%s",
			q, strings.Join(groups[q], "\n\n"))
	}
	return strings.Join(sections, "\n\n----\n\n")
}

// buildReferences lists the sources actually cited: contexts whose key
// appears verbatim in the answer, one reference per document.
func buildReferences(answer string, contexts []*Context) []Reference {
	var refs []Reference
	seen := make(map[string]struct{})
	for _, pc := range contexts {
		if pc.Text == nil || pc.Text.Doc == nil {
			continue
		}
		if !strings.Contains(answer, pc.ID) {
			continue
		}
		doc := pc.Text.Doc
		if _, dup := seen[doc.Docname]; dup {
			continue
		}
		seen[doc.Docname] = struct{}{}
		refs = append(refs, Reference{Key: doc.Docname, Citation: doc.FormattedCitation()})
	}
	return refs
}
