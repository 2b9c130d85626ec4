package docs

// PromptConfig holds every prompt template used by evidence gathering
// and answer synthesis. Placeholders use {name} syntax and are filled
// with strings.NewReplacer at call sites.
type PromptConfig struct {
	// Summary scores one chunk against the question. Placeholders:
	// {citation}, {question}, {summary_length}, {text}.
	Summary string
	// SummarySystem is the system prompt for the summary call. It
	// carries the JSON response contract. Placeholder: {summary_length}.
	SummarySystem string

	// QA is the main answer prompt. Placeholders: {context},
	// {question}, {answer_length}, {example_citation}.
	QA string
	// QASystem sets tone for the main answer call.
	QASystem string
	// Followup wraps QA output context when re-querying a session that
	// already holds an answer. Placeholder: {prior_answer}.
	Followup string

	// Pre, when non-empty, enables the pre-answer hook: one generation
	// call whose output is appended to the context body as extra
	// background. Placeholder: {question}.
	Pre string
	// Post, when non-empty, enables the post-answer hook: one
	// generation call whose output replaces the answer entirely.
	// Placeholders: {question}, {answer}.
	Post string

	// Citation asks for a citation of a document's leading text.
	// Placeholder: {text}.
	Citation string
	// StructuredCitation extracts title/authors/doi as JSON.
	// Placeholder: {citation}.
	StructuredCitation string

	// ContextInner formats one gathered context block. Placeholders:
	// {name}, {text}, {citation}.
	ContextInner string
	// ContextOuter wraps the joined blocks. Placeholders:
	// {context_str}, {valid_keys}.
	ContextOuter string

	// CannotAnswer is the fixed response when the assembled context is
	// too thin to answer from.
	CannotAnswer string
	// ExampleCitation is the placeholder key shown to the model in QA;
	// any literal occurrence is stripped from answers.
	ExampleCitation string
}

// DefaultPrompts returns the stock templates.
func DefaultPrompts() *PromptConfig {
	return &PromptConfig{
		Summary: "Excerpt from {citation}\n\n----\n\n{text}\n\n----\n\nQuestion: {question}\n\n",
		SummarySystem: "Provide a summary of the relevant information that could help answer the question " +
			"based on the excerpt. Respond with the following JSON format:\n\n" +
			"{\"summary\": \"...\", \"relevance_score\": \"...\"}\n\n" +
			"where `summary` is relevant information from the text ({summary_length}) " +
			"and `relevance_score` is an integer from 0 to 10 rating how relevant " +
			"`summary` is to answering the question. " +
			"If the excerpt is not relevant, reply with a summary of \"not applicable\" and a score of 0. " +
			"Do not directly answer the question, instead summarize to give evidence.",
		QA: "Answer the question below with the context.\n\n" +
			"Context (with relevance scores):\n\n{context}\n\n----\n\n" +
			"Question: {question}\n\n" +
			"Write an answer based on the context. " +
			"If the context provides insufficient information, " +
			"reply \"I cannot answer.\" " +
			"For each part of your answer, indicate which sources most support " +
			"it via citation keys at the end of sentences, like {example_citation}. " +
			"Only cite from the context above and only use the citation keys from the context. " +
			"Do not concatenate citation keys, just use each key once. " +
			"Answer in an unbiased, comprehensive, and scholarly tone.\n\n" +
			"Answer ({answer_length}):",
		QASystem: "Answer in a direct and concise tone. " +
			"Your audience is an expert, so be highly specific. " +
			"If there are ambiguous terms or acronyms, first define them.",
		Followup: "A prior answer to this question follows. Improve on it using the context; " +
			"keep whatever remains correct.\n\nPrior answer: {prior_answer}\n\n",
		Citation: "Provide the citation for the following text in MLA Format. " +
			"Do not write an introductory sentence. " +
			"If reporting date accessed, the current year is 2026.\n\n" +
			"{text}\n\nCitation:",
		StructuredCitation: "Extract the title, authors, and doi as a JSON from this citation: {citation}\n\n" +
			"Respond with only the JSON object, using keys \"title\", \"authors\" (a list), and \"doi\".",
		ContextInner:    "{name}: {text}\nFrom {citation}",
		ContextOuter:    "{context_str}\n\nValid Keys: {valid_keys}",
		CannotAnswer:    "I cannot answer this question due to insufficient information.",
		ExampleCitation: "(Example2012Example pages 3-4)",
	}
}
