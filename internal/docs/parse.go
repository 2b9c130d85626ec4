package docs

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	thinkRe = regexp.MustCompile(`(?s)<think(?:ing)?>.*?</think(?:ing)?>`)
)

// extractJSONObject isolates the outermost {...} object from model
// output that may wrap it in markdown fences, reasoning tags, or prose.
func extractJSONObject(raw string) (string, error) {
	s := thinkRe.ReplaceAllString(raw, "")
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", fmt.Errorf("no JSON object in response")
	}
	return s[start : end+1], nil
}

// summaryPayload is the contract of the evidence summary call.
type summaryPayload struct {
	Summary        string          `json:"summary"`
	RelevanceScore json.RawMessage `json:"relevance_score"`
}

// parseSummaryResponse extracts the summary text and relevance score
// from a scoring call's output. Scores arrive as JSON numbers or as
// quoted strings depending on the model; both are accepted. A summary
// of "not applicable" forces the score to zero.
func parseSummaryResponse(raw string) (summary string, score float64, err error) {
	obj, err := extractJSONObject(raw)
	if err != nil {
		return "", 0, err
	}
	var p summaryPayload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return "", 0, fmt.Errorf("decoding summary response: %w", err)
	}
	score, err = decodeScore(p.RelevanceScore)
	if err != nil {
		return "", 0, err
	}
	summary = strings.TrimSpace(p.Summary)
	if strings.EqualFold(summary, "not applicable") || strings.EqualFold(summary, "not relevant") {
		score = 0
	}
	return summary, score, nil
}

func decodeScore(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("summary response missing relevance_score")
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("relevance_score is neither number nor string")
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing relevance_score %q: %w", s, err)
	}
	return n, nil
}

// citationPayload is the contract of the structured citation call.
// Authors may arrive as a list or as a single string.
type citationPayload struct {
	Title   string          `json:"title"`
	Authors json.RawMessage `json:"authors"`
	DOI     string          `json:"doi"`
}

// parseCitationResponse extracts title, authors, and DOI from a
// structured citation call's output.
func parseCitationResponse(raw string) (title string, authors []string, doi string, err error) {
	obj, err := extractJSONObject(raw)
	if err != nil {
		return "", nil, "", err
	}
	var p citationPayload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return "", nil, "", fmt.Errorf("decoding citation response: %w", err)
	}
	if len(p.Authors) > 0 {
		if err := json.Unmarshal(p.Authors, &authors); err != nil {
			var one string
			if err := json.Unmarshal(p.Authors, &one); err == nil && one != "" {
				authors = []string{one}
			}
		}
	}
	return strings.TrimSpace(p.Title), authors, strings.TrimSpace(p.DOI), nil
}
