// Package metadata enriches documents with bibliographic fields from
// external registries.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doctrove/doctrove/internal/docs"
)

const defaultCrossrefURL = "https://api.crossref.org"

// Crossref implements docs.MetadataProvider against the Crossref REST
// API. Lookup is by DOI when the document carries one, else by title
// search taking the best match.
type Crossref struct {
	baseURL string
	// mailto joins the request query per Crossref's polite-pool policy.
	mailto string
	http   *http.Client
}

// NewCrossref creates a Crossref client. mailto may be empty.
func NewCrossref(baseURL, mailto string) *Crossref {
	if baseURL == "" {
		baseURL = defaultCrossrefURL
	}
	return &Crossref{
		baseURL: baseURL,
		mailto:  mailto,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type crossrefWork struct {
	Title  []string `json:"title"`
	DOI    string   `json:"DOI"`
	URL    string   `json:"URL"`
	Author []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"author"`
	Issued struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"issued"`
}

// Enrich fills the document's empty bibliographic fields from the
// matching Crossref work. No match is not an error.
func (c *Crossref) Enrich(ctx context.Context, doc *docs.Doc) error {
	var work *crossrefWork
	var err error
	switch {
	case doc.DOI != "":
		work, err = c.byDOI(ctx, doc.DOI)
	case doc.Title != "":
		work, err = c.byTitle(ctx, doc.Title)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if work == nil {
		return nil
	}

	details := &docs.Doc{
		DOI: work.DOI,
		URL: work.URL,
	}
	if len(work.Title) > 0 {
		details.Title = work.Title[0]
	}
	for _, a := range work.Author {
		name := strings.TrimSpace(a.Given + " " + a.Family)
		if name != "" {
			details.Authors = append(details.Authors, name)
		}
	}
	if len(work.Issued.DateParts) > 0 && len(work.Issued.DateParts[0]) > 0 {
		details.Year = work.Issued.DateParts[0][0]
	}
	doc.Merge(details)
	return nil
}

func (c *Crossref) byDOI(ctx context.Context, doi string) (*crossrefWork, error) {
	var out struct {
		Message crossrefWork `json:"message"`
	}
	u := fmt.Sprintf("%s/works/%s", c.baseURL, url.PathEscape(doi))
	if err := c.get(ctx, u, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

func (c *Crossref) byTitle(ctx context.Context, title string) (*crossrefWork, error) {
	var out struct {
		Message struct {
			Items []crossrefWork `json:"items"`
		} `json:"message"`
	}
	q := url.Values{}
	q.Set("query.title", title)
	q.Set("rows", "1")
	if c.mailto != "" {
		q.Set("mailto", c.mailto)
	}
	u := fmt.Sprintf("%s/works?%s", c.baseURL, q.Encode())
	if err := c.get(ctx, u, &out); err != nil {
		return nil, err
	}
	if len(out.Message.Items) == 0 {
		return nil, nil
	}
	return &out.Message.Items[0], nil
}

func (c *Crossref) get(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("crossref: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("crossref: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("crossref: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("crossref: decoding response: %w", err)
	}
	return nil
}
