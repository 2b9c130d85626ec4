package docs

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strconv"
)

// Dockey returns the content-addressed key for raw document bytes: an
// md5 of the content (not the path), so identical sources map to the
// same key under any filename and re-ingestion is caught by the
// already-present check. Not a security boundary.
func Dockey(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// uniqueName resolves a proposed docname against the taken set: the
// proposal itself, then single-letter suffixes a..z, then a decimal
// counter from 27 on. Deterministic given the same taken set, and the
// result is always currently unused.
func uniqueName(proposed string, taken map[string]struct{}) string {
	if _, ok := taken[proposed]; !ok {
		return proposed
	}
	for s := 'a'; s <= 'z'; s++ {
		if _, ok := taken[proposed+string(s)]; !ok {
			return proposed + string(s)
		}
	}
	for i := 27; ; i++ {
		cand := proposed + strconv.Itoa(i)
		if _, ok := taken[cand]; !ok {
			return cand
		}
	}
}

var (
	authorRe = regexp.MustCompile(`[A-Z][a-z]+`)
	yearRe   = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// CitationToDocname derives a short docname ("Smith2023") from a
// free-form citation: first capitalized word plus first plausible year.
func CitationToDocname(citation string) string {
	author := authorRe.FindString(citation)
	if author == "" {
		author = "Unknown"
	}
	return author + yearRe.FindString(citation)
}
