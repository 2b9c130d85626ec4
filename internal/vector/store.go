// Package vector provides the semantic index backing chunk retrieval:
// an append-mostly container of named embeddings supporting maximal
// marginal relevance (MMR) search.
package vector

import (
	"context"
	"math"
)

// Entry is one indexed item: a unique name, its embedding, and a small
// payload echoed back in search results.
type Entry struct {
	Name    string
	Vector  []float32
	Payload map[string]string
}

// Store is the semantic index. Implementations must tolerate repeated
// Add calls for the same name (idempotent by name) because the index is
// populated lazily and callers may sync concurrently.
type Store interface {
	// Len reports the number of indexed entries.
	Len() int
	// Has reports whether an entry with the given name is indexed.
	Has(name string) bool
	// Add indexes entries, skipping names already present.
	Add(ctx context.Context, entries []Entry) error
	// MMRSearch returns up to k entries: the fetchK nearest neighbors of
	// query are re-ranked greedily, trading relevance against diversity
	// with lambda in [0,1] (1 = pure relevance, 0 = pure diversity).
	// Scores returned are the MMR selection scores, in selection order.
	MMRSearch(ctx context.Context, query []float32, k, fetchK int, lambda float32) ([]Entry, []float32, error)
	// Clear removes all entries.
	Clear()
}

func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float32
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
}

// mmrSelect greedily picks up to k of the candidates, maximizing
// lambda*relevance - (1-lambda)*maxSimilarityToPicked. Candidates must be
// ordered deterministically; ties keep the earlier candidate.
func mmrSelect(cands []Entry, rel []float32, k int, lambda float32) ([]Entry, []float32) {
	if k > len(cands) {
		k = len(cands)
	}
	picked := make([]Entry, 0, k)
	scores := make([]float32, 0, k)
	used := make([]bool, len(cands))

	for len(picked) < k {
		best := -1
		var bestScore float32
		for i := range cands {
			if used[i] {
				continue
			}
			penalty := float32(0)
			for _, p := range picked {
				if sim := cosine(cands[i].Vector, p.Vector); sim > penalty {
					penalty = sim
				}
			}
			score := lambda*rel[i] - (1-lambda)*penalty
			if best == -1 || score > bestScore {
				best = i
				bestScore = score
			}
		}
		if best == -1 {
			break
		}
		used[best] = true
		picked = append(picked, cands[best])
		scores = append(scores, bestScore)
	}
	return picked, scores
}
