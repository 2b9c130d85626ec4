package vector

import (
	"context"
	"sort"
	"sync"
)

// Memory is the default in-process Store: brute-force cosine similarity
// over parallel slices. Entries are kept in insertion order, which makes
// tie-breaks deterministic.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	names   map[string]int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{names: make(map[string]int)}
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.names[name]
	return ok
}

// Add indexes entries, skipping names already present so concurrent
// sync passes cannot duplicate items.
func (m *Memory) Add(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if _, ok := m.names[e.Name]; ok {
			continue
		}
		m.names[e.Name] = len(m.entries)
		m.entries = append(m.entries, e)
	}
	return nil
}

func (m *Memory) MMRSearch(_ context.Context, query []float32, k, fetchK int, lambda float32) ([]Entry, []float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if k <= 0 || len(m.entries) == 0 {
		return nil, nil, nil
	}
	if fetchK < k {
		fetchK = k
	}

	rel := make([]float32, len(m.entries))
	order := make([]int, len(m.entries))
	for i := range m.entries {
		rel[i] = cosine(query, m.entries[i].Vector)
		order[i] = i
	}
	// Stable keeps insertion order among equal scores.
	sort.SliceStable(order, func(a, b int) bool { return rel[order[a]] > rel[order[b]] })

	if fetchK > len(order) {
		fetchK = len(order)
	}
	cands := make([]Entry, fetchK)
	candRel := make([]float32, fetchK)
	for i := 0; i < fetchK; i++ {
		cands[i] = m.entries[order[i]]
		candRel[i] = rel[order[i]]
	}

	picked, scores := mmrSelect(cands, candRel, k, lambda)
	return picked, scores, nil
}

func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	m.names = make(map[string]int)
}

var _ Store = (*Memory)(nil)
