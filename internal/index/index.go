// Package index provides the session-scoped in-memory vector index.
package index

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// ConsistencyError reports a vector whose dimensionality does not match
// the dimensionality established for the session. Fatal to the affected
// chunk only.
type ConsistencyError struct {
	ID   string
	Want int
	Got  int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("index: vector for %s has dimension %d, session dimension is %d", e.ID, e.Got, e.Want)
}

// Result is one search hit: a chunk identifier and its cosine
// similarity to the query.
type Result struct {
	ID    string
	Score float64
}

type entry struct {
	id   string
	vec  []float32
	norm float64
	seq  uint64 // ingestion order, breaks score ties
}

// Index is a brute-force cosine-similarity index. Linear scan is
// entirely adequate at single-mailbox scale. Safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	dim     int
	entries []entry
	byID    map[string]int
	nextSeq uint64
}

// New creates an empty index. Dimensionality is established by the
// first accepted vector.
func New() *Index {
	return &Index{byID: make(map[string]int)}
}

// Len returns the number of indexed vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Dimension returns the established dimensionality, or 0 if empty.
func (ix *Index) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

// Add registers a vector under id. Adding an existing id replaces its
// vector. A vector whose length mismatches the established
// dimensionality is rejected with *ConsistencyError.
func (ix *Index) Add(id string, vec []float32) error {
	if len(vec) == 0 {
		return &ConsistencyError{ID: id, Want: ix.Dimension(), Got: 0}
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dim == 0 {
		ix.dim = len(vec)
	} else if len(vec) != ix.dim {
		return &ConsistencyError{ID: id, Want: ix.dim, Got: len(vec)}
	}

	e := entry{id: id, vec: vec, norm: norm(vec), seq: ix.nextSeq}
	ix.nextSeq++

	if i, ok := ix.byID[id]; ok {
		// The displaced buffer is scrubbed like any other removal.
		zero(ix.entries[i].vec)
		ix.entries[i] = e
		return nil
	}
	ix.byID[id] = len(ix.entries)
	ix.entries = append(ix.entries, e)
	return nil
}

// Remove deletes id from the index. Removing an unknown id is a no-op.
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	i, ok := ix.byID[id]
	if !ok {
		return
	}
	zero(ix.entries[i].vec)
	last := len(ix.entries) - 1
	if i != last {
		ix.entries[i] = ix.entries[last]
		ix.byID[ix.entries[i].id] = i
	}
	ix.entries = ix.entries[:last]
	delete(ix.byID, id)
}

// Search returns up to k entries ordered by descending cosine
// similarity; ties resolve by earlier ingestion. Searching an empty
// index returns an empty result.
func (ix *Index) Search(query []float32, k int) []Result {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if k <= 0 || len(ix.entries) == 0 || len(query) != ix.dim {
		return nil
	}
	qnorm := norm(query)
	if qnorm == 0 {
		return nil
	}

	scored := make([]entry, len(ix.entries))
	copy(scored, ix.entries)
	scores := make(map[string]float64, len(scored))
	for _, e := range scored {
		s := 0.0
		if e.norm > 0 {
			s = dot(e.vec, query) / (e.norm * qnorm)
		}
		scores[e.id] = s
	}
	sort.Slice(scored, func(i, j int) bool {
		si, sj := scores[scored[i].id], scores[scored[j].id]
		if si != sj {
			return si > sj
		}
		return scored[i].seq < scored[j].seq
	})

	if k > len(scored) {
		k = len(scored)
	}
	out := make([]Result, k)
	for i := 0; i < k; i++ {
		out[i] = Result{ID: scored[i].id, Score: scores[scored[i].id]}
	}
	return out
}

// Scrub zeroes every stored vector in place and empties the index. Used
// at session teardown so vector data does not linger in memory.
func (ix *Index) Scrub() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i := range ix.entries {
		zero(ix.entries[i].vec)
	}
	ix.entries = nil
	ix.byID = make(map[string]int)
	ix.dim = 0
	ix.nextSeq = 0
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func zero(v []float32) {
	for i := range v {
		v[i] = 0
	}
}
