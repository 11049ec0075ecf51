/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package retrieval is the similarity-search port handlers use to ground
// prompts. Indexing and embedding ingestion are external; this package
// only consumes ranked results.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// Result is one ranked chunk reference.
type Result struct {
	Ref     string
	Content string
	Score   float32
}

// Index answers vector similarity queries.
type Index interface {
	// Query returns up to k results ordered by descending score.
	Query(ctx context.Context, vector []float32, k int) ([]Result, error)
}

// Chunk is an indexed piece of repository content.
type Chunk struct {
	Ref     string
	Content string
	Vector  []float32
}

// InMemory is a cosine-similarity index over registered chunks. It backs
// tests and small installations; production deployments plug a vector
// store behind the same Index interface.
type InMemory struct {
	mu     sync.RWMutex
	chunks []Chunk
}

var _ Index = (*InMemory)(nil)

// NewInMemory returns an empty index.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// Add registers chunks for retrieval.
func (ix *InMemory) Add(chunks ...Chunk) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.chunks = append(ix.chunks, chunks...)
}

func (ix *InMemory) Query(_ context.Context, vector []float32, k int) ([]Result, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	results := make([]Result, 0, len(ix.chunks))
	for _, c := range ix.chunks {
		score, ok := cosine(vector, c.Vector)
		if !ok {
			continue
		}
		results = append(results, Result{Ref: c.Ref, Content: c.Content, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// FormatContext renders ranked results as a grounding block for prompts,
// with source references callers can attach to output.
func FormatContext(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Repository context:\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] %s\n%s\n", i+1, r.Ref, strings.TrimSpace(r.Content))
	}
	return sb.String()
}

// Refs extracts the source references of ranked results, in order.
func Refs(results []Result) []string {
	refs := make([]string, 0, len(results))
	for _, r := range results {
		refs = append(refs, r.Ref)
	}
	return refs
}

func cosine(a, b []float32) (float32, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb))), true
}
