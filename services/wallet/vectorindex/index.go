// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorindex implements the serializable vector index stored
// as an encrypted blob alongside the knowledge graph.
//
// The index is a value object: it round-trips through Serialize and
// Load as an opaque byte slice so content-addressed blob storage can
// treat it like any other payload. Search is exact flat cosine
// similarity, which is the right trade-off for a per-user index that
// tops out in the low thousands of entries.
package vectorindex

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"sort"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrDimensionMismatch means a vector's length differs from the
	// dimension the index was created with.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrCorruptIndex means the serialized bytes could not be decoded.
	ErrCorruptIndex = errors.New("corrupt vector index")
)

// =============================================================================
// Types
// =============================================================================

// Entry is one indexed memory.
type Entry struct {
	// MemoryID ties the vector back to its memory record.
	MemoryID string

	// Vector is the embedding, normalized at insert time.
	Vector []float32
}

// Match is one search result.
type Match struct {
	MemoryID string
	Score    float32
}

// Index is an exact-search vector index over memory embeddings.
//
// # Thread Safety
//
// NOT safe for concurrent mutation. The memory index resolver
// serializes writers per principal; readers must hold their own copy.
type Index struct {
	dimension int
	entries   []Entry
}

// indexWire is the gob schema. Kept separate from Index so internal
// field changes never silently break stored blobs.
type indexWire struct {
	Dimension int
	Entries   []Entry
}

// =============================================================================
// Construction
// =============================================================================

// New creates an empty index for vectors of the given dimension.
func New(dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	return &Index{dimension: dimension}, nil
}

// Load decodes an index previously produced by Serialize.
func Load(data []byte) (*Index, error) {
	var wire indexWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	if wire.Dimension <= 0 {
		return nil, fmt.Errorf("%w: non-positive dimension %d", ErrCorruptIndex, wire.Dimension)
	}
	for _, e := range wire.Entries {
		if len(e.Vector) != wire.Dimension {
			return nil, fmt.Errorf("%w: entry %q has dimension %d, want %d",
				ErrCorruptIndex, e.MemoryID, len(e.Vector), wire.Dimension)
		}
	}
	return &Index{dimension: wire.Dimension, entries: wire.Entries}, nil
}

// Serialize encodes the index for blob storage.
func (ix *Index) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	wire := indexWire{Dimension: ix.dimension, Entries: ix.entries}
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, fmt.Errorf("encode vector index: %w", err)
	}
	return buf.Bytes(), nil
}

// =============================================================================
// Operations
// =============================================================================

// Dimension returns the vector dimension the index accepts.
func (ix *Index) Dimension() int { return ix.dimension }

// Len returns the number of indexed entries.
func (ix *Index) Len() int { return len(ix.entries) }

// Add inserts or replaces the vector for memoryID. The vector is
// normalized to unit length so Search reduces to a dot product.
func (ix *Index) Add(memoryID string, vector []float32) error {
	if len(vector) != ix.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), ix.dimension)
	}
	normalized, ok := normalize(vector)
	if !ok {
		return fmt.Errorf("cannot index zero vector for memory %q", memoryID)
	}
	for i := range ix.entries {
		if ix.entries[i].MemoryID == memoryID {
			ix.entries[i].Vector = normalized
			return nil
		}
	}
	ix.entries = append(ix.entries, Entry{MemoryID: memoryID, Vector: normalized})
	return nil
}

// Remove deletes the entry for memoryID. Removing an absent ID is a
// no-op.
func (ix *Index) Remove(memoryID string) {
	for i := range ix.entries {
		if ix.entries[i].MemoryID == memoryID {
			ix.entries = append(ix.entries[:i], ix.entries[i+1:]...)
			return
		}
	}
}

// Search returns the k entries most similar to the query vector by
// cosine similarity, best first. Fewer than k entries returns them all.
func (ix *Index) Search(vector []float32, k int) ([]Match, error) {
	if len(vector) != ix.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), ix.dimension)
	}
	if k <= 0 || len(ix.entries) == 0 {
		return nil, nil
	}
	query, ok := normalize(vector)
	if !ok {
		return nil, errors.New("cannot search with zero vector")
	}

	matches := make([]Match, 0, len(ix.entries))
	for _, e := range ix.entries {
		matches = append(matches, Match{MemoryID: e.MemoryID, Score: dot(query, e.Vector)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// =============================================================================
// Math
// =============================================================================

// normalize returns a unit-length copy of v, or false for a zero
// vector.
func normalize(v []float32) ([]float32, bool) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil, false
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, true
}

// dot computes the inner product of two equal-length vectors.
func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
