// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// =============================================================================
// Memory Records
// =============================================================================

// MemoryRecord is one stored memory inside a principal's index
// envelope.
type MemoryRecord struct {
	// MemoryID is a UUID assigned at write time.
	MemoryID string `json:"memory_id"`

	// Content is the memory text.
	Content string `json:"content"`

	// CreatedAt is the write timestamp (UTC).
	CreatedAt time.Time `json:"created_at"`

	// EntityIDs names the knowledge graph entities extracted from this
	// memory. Used to expand vector hits through the graph.
	EntityIDs []string `json:"entity_ids,omitempty"`
}

// MemoryEnvelope is the plaintext layout of a principal's index blob:
// the serialized vector index plus the memory records it points at.
// The envelope is JSON-marshaled and then threshold-encrypted before
// it ever reaches the blob store.
type MemoryEnvelope struct {
	// Index is the serialized vector index.
	Index []byte `json:"index"`

	// Memories are the stored records, keyed into by the index's
	// memory IDs.
	Memories []MemoryRecord `json:"memories"`
}

// FindMemory returns the record for memoryID, if present.
func (e MemoryEnvelope) FindMemory(memoryID string) (MemoryRecord, bool) {
	for _, m := range e.Memories {
		if m.MemoryID == memoryID {
			return m, true
		}
	}
	return MemoryRecord{}, false
}
