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

// MemoryIndexPointer is the on-chain record mapping a principal's memory
// index to its current storage locations.
//
// # Description
//
// The pointer is the single source of truth for where a principal's
// vector index and knowledge graph currently live in the blob store.
// Version is monotonically increasing and single-writer per owner: an
// update must supply the version it supersedes, and the ledger rejects
// stale writers with a version conflict. This code never enforces that
// invariant locally; it relies on the ledger and retries on conflict.
//
// # Fields
//
//   - IndexID: Ledger key for the pointer. Usually a fresh id, but the
//     legacy path uses the owner address itself.
//   - IndexBlobID: Blob store id of the serialized vector index.
//   - GraphBlobID: Blob store id of the serialized knowledge graph.
//   - Version: Monotonic version, incremented on every update.
//   - OwnerAddress: The principal that owns the index.
//   - CreatedAt: When the pointer was first registered. Used to pick the
//     newest pointer when enumerating by owner.
type MemoryIndexPointer struct {
	IndexID      string    `json:"index_id"`
	IndexBlobID  string    `json:"index_blob_id"`
	GraphBlobID  string    `json:"graph_blob_id"`
	Version      uint64    `json:"version"`
	OwnerAddress string    `json:"owner_address"`
	CreatedAt    time.Time `json:"created_at"`
}

// OwnedBy reports whether the pointer belongs to the given principal.
// A mismatch invalidates any cached principal→index mapping.
func (p MemoryIndexPointer) OwnedBy(principal string) bool {
	return p.OwnerAddress == principal
}
