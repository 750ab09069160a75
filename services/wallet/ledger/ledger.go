// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger talks to the on-chain pointer registry.
//
// The registry is the source of truth for which blobs constitute a
// principal's memory index. Pointer updates are guarded by optimistic
// versioning: every update names the version it read, and the registry
// rejects updates against a stale version so concurrent writers cannot
// silently clobber each other.
package ledger

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianVault/services/wallet/datatypes"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound means no pointer exists for the requested key.
	ErrNotFound = errors.New("pointer not found")

	// ErrVersionConflict means the update named a version that is no
	// longer current. The caller must re-read and retry.
	ErrVersionConflict = errors.New("pointer version conflict")

	// ErrUnavailable means the registry could not be reached.
	ErrUnavailable = errors.New("ledger unavailable")
)

// =============================================================================
// Interface
// =============================================================================

// Service reads and writes memory index pointers.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Service interface {
	// GetPointer returns the pointer for an explicit index ID.
	GetPointer(ctx context.Context, indexID string) (datatypes.MemoryIndexPointer, error)

	// GetPointerByPrincipal returns the pointer keyed directly to the
	// principal address, if one was registered that way.
	GetPointerByPrincipal(ctx context.Context, principal string) (datatypes.MemoryIndexPointer, error)

	// GetPointersByOwner enumerates all pointers owned by an address,
	// newest first.
	GetPointersByOwner(ctx context.Context, owner string) ([]datatypes.MemoryIndexPointer, error)

	// RegisterPointer creates a new pointer at version 1.
	RegisterPointer(ctx context.Context, ptr datatypes.MemoryIndexPointer) error

	// UpdatePointer replaces the blob IDs of an existing pointer.
	// expectedVersion must match the current version or the update
	// fails with ErrVersionConflict. On success the stored version is
	// expectedVersion+1.
	UpdatePointer(ctx context.Context, indexID string, indexBlobID, graphBlobID string, expectedVersion uint64) (datatypes.MemoryIndexPointer, error)
}
