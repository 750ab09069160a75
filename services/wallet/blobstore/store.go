// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package blobstore provides content-addressed storage for encrypted
// index and graph blobs.
//
// Blob IDs are the hex SHA-256 of the content, so identical payloads
// dedupe for free and every Get can verify what it read. Two backends
// ship: an embedded BadgerDB store for local deployments and tests,
// and a GCS store for hosted ones. Both return the same error taxonomy
// so the memory index resolver's fallback logic is backend-agnostic.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound means no blob exists for the requested ID.
	ErrNotFound = errors.New("blob not found")

	// ErrUnavailable means the backend could not be reached or failed
	// mid-operation. Retryable at the caller's discretion.
	ErrUnavailable = errors.New("blob store unavailable")

	// ErrCorrupt means stored bytes no longer hash to their ID.
	ErrCorrupt = errors.New("blob content hash mismatch")
)

// =============================================================================
// Interface
// =============================================================================

// Store is a content-addressed blob store.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Put stores data and returns its content address. Storing the
	// same bytes twice returns the same ID and is a cheap no-op.
	Put(ctx context.Context, data []byte) (string, error)

	// Get returns the blob for id, verifying its content hash.
	// Returns ErrNotFound, ErrCorrupt, or ErrUnavailable.
	Get(ctx context.Context, id string) ([]byte, error)

	// Has reports whether a blob exists without fetching it.
	Has(ctx context.Context, id string) (bool, error)

	// Close releases backend resources.
	Close() error
}

// ComputeID returns the content address for data: lowercase hex
// SHA-256.
func ComputeID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// verify checks data against its claimed ID.
func verify(id string, data []byte) error {
	if ComputeID(data) != id {
		return ErrCorrupt
	}
	return nil
}
