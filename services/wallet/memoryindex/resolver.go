// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memoryindex locates, loads and persists a principal's memory
// index.
//
// # Resolution
//
// Resolve walks a fixed priority chain and returns the first pointer
// that checks out:
//
//  1. Cached principal → index ID mapping
//  2. Caller-supplied explicit index ID
//  3. Principal-keyed registry entry
//  4. Owner enumeration, newest pointer first
//
// Every step absorbs registry and blob store failures: a failing step
// logs a warning and falls through to the next one, because a degraded
// lookup path must not take memory reads down with it. Only a chain
// that exhausts all four steps reports the index as absent, and that is
// a result, not an error.
//
// A cached mapping that resolves to a pointer owned by someone else is
// treated as poisoned: the cache entry is dropped and resolution
// restarts from step 2.
package memoryindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianVault/services/wallet/blobstore"
	"github.com/AleutianAI/AleutianVault/services/wallet/datatypes"
	"github.com/AleutianAI/AleutianVault/services/wallet/ledger"
	"github.com/AleutianAI/AleutianVault/services/wallet/observability"
)

// =============================================================================
// Types
// =============================================================================

// Resolution is the outcome of a memory index lookup.
type Resolution struct {
	// Exists reports whether an index was found. False is a valid
	// result for a principal who has never written a memory.
	Exists bool

	// Pointer is the resolved registry entry. Zero when !Exists.
	Pointer datatypes.MemoryIndexPointer

	// Source names the lookup step that satisfied the resolution.
	Source observability.ResolutionSource
}

// Config controls resolver behavior.
type Config struct {
	// ResolveTimeout bounds one full resolution walk. Default 10s.
	ResolveTimeout time.Duration
}

// DefaultConfig returns the resolver defaults.
func DefaultConfig() Config {
	return Config{ResolveTimeout: 10 * time.Second}
}

// Resolver locates and persists memory indexes.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent Resolve calls for the same
// principal collapse into one registry walk via singleflight.
type Resolver struct {
	registry ledger.Service
	blobs    blobstore.Store
	metrics  *observability.WalletMetrics
	timeout  time.Duration

	mu    sync.RWMutex
	cache map[string]string // principal → index ID

	group singleflight.Group
}

// NewResolver creates a resolver over the given registry and blob
// store.
func NewResolver(registry ledger.Service, blobs blobstore.Store, cfg Config, metrics *observability.WalletMetrics) *Resolver {
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultConfig().ResolveTimeout
	}
	return &Resolver{
		registry: registry,
		blobs:    blobs,
		metrics:  metrics,
		timeout:  cfg.ResolveTimeout,
		cache:    make(map[string]string),
	}
}

// =============================================================================
// Resolve
// =============================================================================

// Resolve locates the memory index for principal.
//
// # Inputs
//
//   - ctx: Context; the resolver layers its own overall deadline on
//     top.
//   - principal: The requesting principal address. Required.
//   - explicitIndexID: Optional caller-supplied index ID. Empty skips
//     step 2.
//
// # Outputs
//
//   - Resolution: Exists=false with nil error when no index was found
//     anywhere; lookup failures degrade to that, they do not error.
//   - error: Only context cancellation or deadline expiry.
func (r *Resolver) Resolve(ctx context.Context, principal, explicitIndexID string) (Resolution, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Collapse concurrent walks for the same lookup. The shared result
	// is a value type, safe to hand to every waiter.
	flightKey := principal + "\x00" + explicitIndexID
	v, err, _ := r.group.Do(flightKey, func() (interface{}, error) {
		return r.resolve(ctx, principal, explicitIndexID)
	})
	if err != nil {
		return Resolution{}, err
	}

	res := v.(Resolution)
	r.metrics.RecordResolution(res.Source, time.Since(start).Seconds())
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, principal, explicitIndexID string) (Resolution, error) {
	// Step 1: cache.
	if indexID, ok := r.cachedIndexID(principal); ok {
		ptr, err := r.validPointer(ctx, principal, indexID)
		switch {
		case err == nil:
			return Resolution{Exists: true, Pointer: ptr, Source: observability.SourceCache}, nil
		case errors.Is(err, errWrongOwner):
			// Poisoned mapping. Drop it and walk the chain fresh.
			r.invalidate(principal)
			slog.Warn("memoryindex.resolver: cached index owned by another principal, invalidating",
				"principal", principal,
				"index_id", indexID,
			)
		case ctx.Err() != nil:
			return Resolution{}, ctx.Err()
		default:
			r.invalidate(principal)
			r.metrics.RecordResolutionFallback("cache")
			slog.Warn("memoryindex.resolver: cached index lookup failed, falling through",
				"principal", principal,
				"index_id", indexID,
				"error", err,
			)
		}
	}

	// Step 2: explicit index ID.
	if explicitIndexID != "" {
		ptr, err := r.validPointer(ctx, principal, explicitIndexID)
		switch {
		case err == nil:
			r.remember(principal, ptr.IndexID)
			return Resolution{Exists: true, Pointer: ptr, Source: observability.SourceExplicit}, nil
		case ctx.Err() != nil:
			return Resolution{}, ctx.Err()
		default:
			r.metrics.RecordResolutionFallback("explicit")
			slog.Warn("memoryindex.resolver: explicit index lookup failed, falling through",
				"principal", principal,
				"index_id", explicitIndexID,
				"error", err,
			)
		}
	}

	// Step 3: principal-keyed registry entry.
	ptr, err := r.registry.GetPointerByPrincipal(ctx, principal)
	switch {
	case err == nil:
		if verifyErr := r.verifyPointer(ctx, principal, ptr); verifyErr == nil {
			r.remember(principal, ptr.IndexID)
			return Resolution{Exists: true, Pointer: ptr, Source: observability.SourcePrincipal}, nil
		} else if ctx.Err() != nil {
			return Resolution{}, ctx.Err()
		} else {
			r.metrics.RecordResolutionFallback("principal")
			slog.Warn("memoryindex.resolver: principal-keyed pointer failed verification, falling through",
				"principal", principal,
				"index_id", ptr.IndexID,
				"error", verifyErr,
			)
		}
	case ctx.Err() != nil:
		return Resolution{}, ctx.Err()
	case !errors.Is(err, ledger.ErrNotFound):
		r.metrics.RecordResolutionFallback("principal")
		slog.Warn("memoryindex.resolver: principal-keyed lookup failed, falling through",
			"principal", principal,
			"error", err,
		)
	}

	// Step 4: enumerate by owner, newest first.
	ptrs, err := r.registry.GetPointersByOwner(ctx, principal)
	switch {
	case ctx.Err() != nil:
		return Resolution{}, ctx.Err()
	case err != nil:
		r.metrics.RecordResolutionFallback("enumerated")
		slog.Warn("memoryindex.resolver: owner enumeration failed",
			"principal", principal,
			"error", err,
		)
	default:
		for _, candidate := range ptrs {
			if verifyErr := r.verifyPointer(ctx, principal, candidate); verifyErr != nil {
				if ctx.Err() != nil {
					return Resolution{}, ctx.Err()
				}
				slog.Warn("memoryindex.resolver: enumerated pointer failed verification, trying next",
					"principal", principal,
					"index_id", candidate.IndexID,
					"error", verifyErr,
				)
				continue
			}
			r.remember(principal, candidate.IndexID)
			return Resolution{Exists: true, Pointer: candidate, Source: observability.SourceEnumerated}, nil
		}
	}

	return Resolution{Exists: false, Source: observability.SourceNone}, nil
}

// =============================================================================
// Load / Save
// =============================================================================

// Load fetches the encrypted index and graph blobs for a resolved
// pointer.
func (r *Resolver) Load(ctx context.Context, ptr datatypes.MemoryIndexPointer) (indexData, graphData []byte, err error) {
	indexData, err = r.blobs.Get(ctx, ptr.IndexBlobID)
	if err != nil {
		return nil, nil, fmt.Errorf("load index blob %s: %w", ptr.IndexBlobID, err)
	}
	graphData, err = r.blobs.Get(ctx, ptr.GraphBlobID)
	if err != nil {
		return nil, nil, fmt.Errorf("load graph blob %s: %w", ptr.GraphBlobID, err)
	}
	return indexData, graphData, nil
}

// Save persists new index and graph blobs and advances the registry
// pointer.
//
// # Description
//
// Blobs are written first: content addressing makes orphaned blobs
// harmless, while a pointer referencing missing blobs would not be.
// The registry update names the version the caller resolved; a
// concurrent writer that advanced it first surfaces as
// ledger.ErrVersionConflict, which propagates so the caller can
// re-resolve, re-merge and retry.
//
// A pointer with an empty IndexID registers a fresh index keyed to the
// principal's address.
func (r *Resolver) Save(ctx context.Context, principal string, ptr datatypes.MemoryIndexPointer, indexData, graphData []byte) (datatypes.MemoryIndexPointer, error) {
	indexBlobID, err := r.blobs.Put(ctx, indexData)
	if err != nil {
		r.metrics.RecordMemoryWrite("error")
		return datatypes.MemoryIndexPointer{}, fmt.Errorf("store index blob: %w", err)
	}
	graphBlobID, err := r.blobs.Put(ctx, graphData)
	if err != nil {
		r.metrics.RecordMemoryWrite("error")
		return datatypes.MemoryIndexPointer{}, fmt.Errorf("store graph blob: %w", err)
	}

	if ptr.IndexID == "" {
		fresh := datatypes.MemoryIndexPointer{
			IndexID:      principal,
			IndexBlobID:  indexBlobID,
			GraphBlobID:  graphBlobID,
			OwnerAddress: principal,
			CreatedAt:    time.Now().UTC(),
		}
		if err := r.registry.RegisterPointer(ctx, fresh); err != nil {
			if errors.Is(err, ledger.ErrVersionConflict) {
				r.metrics.RecordMemoryWrite("version_conflict")
			} else {
				r.metrics.RecordMemoryWrite("error")
			}
			return datatypes.MemoryIndexPointer{}, fmt.Errorf("register pointer: %w", err)
		}
		fresh.Version = 1
		r.remember(principal, fresh.IndexID)
		r.metrics.RecordMemoryWrite("success")
		return fresh, nil
	}

	updated, err := r.registry.UpdatePointer(ctx, ptr.IndexID, indexBlobID, graphBlobID, ptr.Version)
	if err != nil {
		if errors.Is(err, ledger.ErrVersionConflict) {
			r.metrics.RecordMemoryWrite("version_conflict")
		} else {
			r.metrics.RecordMemoryWrite("error")
		}
		return datatypes.MemoryIndexPointer{}, fmt.Errorf("update pointer %s: %w", ptr.IndexID, err)
	}
	r.remember(principal, updated.IndexID)
	r.metrics.RecordMemoryWrite("success")
	return updated, nil
}

// =============================================================================
// Internal
// =============================================================================

// errWrongOwner marks a pointer that resolved but belongs to a
// different principal.
var errWrongOwner = errors.New("pointer owned by different principal")

// validPointer fetches indexID from the registry and verifies it for
// principal.
func (r *Resolver) validPointer(ctx context.Context, principal, indexID string) (datatypes.MemoryIndexPointer, error) {
	ptr, err := r.registry.GetPointer(ctx, indexID)
	if err != nil {
		return datatypes.MemoryIndexPointer{}, err
	}
	if err := r.verifyPointer(ctx, principal, ptr); err != nil {
		return datatypes.MemoryIndexPointer{}, err
	}
	return ptr, nil
}

// verifyPointer checks ownership and that the pointer's index blob
// actually exists. A pointer to missing data is as useless as no
// pointer.
func (r *Resolver) verifyPointer(ctx context.Context, principal string, ptr datatypes.MemoryIndexPointer) error {
	if !ptr.OwnedBy(principal) {
		return errWrongOwner
	}
	ok, err := r.blobs.Has(ctx, ptr.IndexBlobID)
	if err != nil {
		return fmt.Errorf("check index blob %s: %w", ptr.IndexBlobID, err)
	}
	if !ok {
		return fmt.Errorf("index blob %s: %w", ptr.IndexBlobID, blobstore.ErrNotFound)
	}
	return nil
}

func (r *Resolver) cachedIndexID(principal string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.cache[principal]
	return id, ok
}

func (r *Resolver) remember(principal, indexID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[principal] = indexID
}

func (r *Resolver) invalidate(principal string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, principal)
}
