// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianVault/services/wallet/datatypes"
)

// Memory is an in-process Service for local deployments and tests. It
// enforces the same version-conflict semantics as the real registry.
//
// # Thread Safety
//
// Safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	pointers map[string]datatypes.MemoryIndexPointer

	// byPrincipal maps a principal address to its address-keyed index
	// ID. Populated when a pointer is registered with the owner's
	// address as its index ID.
	byPrincipal map[string]string
}

var _ Service = (*Memory)(nil)

// NewMemory creates an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{
		pointers:    make(map[string]datatypes.MemoryIndexPointer),
		byPrincipal: make(map[string]string),
	}
}

// GetPointer implements Service.
func (m *Memory) GetPointer(ctx context.Context, indexID string) (datatypes.MemoryIndexPointer, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.MemoryIndexPointer{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ptr, ok := m.pointers[indexID]
	if !ok {
		return datatypes.MemoryIndexPointer{}, ErrNotFound
	}
	return ptr, nil
}

// GetPointerByPrincipal implements Service.
func (m *Memory) GetPointerByPrincipal(ctx context.Context, principal string) (datatypes.MemoryIndexPointer, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.MemoryIndexPointer{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	indexID, ok := m.byPrincipal[principal]
	if !ok {
		return datatypes.MemoryIndexPointer{}, ErrNotFound
	}
	ptr, ok := m.pointers[indexID]
	if !ok {
		return datatypes.MemoryIndexPointer{}, ErrNotFound
	}
	return ptr, nil
}

// GetPointersByOwner implements Service.
func (m *Memory) GetPointersByOwner(ctx context.Context, owner string) ([]datatypes.MemoryIndexPointer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []datatypes.MemoryIndexPointer
	for _, ptr := range m.pointers {
		if ptr.OwnerAddress == owner {
			out = append(out, ptr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// RegisterPointer implements Service.
func (m *Memory) RegisterPointer(ctx context.Context, ptr datatypes.MemoryIndexPointer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pointers[ptr.IndexID]; exists {
		return ErrVersionConflict
	}
	ptr.Version = 1
	m.pointers[ptr.IndexID] = ptr
	if ptr.IndexID == ptr.OwnerAddress {
		m.byPrincipal[ptr.OwnerAddress] = ptr.IndexID
	}
	return nil
}

// UpdatePointer implements Service.
func (m *Memory) UpdatePointer(ctx context.Context, indexID, indexBlobID, graphBlobID string, expectedVersion uint64) (datatypes.MemoryIndexPointer, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.MemoryIndexPointer{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ptr, ok := m.pointers[indexID]
	if !ok {
		return datatypes.MemoryIndexPointer{}, ErrNotFound
	}
	if ptr.Version != expectedVersion {
		return datatypes.MemoryIndexPointer{}, ErrVersionConflict
	}
	ptr.IndexBlobID = indexBlobID
	ptr.GraphBlobID = graphBlobID
	ptr.Version = expectedVersion + 1
	m.pointers[indexID] = ptr
	return ptr, nil
}
