// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memoryindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianVault/services/wallet/blobstore"
	"github.com/AleutianAI/AleutianVault/services/wallet/datatypes"
	"github.com/AleutianAI/AleutianVault/services/wallet/ledger"
	"github.com/AleutianAI/AleutianVault/services/wallet/observability"
)

// =============================================================================
// Fixtures
// =============================================================================

// countingLedger wraps a ledger.Service and counts calls per method,
// optionally failing specific methods.
type countingLedger struct {
	ledger.Service
	getPointer            int
	getPointerByPrincipal int
	getPointersByOwner    int

	failGetPointer            error
	failGetPointerByPrincipal error
	failGetPointersByOwner    error
}

func (c *countingLedger) GetPointer(ctx context.Context, indexID string) (datatypes.MemoryIndexPointer, error) {
	c.getPointer++
	if c.failGetPointer != nil {
		return datatypes.MemoryIndexPointer{}, c.failGetPointer
	}
	return c.Service.GetPointer(ctx, indexID)
}

func (c *countingLedger) GetPointerByPrincipal(ctx context.Context, principal string) (datatypes.MemoryIndexPointer, error) {
	c.getPointerByPrincipal++
	if c.failGetPointerByPrincipal != nil {
		return datatypes.MemoryIndexPointer{}, c.failGetPointerByPrincipal
	}
	return c.Service.GetPointerByPrincipal(ctx, principal)
}

func (c *countingLedger) GetPointersByOwner(ctx context.Context, owner string) ([]datatypes.MemoryIndexPointer, error) {
	c.getPointersByOwner++
	if c.failGetPointersByOwner != nil {
		return nil, c.failGetPointersByOwner
	}
	return c.Service.GetPointersByOwner(ctx, owner)
}

type fixture struct {
	resolver *Resolver
	registry *countingLedger
	memory   *ledger.Memory
	blobs    *blobstore.BadgerStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	blobs, err := blobstore.NewBadgerStore(blobstore.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })

	memory := ledger.NewMemory()
	registry := &countingLedger{Service: memory}
	return &fixture{
		resolver: NewResolver(registry, blobs, DefaultConfig(), nil),
		registry: registry,
		memory:   memory,
		blobs:    blobs,
	}
}

// seedIndex stores real blobs and registers a pointer for them.
func (f *fixture) seedIndex(t *testing.T, indexID, owner string, createdAt time.Time) datatypes.MemoryIndexPointer {
	t.Helper()
	ctx := context.Background()

	indexBlobID, err := f.blobs.Put(ctx, []byte("index-"+indexID))
	require.NoError(t, err)
	graphBlobID, err := f.blobs.Put(ctx, []byte("graph-"+indexID))
	require.NoError(t, err)

	ptr := datatypes.MemoryIndexPointer{
		IndexID:      indexID,
		IndexBlobID:  indexBlobID,
		GraphBlobID:  graphBlobID,
		OwnerAddress: owner,
		CreatedAt:    createdAt,
	}
	require.NoError(t, f.memory.RegisterPointer(ctx, ptr))
	ptr.Version = 1
	return ptr
}

// =============================================================================
// Resolve
// =============================================================================

func TestResolve_ExplicitIndexID(t *testing.T) {
	f := newFixture(t)
	want := f.seedIndex(t, "idx-1", "0xOWNER", time.Now())

	res, err := f.resolver.Resolve(context.Background(), "0xOWNER", "idx-1")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, want, res.Pointer)
	assert.Equal(t, observability.SourceExplicit, res.Source)
}

func TestResolve_PrincipalKeyed(t *testing.T) {
	f := newFixture(t)
	// Address-keyed convention: index ID equals the owner address.
	f.seedIndex(t, "0xOWNER", "0xOWNER", time.Now())

	res, err := f.resolver.Resolve(context.Background(), "0xOWNER", "")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, observability.SourcePrincipal, res.Source)
}

func TestResolve_EnumerationNewestFirst(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	f.seedIndex(t, "idx-old", "0xOWNER", base)
	newest := f.seedIndex(t, "idx-new", "0xOWNER", base.Add(time.Hour))

	res, err := f.resolver.Resolve(context.Background(), "0xOWNER", "")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, newest.IndexID, res.Pointer.IndexID)
	assert.Equal(t, observability.SourceEnumerated, res.Source)
}

func TestResolve_NothingFoundIsNotAnError(t *testing.T) {
	f := newFixture(t)

	res, err := f.resolver.Resolve(context.Background(), "0xNEWUSER", "")
	require.NoError(t, err)
	assert.False(t, res.Exists)
	assert.Equal(t, observability.SourceNone, res.Source)
}

func TestResolve_CacheShortCircuitsRegistryWalk(t *testing.T) {
	f := newFixture(t)
	f.seedIndex(t, "idx-1", "0xOWNER", time.Now())

	_, err := f.resolver.Resolve(context.Background(), "0xOWNER", "idx-1")
	require.NoError(t, err)
	walkCalls := f.registry.getPointerByPrincipal + f.registry.getPointersByOwner

	res, err := f.resolver.Resolve(context.Background(), "0xOWNER", "")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, observability.SourceCache, res.Source)
	assert.Equal(t, walkCalls, f.registry.getPointerByPrincipal+f.registry.getPointersByOwner,
		"a cache hit must not walk the registry chain")
}

func TestResolve_ExplicitIDOwnedByOtherPrincipalIgnored(t *testing.T) {
	f := newFixture(t)
	f.seedIndex(t, "idx-theirs", "0xSOMEONE", time.Now())
	mine := f.seedIndex(t, "0xOWNER", "0xOWNER", time.Now())

	res, err := f.resolver.Resolve(context.Background(), "0xOWNER", "idx-theirs")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, mine.IndexID, res.Pointer.IndexID, "another principal's index must never resolve")
}

func TestResolve_PoisonedCacheInvalidatedAndReResolved(t *testing.T) {
	f := newFixture(t)
	f.seedIndex(t, "idx-shared", "0xALICE", time.Now())
	bobs := f.seedIndex(t, "0xBOB", "0xBOB", time.Now())

	// Poison Bob's cache entry directly.
	f.resolver.remember("0xBOB", "idx-shared")

	res, err := f.resolver.Resolve(context.Background(), "0xBOB", "")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, bobs.IndexID, res.Pointer.IndexID)

	// The poisoned entry is gone and the good one took its place.
	cached, ok := f.resolver.cachedIndexID("0xBOB")
	assert.True(t, ok)
	assert.Equal(t, "0xBOB", cached)
}

func TestResolve_ExplicitLookupFailureFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.seedIndex(t, "0xOWNER", "0xOWNER", time.Now())
	f.registry.failGetPointer = ledger.ErrUnavailable

	res, err := f.resolver.Resolve(context.Background(), "0xOWNER", "idx-whatever")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, observability.SourcePrincipal, res.Source)
}

func TestResolve_AllRegistryFailuresDegradeToAbsent(t *testing.T) {
	f := newFixture(t)
	f.seedIndex(t, "idx-1", "0xOWNER", time.Now())
	f.registry.failGetPointer = ledger.ErrUnavailable
	f.registry.failGetPointerByPrincipal = ledger.ErrUnavailable
	f.registry.failGetPointersByOwner = ledger.ErrUnavailable

	res, err := f.resolver.Resolve(context.Background(), "0xOWNER", "idx-1")
	require.NoError(t, err, "lookup failures degrade, they do not error")
	assert.False(t, res.Exists)
}

func TestResolve_PointerWithMissingBlobSkipped(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	older := f.seedIndex(t, "idx-good", "0xOWNER", base)

	// Newer pointer references a blob that was never stored.
	dangling := datatypes.MemoryIndexPointer{
		IndexID:      "idx-dangling",
		IndexBlobID:  blobstore.ComputeID([]byte("never stored")),
		GraphBlobID:  blobstore.ComputeID([]byte("also never stored")),
		OwnerAddress: "0xOWNER",
		CreatedAt:    base.Add(time.Hour),
	}
	require.NoError(t, f.memory.RegisterPointer(context.Background(), dangling))

	res, err := f.resolver.Resolve(context.Background(), "0xOWNER", "")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, older.IndexID, res.Pointer.IndexID, "enumeration must skip pointers to missing blobs")
}

func TestResolve_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.resolver.Resolve(ctx, "0xOWNER", "")
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Load / Save
// =============================================================================

func TestLoad_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ptr := f.seedIndex(t, "idx-1", "0xOWNER", time.Now())

	indexData, graphData, err := f.resolver.Load(context.Background(), ptr)
	require.NoError(t, err)
	assert.Equal(t, []byte("index-idx-1"), indexData)
	assert.Equal(t, []byte("graph-idx-1"), graphData)
}

func TestLoad_MissingBlob(t *testing.T) {
	f := newFixture(t)
	ptr := datatypes.MemoryIndexPointer{
		IndexBlobID: blobstore.ComputeID([]byte("absent")),
		GraphBlobID: blobstore.ComputeID([]byte("absent too")),
	}

	_, _, err := f.resolver.Load(context.Background(), ptr)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestSave_FreshIndexRegistersAtVersionOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.resolver.Save(ctx, "0xNEW", datatypes.MemoryIndexPointer{}, []byte("idx"), []byte("graph"))
	require.NoError(t, err)
	assert.Equal(t, "0xNEW", saved.IndexID)
	assert.Equal(t, "0xNEW", saved.OwnerAddress)
	assert.Equal(t, uint64(1), saved.Version)

	// Blobs landed in the store.
	got, err := f.blobs.Get(ctx, saved.IndexBlobID)
	require.NoError(t, err)
	assert.Equal(t, []byte("idx"), got)

	// And the next resolve finds it without a walk.
	res, err := f.resolver.Resolve(ctx, "0xNEW", "")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, observability.SourceCache, res.Source)
}

func TestSave_UpdateAdvancesVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ptr := f.seedIndex(t, "idx-1", "0xOWNER", time.Now())

	saved, err := f.resolver.Save(ctx, "0xOWNER", ptr, []byte("new index"), []byte("new graph"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), saved.Version)
	assert.Equal(t, blobstore.ComputeID([]byte("new index")), saved.IndexBlobID)
}

func TestSave_StaleVersionConflictPropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ptr := f.seedIndex(t, "idx-1", "0xOWNER", time.Now())

	// Another writer advances the pointer first.
	_, err := f.resolver.Save(ctx, "0xOWNER", ptr, []byte("writer A index"), []byte("writer A graph"))
	require.NoError(t, err)

	// We still hold version 1.
	_, err = f.resolver.Save(ctx, "0xOWNER", ptr, []byte("writer B index"), []byte("writer B graph"))
	assert.ErrorIs(t, err, ledger.ErrVersionConflict)
}
