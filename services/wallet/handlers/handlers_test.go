// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianVault/services/wallet/access"
	"github.com/AleutianAI/AleutianVault/services/wallet/blobstore"
	"github.com/AleutianAI/AleutianVault/services/wallet/datatypes"
	"github.com/AleutianAI/AleutianVault/services/wallet/ledger"
	"github.com/AleutianAI/AleutianVault/services/wallet/memoryindex"
	"github.com/AleutianAI/AleutianVault/services/wallet/middleware"
	"github.com/AleutianAI/AleutianVault/services/wallet/session"
	"github.com/AleutianAI/AleutianVault/services/wallet/threshold"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeNetwork is an in-memory threshold network. Ciphertexts are opaque
// handles into a blob table; decrypt succeeds only when the proof's
// identity bytes match the identity the blob was encrypted under.
type fakeNetwork struct {
	mu      sync.Mutex
	seq     int
	blobs   map[string]fakeBlob
	denyAll bool
}

type fakeBlob struct {
	identity  []byte
	plaintext []byte
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{blobs: make(map[string]fakeBlob)}
}

func (n *fakeNetwork) Encrypt(_ context.Context, _ int, _ string, identity []byte, plaintext []byte) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	handle := fmt.Sprintf("fake-ct-%d", n.seq)
	n.blobs[handle] = fakeBlob{
		identity:  append([]byte(nil), identity...),
		plaintext: append([]byte(nil), plaintext...),
	}
	return []byte(handle), nil
}

func (n *fakeNetwork) Decrypt(_ context.Context, ciphertext []byte, proof threshold.Proof) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.denyAll {
		return nil, threshold.ErrAccessDenied
	}
	blob, ok := n.blobs[string(ciphertext)]
	if !ok || !bytes.Equal(blob.identity, proof.IdentityBytes) {
		return nil, threshold.ErrAccessDenied
	}
	return append([]byte(nil), blob.plaintext...), nil
}

var _ threshold.Client = (*fakeNetwork)(nil)

// scriptedExtractor pops one prepared graph fragment per Extract call
// and returns empty fragments once the script runs out.
type scriptedExtractor struct {
	fragments []datatypes.KnowledgeGraph
}

func (e *scriptedExtractor) Extract(context.Context, string) (datatypes.KnowledgeGraph, error) {
	if len(e.fragments) == 0 {
		return datatypes.EmptyGraph(), nil
	}
	next := e.fragments[0]
	e.fragments = e.fragments[1:]
	return next, nil
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	router    *gin.Engine
	net       *fakeNetwork
	orch      *access.Orchestrator
	extractor *scriptedExtractor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := session.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	sessions := session.NewManager(session.Config{TTL: 30 * time.Minute}, clock)
	t.Cleanup(sessions.Close)

	net := newFakeNetwork()
	orch := access.NewOrchestrator(sessions, net, access.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BackoffFactor:  2.0,
	}, clock)

	blobs, err := blobstore.NewBadgerStore(blobstore.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })

	resolver := memoryindex.NewResolver(ledger.NewMemory(), blobs, memoryindex.Config{}, nil)
	extractor := &scriptedExtractor{}

	router := gin.New()
	router.GET("/health", HealthCheck)
	v1 := router.Group("/v1")
	v1.Use(middleware.PrincipalMiddleware())
	v1.POST("/sessions/challenge", CreateChallenge(sessions))
	v1.POST("/sessions/signature", AttachSignature(sessions))
	v1.POST("/decrypt", Decrypt(orch))
	v1.POST("/memories", CreateMemory(sessions, orch, resolver, extractor, MemoryConfig{}))
	v1.POST("/memories/search", SearchMemories(orch, resolver, MemoryConfig{}))

	return &fixture{router: router, net: net, orch: orch, extractor: extractor}
}

func (f *fixture) post(t *testing.T, path, principal string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if principal != "" {
		req.Header.Set(middleware.PrincipalHeader, principal)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out),
		"body: %s", rec.Body.String())
	return out
}

func sigB64(principal string) string {
	return base64.StdEncoding.EncodeToString([]byte("sig-over-challenge-" + principal))
}

func fragment(entities []datatypes.Entity, rels []datatypes.Relationship) datatypes.KnowledgeGraph {
	g := datatypes.EmptyGraph()
	g.Entities = append(g.Entities, entities...)
	g.Relationships = append(g.Relationships, rels...)
	return g
}

// =============================================================================
// Session Endpoints
// =============================================================================

func TestCreateChallengeIssuesChallenge(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/v1/sessions/challenge", "0xALICE", gin.H{"package_id": "pkg-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "challenge_issued", body["state"])
	assert.NotEmpty(t, body["challenge"])
	assert.NotEmpty(t, body["expires_at"])
}

func TestCreateChallengeIsIdempotent(t *testing.T) {
	f := newFixture(t)

	first := decodeBody(t, f.post(t, "/v1/sessions/challenge", "0xALICE", gin.H{"package_id": "pkg-1"}))
	second := decodeBody(t, f.post(t, "/v1/sessions/challenge", "0xALICE", gin.H{"package_id": "pkg-1"}))
	assert.Equal(t, first["challenge"], second["challenge"])
}

func TestAttachSignatureCompletesHandshake(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/v1/sessions/challenge", "0xALICE", gin.H{"package_id": "pkg-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.post(t, "/v1/sessions/signature", "0xALICE", gin.H{
		"package_id": "pkg-1",
		"signature":  sigB64("0xALICE"),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cached", decodeBody(t, rec)["state"])
}

func TestAttachSignatureWithoutChallengeIs404(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/v1/sessions/signature", "0xALICE", gin.H{
		"package_id": "pkg-1",
		"signature":  sigB64("0xALICE"),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMissingPrincipalHeaderIs401(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/v1/sessions/challenge", "", gin.H{"package_id": "pkg-1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// Decrypt Endpoint
// =============================================================================

func TestDecryptRoundTrip(t *testing.T) {
	f := newFixture(t)

	selfID := datatypes.Identity{Kind: datatypes.IdentitySelf, OwnerAddress: "0xALICE"}
	ciphertext, err := f.orch.Encrypt(context.Background(), 2, "pkg-1", selfID, []byte("the launch codes"))
	require.NoError(t, err)

	rec := f.post(t, "/v1/decrypt", "0xALICE", gin.H{
		"ciphertext": base64.StdEncoding.EncodeToString(ciphertext),
		"identity":   gin.H{"kind": "self", "owner_address": "0xALICE"},
		"package_id": "pkg-1",
		"signature":  sigB64("0xALICE"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	plaintext, err := base64.StdEncoding.DecodeString(decodeBody(t, rec)["plaintext"].(string))
	require.NoError(t, err)
	assert.Equal(t, "the launch codes", string(plaintext))
}

func TestDecryptWithoutSessionOrSignatureIs401(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/v1/decrypt", "0xALICE", gin.H{
		"ciphertext": base64.StdEncoding.EncodeToString([]byte("whatever")),
		"identity":   gin.H{"kind": "self", "owner_address": "0xALICE"},
		"package_id": "pkg-1",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDecryptWrongIdentityIs403(t *testing.T) {
	f := newFixture(t)

	selfID := datatypes.Identity{Kind: datatypes.IdentitySelf, OwnerAddress: "0xALICE"}
	ciphertext, err := f.orch.Encrypt(context.Background(), 2, "pkg-1", selfID, []byte("secret"))
	require.NoError(t, err)

	// Mallory presents her own identity against Alice's ciphertext.
	rec := f.post(t, "/v1/decrypt", "0xMALLORY", gin.H{
		"ciphertext": base64.StdEncoding.EncodeToString(ciphertext),
		"identity":   gin.H{"kind": "self", "owner_address": "0xMALLORY"},
		"package_id": "pkg-1",
		"signature":  sigB64("0xMALLORY"),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDecryptUnknownIdentityKindIs400(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/v1/decrypt", "0xALICE", gin.H{
		"ciphertext": base64.StdEncoding.EncodeToString([]byte("x")),
		"identity":   gin.H{"kind": "quantum", "owner_address": "0xALICE"},
		"package_id": "pkg-1",
		"signature":  sigB64("0xALICE"),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// Memory Endpoints
// =============================================================================

func createMemoryBody(content string, vector []float32) gin.H {
	return gin.H{
		"content":    content,
		"vector":     vector,
		"package_id": "pkg-1",
		"signature":  sigB64("0xALICE"),
	}
}

func TestCreateMemoryFreshIndex(t *testing.T) {
	f := newFixture(t)
	f.extractor.fragments = []datatypes.KnowledgeGraph{
		fragment(
			[]datatypes.Entity{{ID: "alice", Label: "Alice", Type: "PERSON"}},
			nil,
		),
	}

	rec := f.post(t, "/v1/memories", "0xALICE", createMemoryBody("Alice joined.", []float32{1, 0, 0}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["memory_id"])
	assert.Equal(t, "0xALICE", body["index_id"], "fresh index is principal-keyed")
	assert.EqualValues(t, 1, body["version"])
	assert.EqualValues(t, 1, body["entities"])
}

func TestCreateMemorySecondWriteBumpsVersion(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/v1/memories", "0xALICE", createMemoryBody("first", []float32{1, 0, 0}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.post(t, "/v1/memories", "0xALICE", createMemoryBody("second", []float32{0, 1, 0}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decodeBody(t, rec)["version"])
}

func TestCreateMemoryWithoutSessionOrSignatureIs401(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/v1/memories", "0xALICE", gin.H{
		"content":    "no credentials",
		"vector":     []float32{1, 0, 0},
		"package_id": "pkg-1",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateMemoryReusesCachedSession(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/v1/memories", "0xALICE", createMemoryBody("first", []float32{1, 0, 0}))
	require.Equal(t, http.StatusCreated, rec.Code)

	// No signature on the second write; the cached session carries it.
	rec = f.post(t, "/v1/memories", "0xALICE", gin.H{
		"content":    "second",
		"vector":     []float32{0, 1, 0},
		"package_id": "pkg-1",
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateMemoryDimensionMismatchIs400(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/v1/memories", "0xALICE", createMemoryBody("first", []float32{1, 0, 0}))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.post(t, "/v1/memories", "0xALICE", createMemoryBody("wrong shape", []float32{1, 0, 0, 0}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateMemoryMissingContentIs400(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/v1/memories", "0xALICE", gin.H{
		"vector":     []float32{1, 0, 0},
		"package_id": "pkg-1",
		"signature":  sigB64("0xALICE"),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchMemoriesBeforeAnyWriteIsEmpty(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/v1/memories/search", "0xALICE", gin.H{
		"vector":     []float32{1, 0, 0},
		"package_id": "pkg-1",
		"signature":  sigB64("0xALICE"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp searchMemoriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
}

func TestSearchMemoriesRanksBySimilarity(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/v1/memories", "0xALICE", createMemoryBody("points east", []float32{1, 0, 0}))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = f.post(t, "/v1/memories", "0xALICE", createMemoryBody("points north", []float32{0, 1, 0}))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.post(t, "/v1/memories/search", "0xALICE", gin.H{
		"vector":     []float32{0.9, 0.1, 0},
		"top_k":      1,
		"package_id": "pkg-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp searchMemoriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "points east", resp.Results[0].Content)
	assert.Equal(t, "vector", resp.Results[0].Source)
	assert.InDelta(t, 0.994, resp.Results[0].Score, 0.01)
}

func TestSearchMemoriesExpandsThroughGraph(t *testing.T) {
	f := newFixture(t)
	f.extractor.fragments = []datatypes.KnowledgeGraph{
		fragment(
			[]datatypes.Entity{
				{ID: "alice", Label: "Alice", Type: "PERSON"},
				{ID: "project_x", Label: "Project X", Type: "PROJECT"},
			},
			[]datatypes.Relationship{{Source: "alice", Target: "project_x", Label: "works_on"}},
		),
		fragment(
			[]datatypes.Entity{
				{ID: "project_x", Label: "Project X", Type: "PROJECT"},
				{ID: "june", Label: "June", Type: "DATE"},
			},
			[]datatypes.Relationship{{Source: "project_x", Target: "june", Label: "ships_in"}},
		),
	}

	rec := f.post(t, "/v1/memories", "0xALICE", createMemoryBody("Alice works on Project X", []float32{1, 0, 0}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = f.post(t, "/v1/memories", "0xALICE", createMemoryBody("Project X ships in June", []float32{0, 1, 0}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// The query vector only matches the first memory; the second is
	// reachable because both mention Project X.
	rec = f.post(t, "/v1/memories/search", "0xALICE", gin.H{
		"vector":     []float32{1, 0, 0},
		"top_k":      1,
		"max_hops":   2,
		"package_id": "pkg-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp searchMemoriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "Alice works on Project X", resp.Results[0].Content)
	assert.Equal(t, "vector", resp.Results[0].Source)
	assert.Equal(t, "Project X ships in June", resp.Results[1].Content)
	assert.Equal(t, "graph", resp.Results[1].Source)
}

func TestSearchMemoriesDeniedIs403(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/v1/memories", "0xALICE", createMemoryBody("secret", []float32{1, 0, 0}))
	require.Equal(t, http.StatusCreated, rec.Code)

	f.net.denyAll = true
	rec = f.post(t, "/v1/memories/search", "0xALICE", gin.H{
		"vector":     []float32{1, 0, 0},
		"package_id": "pkg-1",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMemoriesAreIsolatedPerPrincipal(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/v1/memories", "0xALICE", createMemoryBody("alice's memory", []float32{1, 0, 0}))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.post(t, "/v1/memories/search", "0xBOB", gin.H{
		"vector":     []float32{1, 0, 0},
		"package_id": "pkg-1",
		"signature":  sigB64("0xBOB"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp searchMemoriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}
