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
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianVault/services/wallet/access"
	"github.com/AleutianAI/AleutianVault/services/wallet/datatypes"
	"github.com/AleutianAI/AleutianVault/services/wallet/extraction"
	"github.com/AleutianAI/AleutianVault/services/wallet/graph"
	"github.com/AleutianAI/AleutianVault/services/wallet/ledger"
	"github.com/AleutianAI/AleutianVault/services/wallet/memoryindex"
	"github.com/AleutianAI/AleutianVault/services/wallet/middleware"
	"github.com/AleutianAI/AleutianVault/services/wallet/session"
	"github.com/AleutianAI/AleutianVault/services/wallet/vectorindex"
)

// =============================================================================
// Configuration
// =============================================================================

// MemoryConfig tunes the memory write and search paths.
type MemoryConfig struct {
	// EncryptThreshold is the t parameter for threshold encryption of
	// index and graph blobs. Default 2.
	EncryptThreshold int

	// DefaultMaxHops bounds graph expansion when the search request
	// does not name one. Default 2.
	DefaultMaxHops int

	// DefaultTopK bounds vector results when the search request does
	// not name one. Default 10.
	DefaultTopK int
}

// DefaultMemoryConfig returns the memory path defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		EncryptThreshold: 2,
		DefaultMaxHops:   2,
		DefaultTopK:      10,
	}
}

func (cfg MemoryConfig) withDefaults() MemoryConfig {
	def := DefaultMemoryConfig()
	if cfg.EncryptThreshold <= 0 {
		cfg.EncryptThreshold = def.EncryptThreshold
	}
	if cfg.DefaultMaxHops <= 0 {
		cfg.DefaultMaxHops = def.DefaultMaxHops
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	return cfg
}

// =============================================================================
// Request / Response Types
// =============================================================================

type createMemoryRequest struct {
	Content   string    `json:"content" binding:"required"`
	Vector    []float32 `json:"vector" binding:"required"`
	PackageID string    `json:"package_id" binding:"required"`
	Signature string    `json:"signature"` // base64, optional with a live session
	IndexID   string    `json:"index_id"`  // optional explicit index
}

type createMemoryResponse struct {
	MemoryID      string `json:"memory_id"`
	IndexID       string `json:"index_id"`
	Version       uint64 `json:"version"`
	Entities      int    `json:"entities"`
	Relationships int    `json:"relationships"`
}

type searchMemoriesRequest struct {
	Vector    []float32 `json:"vector" binding:"required"`
	TopK      int       `json:"top_k"`
	MaxHops   int       `json:"max_hops"`
	PackageID string    `json:"package_id" binding:"required"`
	Signature string    `json:"signature"` // base64
	IndexID   string    `json:"index_id"`
}

type searchResult struct {
	MemoryID string  `json:"memory_id"`
	Content  string  `json:"content"`
	Score    float32 `json:"score,omitempty"`

	// Source is "vector" for direct similarity hits and "graph" for
	// records reached through knowledge graph expansion.
	Source string `json:"source"`
}

type searchMemoriesResponse struct {
	Results []searchResult `json:"results"`
}

// =============================================================================
// Decrypted State
// =============================================================================

// memoryState is a principal's decrypted memory index state.
type memoryState struct {
	exists   bool
	pointer  datatypes.MemoryIndexPointer
	envelope datatypes.MemoryEnvelope
	graph    datatypes.KnowledgeGraph
}

// loadMemoryState resolves, loads and decrypts the principal's index
// and graph blobs.
//
// Storage-side failures (unreadable blobs, corrupt envelopes) degrade
// to a fresh empty state with a warning, matching the resolver's
// availability-over-consistency posture. Authorization failures never
// degrade; they propagate so the caller can surface them.
func loadMemoryState(ctx context.Context, orch *access.Orchestrator, resolver *memoryindex.Resolver,
	principal, packageID, indexID string, signature []byte) (memoryState, error) {

	res, err := resolver.Resolve(ctx, principal, indexID)
	if err != nil {
		return memoryState{}, err
	}
	if !res.Exists {
		return memoryState{graph: datatypes.EmptyGraph()}, nil
	}

	encIndex, encGraph, err := resolver.Load(ctx, res.Pointer)
	if err != nil {
		slog.Warn("handlers.memories: blob load failed, starting fresh index",
			"principal", principal, "index_id", res.Pointer.IndexID, "error", err)
		return memoryState{graph: datatypes.EmptyGraph()}, nil
	}

	selfID := datatypes.Identity{Kind: datatypes.IdentitySelf, OwnerAddress: principal}

	indexPlain, err := orch.Decrypt(ctx, encIndex, selfID, principal, packageID, signature)
	if err != nil {
		return memoryState{}, err
	}
	graphPlain, err := orch.Decrypt(ctx, encGraph, selfID, principal, packageID, signature)
	if err != nil {
		return memoryState{}, err
	}

	state := memoryState{exists: true, pointer: res.Pointer, graph: datatypes.EmptyGraph()}
	if err := json.Unmarshal(indexPlain, &state.envelope); err != nil {
		slog.Warn("handlers.memories: corrupt index envelope, starting fresh index",
			"principal", principal, "index_id", res.Pointer.IndexID, "error", err)
		return memoryState{exists: true, pointer: res.Pointer, graph: datatypes.EmptyGraph()}, nil
	}
	if err := json.Unmarshal(graphPlain, &state.graph); err != nil {
		slog.Warn("handlers.memories: corrupt graph blob, starting fresh graph",
			"principal", principal, "index_id", res.Pointer.IndexID, "error", err)
		state.graph = datatypes.EmptyGraph()
	}
	return state, nil
}

// =============================================================================
// Handlers
// =============================================================================

// CreateMemory ingests one memory: extract entities, merge the graph,
// index the vector, encrypt and persist.
//
// Writes are session-gated even when no existing blob needs decrypting
// (the first write to a fresh index), so a spoofed principal header
// alone cannot pollute anyone's index.
//
// The embedding vector is supplied by the caller; the wallet never
// sees an embedding model and treats vectors as opaque.
func CreateMemory(sessions *session.Manager, orch *access.Orchestrator, resolver *memoryindex.Resolver,
	extractor extraction.Extractor, cfg MemoryConfig) gin.HandlerFunc {
	cfg = cfg.withDefaults()

	return func(c *gin.Context) {
		principal := middleware.GetPrincipal(c)
		ctx := c.Request.Context()

		var req createMemoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		signature, ok := decodeSignature(c, req.Signature)
		if !ok {
			return
		}
		if _, err := sessions.GetOrCreate(principal, req.PackageID, signature); err != nil {
			respondAuthError(c, err)
			return
		}

		state, err := loadMemoryState(ctx, orch, resolver, principal, req.PackageID, req.IndexID, signature)
		if err != nil {
			respondAuthError(c, err)
			return
		}

		// Rehydrate or create the vector index.
		var index *vectorindex.Index
		if len(state.envelope.Index) > 0 {
			index, err = vectorindex.Load(state.envelope.Index)
			if err != nil {
				slog.Warn("handlers.memories: corrupt vector index, rebuilding",
					"principal", principal, "error", err)
				index = nil
			}
		}
		if index == nil {
			index, err = vectorindex.New(len(req.Vector))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if index.Dimension() != len(req.Vector) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "vector dimension does not match existing index",
			})
			return
		}

		// Enrich the graph. Extraction failing must not block the write.
		fragment, err := extractor.Extract(ctx, req.Content)
		if err != nil {
			slog.Warn("handlers.memories: extraction failed, storing without graph enrichment",
				"principal", principal, "error", err)
			fragment = datatypes.EmptyGraph()
		}
		merged := graph.Merge(state.graph, fragment)

		memoryID := uuid.NewString()
		if err := index.Add(memoryID, req.Vector); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		entityIDs := make([]string, 0, len(fragment.Entities))
		for _, e := range fragment.Entities {
			entityIDs = append(entityIDs, e.ID)
		}

		indexBytes, err := index.Serialize()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to serialize index"})
			return
		}
		state.envelope.Index = indexBytes
		state.envelope.Memories = append(state.envelope.Memories, datatypes.MemoryRecord{
			MemoryID:  memoryID,
			Content:   req.Content,
			CreatedAt: time.Now().UTC(),
			EntityIDs: entityIDs,
		})

		saved, err := persistState(ctx, orch, resolver, principal, req.PackageID, cfg.EncryptThreshold, state, merged)
		if err != nil {
			if errors.Is(err, ledger.ErrVersionConflict) {
				c.JSON(http.StatusConflict, gin.H{
					"error": "index changed concurrently, re-read and retry",
				})
				return
			}
			slog.Error("handlers.memories: persist failed",
				"principal", principal, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist memory"})
			return
		}

		c.JSON(http.StatusCreated, createMemoryResponse{
			MemoryID:      memoryID,
			IndexID:       saved.IndexID,
			Version:       saved.Version,
			Entities:      len(merged.Entities),
			Relationships: len(merged.Relationships),
		})
	}
}

// SearchMemories answers a similarity query expanded through the
// knowledge graph: vector hits come first, then records reachable from
// their entities within max_hops.
func SearchMemories(orch *access.Orchestrator, resolver *memoryindex.Resolver, cfg MemoryConfig) gin.HandlerFunc {
	cfg = cfg.withDefaults()

	return func(c *gin.Context) {
		principal := middleware.GetPrincipal(c)
		ctx := c.Request.Context()

		var req searchMemoriesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		signature, ok := decodeSignature(c, req.Signature)
		if !ok {
			return
		}
		if req.TopK <= 0 {
			req.TopK = cfg.DefaultTopK
		}
		if req.MaxHops < 0 {
			req.MaxHops = 0
		} else if req.MaxHops == 0 {
			req.MaxHops = cfg.DefaultMaxHops
		}

		state, err := loadMemoryState(ctx, orch, resolver, principal, req.PackageID, req.IndexID, signature)
		if err != nil {
			respondAuthError(c, err)
			return
		}
		if !state.exists || len(state.envelope.Index) == 0 {
			c.JSON(http.StatusOK, searchMemoriesResponse{Results: []searchResult{}})
			return
		}

		index, err := vectorindex.Load(state.envelope.Index)
		if err != nil {
			slog.Warn("handlers.memories: corrupt vector index on search",
				"principal", principal, "error", err)
			c.JSON(http.StatusOK, searchMemoriesResponse{Results: []searchResult{}})
			return
		}
		matches, err := index.Search(req.Vector, req.TopK)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		results := make([]searchResult, 0, len(matches))
		seen := make(map[string]struct{}, len(matches))
		var seeds []string
		for _, m := range matches {
			record, ok := state.envelope.FindMemory(m.MemoryID)
			if !ok {
				continue
			}
			seen[m.MemoryID] = struct{}{}
			seeds = append(seeds, record.EntityIDs...)
			results = append(results, searchResult{
				MemoryID: m.MemoryID,
				Content:  record.Content,
				Score:    m.Score,
				Source:   "vector",
			})
		}

		// Graph expansion: pull in memories that share entities with
		// anything reachable from the vector hits.
		related := graph.FindRelated(state.graph, seeds, req.MaxHops)
		for _, record := range state.envelope.Memories {
			if _, dup := seen[record.MemoryID]; dup {
				continue
			}
			for _, entityID := range record.EntityIDs {
				if _, ok := related[entityID]; ok {
					seen[record.MemoryID] = struct{}{}
					results = append(results, searchResult{
						MemoryID: record.MemoryID,
						Content:  record.Content,
						Source:   "graph",
					})
					break
				}
			}
		}

		c.JSON(http.StatusOK, searchMemoriesResponse{Results: results})
	}
}

// =============================================================================
// Helpers
// =============================================================================

// persistState encrypts the envelope and graph and advances the
// registry pointer.
func persistState(ctx context.Context, orch *access.Orchestrator, resolver *memoryindex.Resolver,
	principal, packageID string, threshold int, state memoryState, merged datatypes.KnowledgeGraph) (datatypes.MemoryIndexPointer, error) {

	envelopePlain, err := json.Marshal(state.envelope)
	if err != nil {
		return datatypes.MemoryIndexPointer{}, err
	}
	graphPlain, err := json.Marshal(merged)
	if err != nil {
		return datatypes.MemoryIndexPointer{}, err
	}

	selfID := datatypes.Identity{Kind: datatypes.IdentitySelf, OwnerAddress: principal}
	encIndex, err := orch.Encrypt(ctx, threshold, packageID, selfID, envelopePlain)
	if err != nil {
		return datatypes.MemoryIndexPointer{}, err
	}
	encGraph, err := orch.Encrypt(ctx, threshold, packageID, selfID, graphPlain)
	if err != nil {
		return datatypes.MemoryIndexPointer{}, err
	}

	return resolver.Save(ctx, principal, state.pointer, encIndex, encGraph)
}

// decodeSignature parses an optional base64 signature field, writing
// the 400 itself on failure.
func decodeSignature(c *gin.Context, encoded string) ([]byte, bool) {
	if encoded == "" {
		return nil, true
	}
	signature, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature must be base64"})
		return nil, false
	}
	return signature, true
}

// respondAuthError maps decrypt-path errors on the memory endpoints.
func respondAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrSignatureRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature required to create session"})
	case errors.Is(err, session.ErrSessionExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired, re-authentication required"})
	case errors.Is(err, session.ErrSignatureAlreadySet):
		c.JSON(http.StatusConflict, gin.H{"error": "a different signature is already attached"})
	case errors.Is(err, access.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, access.ErrNetwork):
		c.JSON(http.StatusBadGateway, gin.H{"error": "threshold network unreachable"})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timed out"})
	default:
		slog.Error("handlers.memories: unexpected error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
