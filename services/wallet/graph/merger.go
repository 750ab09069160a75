// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph merges and traverses per-user knowledge graphs.
//
// All operations are pure: inputs are never mutated, outputs are fresh
// values. That keeps merge safe to call with graphs that are
// simultaneously held by caches or in-flight persist operations.
package graph

import (
	"github.com/AleutianAI/AleutianVault/services/wallet/datatypes"
)

// =============================================================================
// Merge
// =============================================================================

// Merge combines an existing knowledge graph with newly extracted
// entities and relationships.
//
// # Description
//
// Entities dedupe on ID: when both sides carry the same entity ID the
// existing entity's label and type win, so stored knowledge is never
// silently rewritten by a noisy extraction. Relationships dedupe on the
// full (source, target, label) triple, meaning two relationships
// between the same pair with different labels both survive.
// Relationships referencing an entity ID absent from the merged entity
// set are dropped: the merged graph never contains dangling endpoints.
//
// # Inputs
//
//   - existing: The graph loaded from storage. May be empty.
//   - incoming: Newly extracted graph fragment. May be empty.
//
// # Outputs
//
//   - datatypes.KnowledgeGraph: A new graph; neither input is mutated.
//
// # Examples
//
//	merged := graph.Merge(stored, extracted)
//	// len(merged.Entities) >= len(stored.Entities)
//
// # Thread Safety
//
// Pure function, safe for concurrent use.
func Merge(existing, incoming datatypes.KnowledgeGraph) datatypes.KnowledgeGraph {
	merged := datatypes.KnowledgeGraph{
		Entities:      make([]datatypes.Entity, 0, len(existing.Entities)+len(incoming.Entities)),
		Relationships: make([]datatypes.Relationship, 0, len(existing.Relationships)+len(incoming.Relationships)),
	}

	seen := make(map[string]struct{}, len(existing.Entities)+len(incoming.Entities))
	for _, e := range existing.Entities {
		if e.ID == "" {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		merged.Entities = append(merged.Entities, e)
	}
	for _, e := range incoming.Entities {
		if e.ID == "" {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		merged.Entities = append(merged.Entities, e)
	}

	type relKey struct {
		source, target, label string
	}
	seenRel := make(map[relKey]struct{}, len(existing.Relationships)+len(incoming.Relationships))
	appendRel := func(r datatypes.Relationship) {
		if _, ok := seen[r.Source]; !ok {
			return
		}
		if _, ok := seen[r.Target]; !ok {
			return
		}
		k := relKey{r.Source, r.Target, r.Label}
		if _, dup := seenRel[k]; dup {
			return
		}
		seenRel[k] = struct{}{}
		merged.Relationships = append(merged.Relationships, r)
	}
	for _, r := range existing.Relationships {
		appendRel(r)
	}
	for _, r := range incoming.Relationships {
		appendRel(r)
	}

	return merged
}

// =============================================================================
// Traversal
// =============================================================================

// FindRelated returns the IDs of all entities reachable from the seed
// set within maxHops undirected hops, including the seeds themselves.
//
// # Description
//
// Breadth-first over relationship edges with direction ignored: an
// entity is related whether it is the source or the target. maxHops of
// zero returns exactly the seed set. Growing maxHops is monotonic:
// every ID returned for n hops is returned for n+1. Seed IDs not
// present in the graph are returned like any other seed; they simply
// have no edges to expand.
//
// # Inputs
//
//   - g: The graph to traverse.
//   - seeds: Entity IDs to expand from.
//   - maxHops: Maximum traversal depth. Negative is treated as zero.
//
// # Outputs
//
//   - map[string]struct{}: The reachable entity ID set.
func FindRelated(g datatypes.KnowledgeGraph, seeds []string, maxHops int) map[string]struct{} {
	reached := make(map[string]struct{}, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for _, id := range seeds {
		if _, dup := reached[id]; dup {
			continue
		}
		reached[id] = struct{}{}
		frontier = append(frontier, id)
	}
	if maxHops <= 0 || len(frontier) == 0 {
		return reached
	}

	// Undirected adjacency built once; cheaper than scanning the edge
	// list per hop for graphs with any fan-out.
	adj := make(map[string][]string, len(g.Entities))
	for _, r := range g.Relationships {
		adj[r.Source] = append(adj[r.Source], r.Target)
		adj[r.Target] = append(adj[r.Target], r.Source)
	}

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		next := make([]string, 0, len(frontier))
		for _, id := range frontier {
			for _, neighbor := range adj[id] {
				if _, dup := reached[neighbor]; dup {
					continue
				}
				reached[neighbor] = struct{}{}
				next = append(next, neighbor)
			}
		}
		frontier = next
	}
	return reached
}
