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

// =============================================================================
// Knowledge Graph
// =============================================================================

// Entity is a typed node in a principal's knowledge graph.
//
// Entity IDs are unique within a graph; the merger enforces this by
// dropping duplicate ids on merge.
type Entity struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// Relationship is a labeled edge between two entities.
//
// A relationship is only ever stored if both Source and Target exist as
// entity ids at merge time. Traversal treats edges as undirected.
type Relationship struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

// KnowledgeGraph is a set of typed entities and labeled relationships.
//
// # Description
//
// The graph is durable per principal: created once, mutated additively
// by merge operations, and never deleted by the wallet core. The JSON
// shape matches the entity-extraction collaborator contract so extracted
// results can feed the merger directly.
type KnowledgeGraph struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// EmptyGraph returns a graph with allocated, zero-length slices so JSON
// output is always {"entities":[],"relationships":[]} rather than nulls.
func EmptyGraph() KnowledgeGraph {
	return KnowledgeGraph{
		Entities:      make([]Entity, 0),
		Relationships: make([]Relationship, 0),
	}
}

// Clone returns a deep copy of the graph. The merger never mutates its
// input, so callers that want to keep the old graph keep it as-is and
// the merger clones internally.
func (g KnowledgeGraph) Clone() KnowledgeGraph {
	out := KnowledgeGraph{
		Entities:      make([]Entity, len(g.Entities)),
		Relationships: make([]Relationship, len(g.Relationships)),
	}
	copy(out.Entities, g.Entities)
	copy(out.Relationships, g.Relationships)
	return out
}

// EntityIDs returns the set of entity ids currently in the graph.
func (g KnowledgeGraph) EntityIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(g.Entities))
	for _, e := range g.Entities {
		ids[e.ID] = struct{}{}
	}
	return ids
}
