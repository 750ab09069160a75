// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extraction

import (
	"context"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianVault/services/wallet/datatypes"
)

// NoopExtractor returns an empty graph for every input. Used when no
// model is configured; memory writes proceed without graph enrichment.
type NoopExtractor struct{}

var _ Extractor = NoopExtractor{}

// Extract implements Extractor.
func (NoopExtractor) Extract(_ context.Context, _ string) (datatypes.KnowledgeGraph, error) {
	return datatypes.EmptyGraph(), nil
}

// HeuristicExtractor is a degraded-mode extractor with no model
// dependency: it treats capitalized word runs as entities of type
// CONCEPT and emits no relationships. Good enough to keep graph search
// minimally useful when the model backend is down.
type HeuristicExtractor struct{}

var _ Extractor = HeuristicExtractor{}

// Extract implements Extractor.
func (HeuristicExtractor) Extract(_ context.Context, text string) (datatypes.KnowledgeGraph, error) {
	graph := datatypes.EmptyGraph()
	seen := make(map[string]struct{})

	var run []string
	flush := func() {
		if len(run) == 0 {
			return
		}
		label := strings.Join(run, " ")
		run = run[:0]
		id := strings.ToLower(strings.ReplaceAll(label, " ", "_"))
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		graph.Entities = append(graph.Entities, datatypes.Entity{
			ID:    id,
			Label: label,
			Type:  "CONCEPT",
		})
	}

	for i, word := range strings.Fields(text) {
		trimmed := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		// Sentence-leading capitals are usually not entities.
		if trimmed == "" || i == 0 || !unicode.IsUpper([]rune(trimmed)[0]) {
			flush()
			continue
		}
		run = append(run, trimmed)
		// Trailing punctuation ends the run.
		if !strings.HasSuffix(word, trimmed) {
			flush()
		}
	}
	flush()

	return graph, nil
}
