// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extraction turns free-form memory text into knowledge graph
// fragments.
//
// The primary path delegates to a language model and treats its output
// as untrusted: responses are schema-checked, malformed entries are
// dropped, and a fully unparseable response degrades to an empty graph
// rather than an error. Extraction failing must never block a memory
// write.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/AleutianAI/AleutianVault/services/wallet/datatypes"
)

// =============================================================================
// Interface
// =============================================================================

// Extractor produces a knowledge graph fragment from raw memory text.
type Extractor interface {
	// Extract analyzes text and returns entities and relationships.
	// Implementations return an empty graph, not an error, when the
	// text yields nothing.
	Extract(ctx context.Context, text string) (datatypes.KnowledgeGraph, error)
}

// =============================================================================
// LLM-backed extractor
// =============================================================================

// Config controls the LLM extraction call.
type Config struct {
	// TimeoutMs bounds a single extraction call. Default 15000.
	TimeoutMs int

	// MaxTokens caps the model response. Default 1024.
	MaxTokens int

	// Temperature for the extraction call. Extraction wants
	// determinism, so the default is 0.
	Temperature float64
}

// DefaultConfig returns the extraction defaults.
func DefaultConfig() Config {
	return Config{
		TimeoutMs:   15000,
		MaxTokens:   1024,
		Temperature: 0,
	}
}

// LLMExtractor extracts graph fragments with a langchaingo model.
//
// # Thread Safety
//
// Safe for concurrent use as long as the underlying model is.
type LLMExtractor struct {
	model  llms.Model
	config Config

	// generate is the LLM call, injectable for tests.
	generate func(ctx context.Context, prompt string) (string, error)
}

var _ Extractor = (*LLMExtractor)(nil)

// NewLLMExtractor creates an extractor over the given model.
func NewLLMExtractor(model llms.Model, cfg Config) *LLMExtractor {
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = DefaultConfig().TimeoutMs
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	e := &LLMExtractor{model: model, config: cfg}
	e.generate = func(ctx context.Context, prompt string) (string, error) {
		return llms.GenerateFromSinglePrompt(ctx, e.model, prompt,
			llms.WithMaxTokens(e.config.MaxTokens),
			llms.WithTemperature(e.config.Temperature),
		)
	}
	return e
}

// Extract implements Extractor.
//
// # Description
//
// Prompts the model for a strict JSON object with "entities" and
// "relationships" arrays, then validates the shape. A response that
// cannot be parsed at all produces an empty graph and a warning log.
// Entries missing required fields are dropped individually so one bad
// entity does not poison the batch. Only the LLM transport failing is
// an error.
func (e *LLMExtractor) Extract(ctx context.Context, text string) (datatypes.KnowledgeGraph, error) {
	if strings.TrimSpace(text) == "" {
		return datatypes.EmptyGraph(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.config.TimeoutMs)*time.Millisecond)
	defer cancel()

	response, err := e.generate(ctx, buildExtractionPrompt(text))
	if err != nil {
		return datatypes.EmptyGraph(), fmt.Errorf("extraction LLM call failed: %w", err)
	}

	graph, err := parseExtractionResponse(response)
	if err != nil {
		slog.Warn("extraction.extractor: unparseable model response, degrading to empty graph",
			"error", err,
			"response_length", len(response),
		)
		return datatypes.EmptyGraph(), nil
	}
	return graph, nil
}

// buildExtractionPrompt constructs the extraction instruction.
func buildExtractionPrompt(text string) string {
	return fmt.Sprintf(`Extract entities and relationships from the following personal note.

Entities are people, places, organizations, projects, dates, or concepts.
Each entity needs a stable lowercase snake_case "id", a display "label",
and a coarse "type" (PERSON, PLACE, ORG, PROJECT, DATE, CONCEPT).
Relationships connect two entity ids with a short verb-phrase "label".
Only reference entity ids you emitted.

Note:
%s

Respond with JSON only, no prose:
{"entities": [{"id": "...", "label": "...", "type": "..."}], "relationships": [{"source": "...", "target": "...", "label": "..."}]}`, text)
}

// parseExtractionResponse pulls the JSON object out of a model response
// and validates its shape.
//
// # Description
//
// Models wrap JSON in prose or markdown fences more often than not, so
// this scans for the outermost braces before unmarshalling. Entities
// without an id and relationships with missing or unknown endpoints are
// dropped, not errors.
func parseExtractionResponse(response string) (datatypes.KnowledgeGraph, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return datatypes.EmptyGraph(), fmt.Errorf("no valid JSON found in response")
	}

	var raw datatypes.KnowledgeGraph
	if err := json.Unmarshal([]byte(response[start:end+1]), &raw); err != nil {
		return datatypes.EmptyGraph(), fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	graph := datatypes.EmptyGraph()
	ids := make(map[string]struct{}, len(raw.Entities))
	for _, ent := range raw.Entities {
		if ent.ID == "" || ent.Label == "" {
			continue
		}
		if _, dup := ids[ent.ID]; dup {
			continue
		}
		ids[ent.ID] = struct{}{}
		graph.Entities = append(graph.Entities, ent)
	}
	for _, rel := range raw.Relationships {
		if rel.Label == "" {
			continue
		}
		if _, ok := ids[rel.Source]; !ok {
			continue
		}
		if _, ok := ids[rel.Target]; !ok {
			continue
		}
		graph.Relationships = append(graph.Relationships, rel)
	}
	return graph, nil
}
