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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/AleutianAI/AleutianVault/services/wallet/datatypes"
)

// defaultRequestTimeout bounds every registry call. The memory index
// resolver applies its own overall deadline on top.
const defaultRequestTimeout = 10 * time.Second

type updateRequest struct {
	IndexBlobID     string `json:"index_blob_id"`
	GraphBlobID     string `json:"graph_blob_id"`
	ExpectedVersion uint64 `json:"expected_version"`
}

type listResponse struct {
	Pointers []datatypes.MemoryIndexPointer `json:"pointers"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPClient talks to the pointer registry gateway over JSON/HTTP.
//
// # Description
//
// Endpoints:
//
//	GET  {base}/v1/pointers/{indexID}
//	GET  {base}/v1/pointers/by-principal/{principal}
//	GET  {base}/v1/pointers?owner={owner}
//	POST {base}/v1/pointers
//	PUT  {base}/v1/pointers/{indexID}
//
// Status mapping: 404 → ErrNotFound; 409 → ErrVersionConflict; 5xx,
// timeouts and transport errors → ErrUnavailable.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Service = (*HTTPClient)(nil)

// NewHTTPClient creates a registry client for the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
}

// GetPointer implements Service.
func (c *HTTPClient) GetPointer(ctx context.Context, indexID string) (datatypes.MemoryIndexPointer, error) {
	var ptr datatypes.MemoryIndexPointer
	err := c.do(ctx, http.MethodGet, "/v1/pointers/"+url.PathEscape(indexID), nil, &ptr)
	return ptr, err
}

// GetPointerByPrincipal implements Service.
func (c *HTTPClient) GetPointerByPrincipal(ctx context.Context, principal string) (datatypes.MemoryIndexPointer, error) {
	var ptr datatypes.MemoryIndexPointer
	err := c.do(ctx, http.MethodGet, "/v1/pointers/by-principal/"+url.PathEscape(principal), nil, &ptr)
	return ptr, err
}

// GetPointersByOwner implements Service.
func (c *HTTPClient) GetPointersByOwner(ctx context.Context, owner string) ([]datatypes.MemoryIndexPointer, error) {
	var resp listResponse
	err := c.do(ctx, http.MethodGet, "/v1/pointers?owner="+url.QueryEscape(owner), nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Pointers, nil
}

// RegisterPointer implements Service.
func (c *HTTPClient) RegisterPointer(ctx context.Context, ptr datatypes.MemoryIndexPointer) error {
	var out datatypes.MemoryIndexPointer
	return c.do(ctx, http.MethodPost, "/v1/pointers", ptr, &out)
}

// UpdatePointer implements Service.
func (c *HTTPClient) UpdatePointer(ctx context.Context, indexID, indexBlobID, graphBlobID string, expectedVersion uint64) (datatypes.MemoryIndexPointer, error) {
	req := updateRequest{
		IndexBlobID:     indexBlobID,
		GraphBlobID:     graphBlobID,
		ExpectedVersion: expectedVersion,
	}
	var ptr datatypes.MemoryIndexPointer
	err := c.do(ctx, http.MethodPut, "/v1/pointers/"+url.PathEscape(indexID), req, &ptr)
	return ptr, err
}

// do sends a JSON request and decodes the JSON response, mapping HTTP
// status codes onto the package error taxonomy.
func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	switch {
	case httpResp.StatusCode == http.StatusOK || httpResp.StatusCode == http.StatusCreated:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode registry response: %w", err)
		}
		return nil
	case httpResp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, registryError(raw))
	case httpResp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrVersionConflict, registryError(raw))
	case httpResp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, httpResp.StatusCode, registryError(raw))
	default:
		return fmt.Errorf("registry rejected request: status %d: %s", httpResp.StatusCode, registryError(raw))
	}
}

func registryError(raw []byte) string {
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Error != "" {
		return er.Error
	}
	return string(raw)
}
