// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package threshold

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultRequestTimeout bounds every key-server call. The decrypt path
// layers retries on top, so individual calls stay short.
const defaultRequestTimeout = 15 * time.Second

type encryptRequest struct {
	Threshold int    `json:"threshold"`
	PackageID string `json:"package_id"`
	Identity  string `json:"identity"` // base64
	Plaintext string `json:"plaintext"` // base64
}

type encryptResponse struct {
	Ciphertext string `json:"ciphertext"` // base64
}

type decryptRequest struct {
	Ciphertext string `json:"ciphertext"` // base64
	Proof      Proof  `json:"proof"`
}

type decryptResponse struct {
	Plaintext string `json:"plaintext"` // base64
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPClient talks to the threshold key-server gateway over JSON/HTTP.
//
// # Description
//
// Endpoints:
//
//	POST {base}/v1/encrypt
//	POST {base}/v1/decrypt
//
// Status mapping: 403 → ErrAccessDenied; 5xx, timeouts and transport
// errors map to ErrTransient. Other 4xx are surfaced verbatim; they mean the
// wallet built a malformed request and retrying would be pointless.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a gateway client for the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
}

// Encrypt implements Client.
func (c *HTTPClient) Encrypt(ctx context.Context, threshold int, packageID string, identity []byte, plaintext []byte) ([]byte, error) {
	req := encryptRequest{
		Threshold: threshold,
		PackageID: packageID,
		Identity:  base64.StdEncoding.EncodeToString(identity),
		Plaintext: base64.StdEncoding.EncodeToString(plaintext),
	}

	var resp encryptResponse
	if err := c.post(ctx, "/v1/encrypt", req, &resp); err != nil {
		return nil, err
	}

	ct, err := base64.StdEncoding.DecodeString(resp.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("malformed ciphertext in gateway response: %w", err)
	}
	return ct, nil
}

// Decrypt implements Client.
func (c *HTTPClient) Decrypt(ctx context.Context, ciphertext []byte, proof Proof) ([]byte, error) {
	req := decryptRequest{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Proof:      proof,
	}

	var resp decryptResponse
	if err := c.post(ctx, "/v1/decrypt", req, &resp); err != nil {
		return nil, err
	}

	pt, err := base64.StdEncoding.DecodeString(resp.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("malformed plaintext in gateway response: %w", err)
	}
	return pt, nil
}

// post sends a JSON request and decodes the JSON response, mapping HTTP
// status codes onto the package error taxonomy.
func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrTransient, err)
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
		return nil
	case httpResp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAccessDenied, gatewayError(raw))
	case httpResp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrTransient, httpResp.StatusCode, gatewayError(raw))
	default:
		return fmt.Errorf("gateway rejected request: status %d: %s", httpResp.StatusCode, gatewayError(raw))
	}
}

func gatewayError(raw []byte) string {
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Error != "" {
		return er.Error
	}
	return string(raw)
}

var _ Client = (*HTTPClient)(nil)
