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
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianVault/services/wallet/access"
	"github.com/AleutianAI/AleutianVault/services/wallet/datatypes"
	"github.com/AleutianAI/AleutianVault/services/wallet/identity"
	"github.com/AleutianAI/AleutianVault/services/wallet/middleware"
	"github.com/AleutianAI/AleutianVault/services/wallet/observability"
	"github.com/AleutianAI/AleutianVault/services/wallet/session"
)

// =============================================================================
// Request / Response Types
// =============================================================================

// identityRequest is the wire form of an encryption identity.
type identityRequest struct {
	Kind          string `json:"kind" binding:"required"`
	OwnerAddress  string `json:"owner_address" binding:"required"`
	TargetAddress string `json:"target_address"`
	ExpiresAtUnix int64  `json:"expires_at_unix"`
	Role          string `json:"role"`
}

// toIdentity converts the wire form to the domain type.
func (r identityRequest) toIdentity() (datatypes.Identity, error) {
	kind, ok := datatypes.ParseIdentityKind(r.Kind)
	if !ok {
		return datatypes.Identity{}, identity.ErrUnsupportedIdentityKind
	}
	id := datatypes.Identity{
		Kind:          kind,
		OwnerAddress:  r.OwnerAddress,
		TargetAddress: r.TargetAddress,
		Role:          r.Role,
	}
	if r.ExpiresAtUnix != 0 {
		id.ExpiresAt = time.Unix(r.ExpiresAtUnix, 0).UTC()
	}
	return id, nil
}

type decryptRequest struct {
	Ciphertext string          `json:"ciphertext" binding:"required"` // base64
	Identity   identityRequest `json:"identity" binding:"required"`
	PackageID  string          `json:"package_id" binding:"required"`
	Signature  string          `json:"signature"` // base64, optional with a live session
}

type decryptResponse struct {
	Plaintext string `json:"plaintext"` // base64
}

// =============================================================================
// Handler
// =============================================================================

// Decrypt recovers plaintext through the access orchestrator.
//
// # Status Mapping
//
//   - 400: malformed request or unsupported identity
//   - 401: signature required or session expired
//   - 403: threshold network denied the proof
//   - 502: threshold network unreachable after retries
func Decrypt(orch *access.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		principal := middleware.GetPrincipal(c)

		var req decryptRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ciphertext, err := base64.StdEncoding.DecodeString(req.Ciphertext)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ciphertext must be base64"})
			return
		}
		var signature []byte
		if req.Signature != "" {
			signature, err = base64.StdEncoding.DecodeString(req.Signature)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "signature must be base64"})
				return
			}
		}
		id, err := req.Identity.toIdentity()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		plaintext, err := orch.Decrypt(c.Request.Context(), ciphertext, id, principal, req.PackageID, signature)
		if err != nil {
			outcome, status, message := classifyDecryptError(err)
			observability.DefaultMetrics.RecordDecrypt(outcome, time.Since(start).Seconds())
			c.JSON(status, gin.H{"error": message})
			return
		}

		observability.DefaultMetrics.RecordDecrypt(observability.DecryptSuccess, time.Since(start).Seconds())
		c.JSON(http.StatusOK, decryptResponse{
			Plaintext: base64.StdEncoding.EncodeToString(plaintext),
		})
	}
}

// classifyDecryptError maps orchestrator errors to a metric outcome,
// HTTP status, and client-safe message.
func classifyDecryptError(err error) (observability.DecryptOutcome, int, string) {
	switch {
	case errors.Is(err, session.ErrSignatureRequired):
		return observability.DecryptError, http.StatusUnauthorized, "signature required to create session"
	case errors.Is(err, session.ErrSessionExpired):
		return observability.DecryptExpired, http.StatusUnauthorized, "session expired, re-authentication required"
	case errors.Is(err, access.ErrAccessDenied):
		return observability.DecryptDenied, http.StatusForbidden, "access denied"
	case errors.Is(err, access.ErrNetwork):
		return observability.DecryptNetwork, http.StatusBadGateway, "threshold network unreachable"
	case errors.Is(err, identity.ErrUnsupportedIdentityKind),
		errors.Is(err, identity.ErrIncompleteIdentity):
		return observability.DecryptError, http.StatusBadRequest, err.Error()
	default:
		return observability.DecryptError, http.StatusInternalServerError, "decrypt failed"
	}
}
