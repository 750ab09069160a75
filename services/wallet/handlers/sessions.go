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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianVault/services/wallet/middleware"
	"github.com/AleutianAI/AleutianVault/services/wallet/session"
)

// =============================================================================
// Request / Response Types
// =============================================================================

type challengeRequest struct {
	PackageID string `json:"package_id" binding:"required"`
}

type challengeResponse struct {
	Challenge string `json:"challenge"` // base64
	State     string `json:"state"`
	ExpiresAt string `json:"expires_at"` // RFC 3339
}

type signatureRequest struct {
	PackageID string `json:"package_id" binding:"required"`
	Signature string `json:"signature" binding:"required"` // base64
}

type sessionResponse struct {
	State     string `json:"state"`
	ExpiresAt string `json:"expires_at"` // RFC 3339
}

// =============================================================================
// Handlers
// =============================================================================

// CreateChallenge issues (or re-serves) the session challenge for the
// requesting principal and package. Repeated calls within the TTL
// return the same challenge bytes.
func CreateChallenge(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := middleware.GetPrincipal(c)

		var req challengeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sess, err := sessions.GetChallenge(principal, req.PackageID)
		if err != nil {
			slog.Error("handlers.sessions: challenge issuance failed",
				"principal", principal, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue challenge"})
			return
		}

		c.JSON(http.StatusOK, challengeResponse{
			Challenge: base64.StdEncoding.EncodeToString(sess.IssuedChallenge),
			State:     sess.State.String(),
			ExpiresAt: sess.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
}

// AttachSignature binds the principal's signature to its issued
// challenge, completing the session handshake.
func AttachSignature(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := middleware.GetPrincipal(c)

		var req signatureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		signature, err := base64.StdEncoding.DecodeString(req.Signature)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "signature must be base64"})
			return
		}

		sess, err := sessions.AttachSignature(principal, req.PackageID, signature)
		switch {
		case errors.Is(err, session.ErrChallengeNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "no live challenge for principal, request one first"})
			return
		case errors.Is(err, session.ErrSignatureAlreadySet):
			c.JSON(http.StatusConflict, gin.H{"error": "a different signature is already attached"})
			return
		case err != nil:
			slog.Error("handlers.sessions: signature attach failed",
				"principal", principal, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to attach signature"})
			return
		}

		c.JSON(http.StatusOK, sessionResponse{
			State:     sess.State.String(),
			ExpiresAt: sess.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
}
