// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the wallet service.
//
// # Principal Extraction
//
// Every wallet operation is scoped to a principal address. The
// middleware extracts it from the X-Principal-Address header and
// stores it in the Gin context for downstream handlers:
//
//	Request
//	   │
//	   ▼
//	PrincipalMiddleware
//	   │
//	   ├─► Extract "X-Principal-Address: 0x..."
//	   │
//	   └─► Store principal in context
//	           │
//	           ▼
//	       Handler (retrieves via GetPrincipal)
//
// The header carries a claim, not proof: cryptographic binding happens
// at the session layer, where the principal must sign the issued
// challenge before any decrypt succeeds. A forged header can therefore
// enumerate pointer metadata but never recover plaintext.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

// principalKey is the context key for the principal address.
// Using a typed key prevents collisions with other context values.
const principalKey = "aleutian_principal_address"

// PrincipalHeader is the request header carrying the principal address.
const PrincipalHeader = "X-Principal-Address"

// =============================================================================
// Context Helpers
// =============================================================================

// SetPrincipal stores the principal address in the Gin context.
func SetPrincipal(c *gin.Context, principal string) {
	c.Set(principalKey, principal)
}

// GetPrincipal retrieves the principal address from the Gin context.
//
// # Outputs
//
//   - string: The principal address, or empty string if the middleware
//     did not run.
func GetPrincipal(c *gin.Context) string {
	if v, exists := c.Get(principalKey); exists {
		if principal, ok := v.(string); ok {
			return principal
		}
	}
	return ""
}

// =============================================================================
// Principal Middleware
// =============================================================================

// PrincipalMiddleware creates a Gin middleware that extracts and
// requires the principal address header.
//
// # Description
//
// Reads X-Principal-Address, trims it, and stores it in the context.
// Requests without the header are rejected with 401 before reaching
// any handler, since no wallet operation is meaningful without a
// principal.
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(middleware.PrincipalMiddleware())
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func PrincipalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := strings.TrimSpace(c.GetHeader(PrincipalHeader))
		if principal == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing " + PrincipalHeader + " header",
			})
			return
		}

		SetPrincipal(c, principal)
		c.Next()
	}
}
