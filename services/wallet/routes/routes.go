// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianVault/services/wallet/access"
	"github.com/AleutianAI/AleutianVault/services/wallet/extraction"
	"github.com/AleutianAI/AleutianVault/services/wallet/handlers"
	"github.com/AleutianAI/AleutianVault/services/wallet/memoryindex"
	"github.com/AleutianAI/AleutianVault/services/wallet/middleware"
	"github.com/AleutianAI/AleutianVault/services/wallet/session"
)

func SetupRoutes(router *gin.Engine, sessions *session.Manager, orch *access.Orchestrator,
	resolver *memoryindex.Resolver, extractor extraction.Extractor, memoryCfg handlers.MemoryConfig) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group. Every v1 route is principal-scoped.
	v1 := router.Group("/v1")
	v1.Use(middleware.PrincipalMiddleware())
	{
		v1.POST("/decrypt", handlers.Decrypt(orch))
		v1.POST("/memories", handlers.CreateMemory(sessions, orch, resolver, extractor, memoryCfg))
		v1.POST("/memories/search", handlers.SearchMemories(orch, resolver, memoryCfg))
		// Session handshake routes
		sessionRoutes := v1.Group("/sessions")
		{
			sessionRoutes.POST("/challenge", handlers.CreateChallenge(sessions))
			sessionRoutes.POST("/signature", handlers.AttachSignature(sessions))
		}
	}
}
