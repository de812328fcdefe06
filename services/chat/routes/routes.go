// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pcraig3/gc-chat/services/chat/handlers"
	"github.com/pcraig3/gc-chat/services/chat/middleware"
	"github.com/pcraig3/gc-chat/services/search"
)

// SetupRoutes registers every endpoint of the chat service.
//
// Health and metrics are unauthenticated; everything under /v1 runs behind
// the identity middleware and operates only on the resolved user's data.
func SetupRoutes(router *gin.Engine, sm *handlers.SessionManager,
	searchClient search.Client, documents handlers.DocumentLister,
	identity middleware.IdentityProvider) {

	router.GET("/health", handlers.HandleHealth(searchClient))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(identity))
	{
		v1.POST("/chat/stream", handlers.HandleChatStream(sm))
		v1.GET("/chat/ws", handlers.HandleChatWebSocket(sm))
		v1.POST("/chat/cancel", handlers.HandleChatCancel(sm))
		v1.POST("/chat/reset", handlers.HandleChatReset(sm))

		conversations := v1.Group("/conversations")
		{
			conversations.GET("", handlers.HandleListConversations(sm))
			conversations.GET("/:conversationId", handlers.HandleGetConversation(sm))
			conversations.DELETE("/:conversationId", handlers.HandleDeleteConversation(sm))
		}

		v1.POST("/messages/:messageId/feedback", handlers.HandleFeedback(sm))
		v1.GET("/documents", handlers.HandleListDocuments(documents))
	}
}
