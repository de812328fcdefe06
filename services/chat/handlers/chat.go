// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pcraig3/gc-chat/services/chat/conversation"
	"github.com/pcraig3/gc-chat/services/chat/datatypes"
	"github.com/pcraig3/gc-chat/services/chat/middleware"
	"github.com/pcraig3/gc-chat/services/chat/observability"
)

// HandleChatStream runs one exchange over SSE.
//
// The client POSTs a message (optionally naming a conversation to resume)
// and receives token events as the model streams, then a single done event
// carrying the finalized message: id, terminal status, full content with
// renumbered citations, and resolved sources. The handler runs the exchange
// synchronously; client disconnect cancels it through the request context.
func HandleChatStream(sm *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.GetUserInfo(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		var req datatypes.ChatStreamRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
			return
		}

		entry := sm.Session(user.UserID)
		session := entry.Session()

		// Resuming a different conversation rehydrates the session first.
		if req.ConversationID != "" {
			active := session.ActiveConversation()
			if active == nil || active.ID != req.ConversationID {
				loaded, err := session.Hydrate(c.Request.Context(), req.ConversationID)
				if errors.Is(err, conversation.ErrExchangeInFlight) {
					c.JSON(http.StatusConflict, gin.H{"error": "another response is already being generated"})
					return
				}
				if err != nil {
					slog.Error("Failed to hydrate conversation",
						"conversationId", req.ConversationID, "error", err)
					c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
					return
				}
				if loaded == nil {
					c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
					return
				}
			}
		}

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		// The observer runs on this goroutine (Submit is synchronous), so
		// writing to the SSE stream from the sink is safe. Token events
		// carry only the delta since the last notification; notifications
		// that rewrite content (notices, citation renumbering) are covered
		// by the done event.
		prev := ""
		entry.subscribe(func(msg *datatypes.Message) {
			if strings.HasPrefix(msg.Content, prev) && len(msg.Content) > len(prev) {
				if err := writer.WriteToken(msg.Content[len(prev):]); err != nil {
					slog.Warn("Failed to write token event", "error", err)
				}
			}
			prev = msg.Content
		})
		defer entry.unsubscribe()

		started := time.Now()
		msg, err := session.Submit(c.Request.Context(), req.Message)
		switch {
		case errors.Is(err, conversation.ErrExchangeInFlight):
			writer.WriteError("another response is already being generated")
			return
		case err != nil:
			slog.Error("Exchange failed", "error", err)
			writer.WriteError("failed to generate a response")
			return
		case msg == nil:
			writer.WriteError("message is empty")
			return
		}

		observability.ObserveExchange(msg.Status, started, len(msg.Sources))
		if err := writer.WriteDone(msg); err != nil {
			slog.Warn("Failed to write done event", "messageId", msg.ID, "error", err)
		}
	}
}

// HandleChatCancel cancels the user's in-flight exchange, if any. Always
// 202: cancellation is cooperative and may race completion.
func HandleChatCancel(sm *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.GetUserInfo(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		sm.Session(user.UserID).Session().Cancel()
		c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
	}
}

// HandleChatReset clears the user's session state. The next message starts a
// fresh conversation; persisted conversations are untouched.
func HandleChatReset(sm *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.GetUserInfo(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		if err := sm.Session(user.UserID).Session().Reset(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "a response is being generated; cancel it first"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}
