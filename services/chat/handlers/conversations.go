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
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/pcraig3/gc-chat/services/chat/conversation"
	"github.com/pcraig3/gc-chat/services/chat/datatypes"
	"github.com/pcraig3/gc-chat/services/chat/middleware"
)

// HandleListConversations returns the user's conversation threads, most
// recently updated first, each with its messages in chronological order.
func HandleListConversations(sm *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.GetUserInfo(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		slog.Info("Received request to list conversations")

		ctx := c.Request.Context()
		store := sm.Store()

		conversations, err := store.GetConversationsForUser(ctx, user.UserID)
		if err != nil {
			slog.Error("Failed to list conversations", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
			return
		}

		sort.SliceStable(conversations, func(i, j int) bool {
			return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
		})

		threads := make([]*datatypes.ConversationWithMessages, 0, len(conversations))
		for _, conv := range conversations {
			messages, err := store.GetMessagesForConversation(ctx, user.UserID, conv.ID)
			if err != nil {
				slog.Error("Failed to load conversation messages",
					"conversationId", conv.ID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
				return
			}
			// Storage returns key order; threads read top to bottom.
			sort.SliceStable(messages, func(i, j int) bool {
				return messages[i].CreatedAt.Before(messages[j].CreatedAt)
			})
			threads = append(threads, &datatypes.ConversationWithMessages{
				Conversation: conv,
				Messages:     messages,
			})
		}

		c.JSON(http.StatusOK, gin.H{"conversations": threads})
	}
}

// HandleGetConversation loads one conversation with its messages and makes
// it the user's active session conversation. 404 covers both a missing id
// and an id owned by someone else.
func HandleGetConversation(sm *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.GetUserInfo(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		conversationID := c.Param("conversationId")

		loaded, err := sm.Session(user.UserID).Session().Hydrate(c.Request.Context(), conversationID)
		if errors.Is(err, conversation.ErrExchangeInFlight) {
			c.JSON(http.StatusConflict, gin.H{"error": "a response is being generated; try again shortly"})
			return
		}
		if err != nil {
			slog.Error("Failed to load conversation", "conversationId", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
			return
		}
		if loaded == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}

		c.JSON(http.StatusOK, loaded)
	}
}

// HandleDeleteConversation removes a conversation and all its messages.
// Messages are deleted first so a failure part-way leaves the conversation
// listed (and retryable) rather than orphaning unreachable messages.
func HandleDeleteConversation(sm *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.GetUserInfo(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		conversationID := c.Param("conversationId")
		slog.Info("Received request to delete a conversation", "conversationId", conversationID)

		ctx := c.Request.Context()
		store := sm.Store()

		conv, err := store.GetConversation(ctx, user.UserID, conversationID)
		if err != nil {
			slog.Error("Failed to fetch conversation for deletion", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversation"})
			return
		}
		if conv == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}

		// If the conversation is live in the session, detach it before any
		// data is removed; a running exchange blocks the deletion entirely.
		session := sm.Session(user.UserID).Session()
		if active := session.ActiveConversation(); active != nil && active.ID == conversationID {
			if err := session.Reset(); err != nil {
				c.JSON(http.StatusConflict, gin.H{"error": "a response is being generated; cancel it first"})
				return
			}
		}

		messages, err := store.GetMessagesForConversation(ctx, user.UserID, conversationID)
		if err != nil {
			slog.Error("Failed to fetch messages for deletion", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversation"})
			return
		}

		if err := store.DeleteMessages(ctx, messages); err != nil {
			slog.Error("Failed to delete messages", "conversationId", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fully delete conversation"})
			return
		}
		if err := store.DeleteConversation(ctx, conv); err != nil {
			slog.Error("Failed to delete conversation", "conversationId", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fully delete conversation"})
			return
		}

		slog.Info("Successfully deleted all data for conversation", "conversationId", conversationID)
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_conversation_id": conversationID})
	}
}
