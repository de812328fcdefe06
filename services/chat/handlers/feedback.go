// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pcraig3/gc-chat/services/chat/datatypes"
	"github.com/pcraig3/gc-chat/services/chat/middleware"
	"github.com/pcraig3/gc-chat/services/chat/observability"
)

// HandleFeedback records a thumbs up or down (with optional comment) on one
// assistant message. Repeated feedback overwrites: the last rating wins.
func HandleFeedback(sm *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.GetUserInfo(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		messageID := c.Param("messageId")

		var req datatypes.FeedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		ctx := c.Request.Context()
		messages, err := sm.Store().GetMessagesForConversation(ctx, user.UserID, req.ConversationID)
		if err != nil {
			slog.Error("Failed to fetch messages for feedback", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record feedback"})
			return
		}

		var target *datatypes.Message
		for _, msg := range messages {
			if msg.ID == messageID {
				target = msg
				break
			}
		}
		if target == nil || !target.IsAssistant {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}

		target.Feedback = req.Feedback
		target.FeedbackMessage = req.Message
		if err := sm.Store().SaveMessage(ctx, target); err != nil {
			slog.Error("Failed to save feedback", "messageId", messageID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record feedback"})
			return
		}

		direction := "positive"
		if req.Feedback == datatypes.FeedbackNegative {
			direction = "negative"
		}
		observability.FeedbackTotal.WithLabelValues(direction).Inc()

		slog.Info("Recorded message feedback", "messageId", messageID, "feedback", req.Feedback)
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}
