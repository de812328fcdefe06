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
	"github.com/gorilla/websocket"

	"github.com/pcraig3/gc-chat/services/chat/conversation"
	"github.com/pcraig3/gc-chat/services/chat/datatypes"
	"github.com/pcraig3/gc-chat/services/chat/middleware"
	"github.com/pcraig3/gc-chat/services/chat/observability"
)

// WSRequest is one client message on the chat websocket.
type WSRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleChatWebSocket serves the same exchange pipeline as the SSE endpoint
// over a persistent websocket: the client sends one message per turn and
// receives token events followed by a done event. Messages within one
// connection run sequentially; the session serializes exchanges anyway.
func HandleChatWebSocket(sm *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.GetUserInfo(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("Websocket client connected")

		entry := sm.Session(user.UserID)
		session := entry.Session()

		for {
			var req WSRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("Websocket client disconnected", "error", err.Error())
				break
			}
			if strings.TrimSpace(req.Message) == "" {
				if sendJSON(ws, datatypes.StreamEvent{Type: "error", Error: "message is empty"}) != nil {
					return
				}
				continue
			}

			ctx := c.Request.Context()

			if req.ConversationID != "" {
				active := session.ActiveConversation()
				if active == nil || active.ID != req.ConversationID {
					loaded, err := session.Hydrate(ctx, req.ConversationID)
					if errors.Is(err, conversation.ErrExchangeInFlight) {
						if sendJSON(ws, datatypes.StreamEvent{Type: "error", Error: "another response is already being generated"}) != nil {
							return
						}
						continue
					}
					if err != nil || loaded == nil {
						if sendJSON(ws, datatypes.StreamEvent{Type: "error", Error: "conversation not found"}) != nil {
							return
						}
						continue
					}
				}
			}

			// Same delta scheme as the SSE handler: the observer runs on
			// this goroutine, so writing to the socket from the sink is safe.
			prev := ""
			writeFailed := false
			entry.subscribe(func(msg *datatypes.Message) {
				if writeFailed {
					return
				}
				if strings.HasPrefix(msg.Content, prev) && len(msg.Content) > len(prev) {
					if sendJSON(ws, datatypes.StreamEvent{Type: "token", Content: msg.Content[len(prev):]}) != nil {
						writeFailed = true
					}
				}
				prev = msg.Content
			})

			started := time.Now()
			msg, err := session.Submit(ctx, req.Message)
			entry.unsubscribe()

			if err != nil || msg == nil {
				if err != nil {
					slog.Error("Websocket exchange failed", "error", err)
				}
				if sendJSON(ws, datatypes.StreamEvent{Type: "error", Error: "failed to generate a response"}) != nil {
					return
				}
				continue
			}

			observability.ObserveExchange(msg.Status, started, len(msg.Sources))
			if sendJSON(ws, datatypes.StreamEvent{
				Type:      "done",
				MessageID: msg.ID,
				Status:    msg.Status,
				Content:   msg.Content,
				Sources:   msg.Sources,
			}) != nil {
				return
			}
		}
	}
}
