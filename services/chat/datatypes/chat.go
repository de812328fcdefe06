// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package datatypes provides the data structures shared across the chat
// service: conversation turns, retrieved sources, and the request/response
// types bound by the HTTP handlers.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MaxMessageContentBytes is the maximum size of a single submitted message.
// Checked in bytes, not runes, to bound memory on large payloads.
const MaxMessageContentBytes = 32 * 1024 // 32KB

// Message statuses. A message always terminates in exactly one of these.
const (
	StatusSuccess   = "success"
	StatusCancelled = "cancel"
	StatusError     = "error"
)

// Feedback values for an assistant message.
const (
	FeedbackNegative = -1
	FeedbackPositive = 1
)

// Roles used when shaping model-facing history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// chatValidate is the shared validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces MaxMessageContentBytes on a string field.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// Source is one retrieved reference snippet. Title is the identity used for
// both caching and citation matching (trimmed, case-insensitive comparisons);
// Chunk may grow when duplicate titles are consolidated.
type Source struct {
	Title   string `json:"title"`
	Chunk   string `json:"chunk"`
	Culture string `json:"culture"`
	URL     string `json:"url"`
	Size    int    `json:"size"`
}

// AppendToChunk extends the chunk text in place. Used by document
// consolidation to merge multiple retrieval hits for the same title.
func (s *Source) AppendToChunk(additional string) {
	s.Chunk += additional
}

// Message is one conversation turn, user or assistant. Content is mutable:
// an assistant message starts empty (the externally observable "loading"
// signal) and grows as fragments stream in.
type Message struct {
	ID              string    `json:"id"`
	IsAssistant     bool      `json:"is_assistant"`
	CreatedAt       time.Time `json:"created_at"`
	Content         string    `json:"content"`
	Sources         []Source  `json:"sources,omitempty"`
	UserID          string    `json:"user_id,omitempty"`
	ConversationID  string    `json:"conversation_id,omitempty"`
	Feedback        int       `json:"feedback,omitempty"` // -1 negative, 1 positive, 0 none
	FeedbackMessage string    `json:"feedback_message,omitempty"`
	Status          string    `json:"status"`
}

// NewMessage creates a message with a fresh id, a creation timestamp and
// success status. Identity is assigned here and never reused.
func NewMessage(isAssistant bool, content string) *Message {
	return &Message{
		ID:          uuid.New().String(),
		IsAssistant: isAssistant,
		CreatedAt:   time.Now().UTC(),
		Content:     content,
		Status:      StatusSuccess,
	}
}

// Role returns the model-facing role for this turn.
func (m *Message) Role() string {
	if m.IsAssistant {
		return RoleAssistant
	}
	return RoleUser
}

// Conversation groups messages under one thread. Title is set once from the
// first user message; UpdatedAt is bumped on every append.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UserID    string    `json:"user_id,omitempty"`
}

// NewConversation creates a conversation titled after its first message.
func NewConversation(title string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch bumps the updated timestamp.
func (c *Conversation) Touch() {
	c.UpdatedAt = time.Now().UTC()
}

// ConversationWithMessages pairs a conversation with its ordered messages,
// used by the thread-listing and hydration endpoints.
type ConversationWithMessages struct {
	Conversation *Conversation `json:"conversation"`
	Messages     []*Message    `json:"messages"`
}

// ChatTurn is a role-tagged entry handed to the language model. This is the
// sanitized, model-facing shape; it never includes ids or feedback.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatStreamRequest is the body for POST /v1/chat/stream.
//
// Message is the literal user question as typed. ConversationID is optional:
// when set, the session is hydrated from the store before the exchange.
type ChatStreamRequest struct {
	Message        string `json:"message" validate:"required,maxbytes"`
	ConversationID string `json:"conversation_id,omitempty" validate:"omitempty,uuid4"`
}

// Validate checks the request against its validation tags.
func (r *ChatStreamRequest) Validate() error {
	return chatValidate.Struct(r)
}

// FeedbackRequest is the body for POST /v1/messages/:messageId/feedback.
// ConversationID locates the message under its user-partitioned key.
type FeedbackRequest struct {
	ConversationID string `json:"conversation_id" validate:"required,uuid4"`
	Feedback       int    `json:"feedback" validate:"required,oneof=-1 1"`
	Message        string `json:"message,omitempty" validate:"omitempty,maxbytes"`
}

// Validate checks the request against its validation tags.
func (r *FeedbackRequest) Validate() error {
	return chatValidate.Struct(r)
}

// StreamEvent is one SSE event emitted during an exchange. The hash fields
// chain events together for after-the-fact integrity checks.
type StreamEvent struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	CreatedAt int64    `json:"created_at"`
	Content   string   `json:"content,omitempty"`
	Message   string   `json:"message,omitempty"`
	Error     string   `json:"error,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
	Status    string   `json:"status,omitempty"`
	Sources   []Source `json:"sources,omitempty"`
	Hash      string   `json:"hash,omitempty"`
	PrevHash  string   `json:"prev_hash,omitempty"`
}
