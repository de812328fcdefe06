// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package conversation implements the per-session chat pipeline: the message
// log, the retrieved-document cache, prompt assembly, history sanitization,
// citation resolution, and the session orchestrating them.
package conversation

import (
	"sort"

	"github.com/pcraig3/gc-chat/services/chat/datatypes"
)

// MessageStore is the in-memory ordered log of turns for one conversation.
//
// # Description
//
// Append-only by creation order; insertion order is chronological order.
// The store lazily creates its Conversation on the first append, titling it
// from that message. No internal locking: the owning session is the single
// writer (see ConversationSession).
//
// # Thread Safety
//
// Not safe for concurrent use. Access is serialized by the owning session.
type MessageStore struct {
	userID   string
	messages []*datatypes.Message
	active   *datatypes.Conversation
}

// NewMessageStore creates an empty store owned by the given user.
func NewMessageStore(userID string) *MessageStore {
	return &MessageStore{userID: userID}
}

// Append adds a message to the tail of the log.
//
// If no conversation is active, one is created with the message content as
// its title. The message is linked to the conversation and the conversation's
// UpdatedAt is bumped.
func (s *MessageStore) Append(msg *datatypes.Message) {
	if s.active == nil {
		s.active = datatypes.NewConversation(msg.Content)
		s.active.UserID = s.userID
	}

	msg.UserID = s.userID
	msg.ConversationID = s.active.ID
	s.active.Touch()

	s.messages = append(s.messages, msg)
}

// All returns a snapshot copy of the ordered log. Callers never observe
// later appends through the returned slice.
func (s *MessageStore) All() []*datatypes.Message {
	out := make([]*datatypes.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Recent returns the last n messages, or all of them if fewer exist.
// Snapshot semantics, original chronological order. n below 1 is treated
// as 1.
func (s *MessageStore) Recent(n int) []*datatypes.Message {
	if n < 1 {
		n = 1
	}
	if len(s.messages) <= n {
		return s.All()
	}
	out := make([]*datatypes.Message, n)
	copy(out, s.messages[len(s.messages)-n:])
	return out
}

// Clear empties the log and detaches the active conversation.
func (s *MessageStore) Clear() {
	s.messages = nil
	s.active = nil
}

// Hydrate replaces the store state with a persisted conversation and its
// messages. Messages are re-sorted by CreatedAt ascending, defending against
// out-of-order persistence reads.
func (s *MessageStore) Hydrate(conv *datatypes.Conversation, messages []*datatypes.Message) {
	s.active = conv

	s.messages = make([]*datatypes.Message, len(messages))
	copy(s.messages, messages)
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})
}

// ActiveConversation returns the current conversation, or nil before the
// first append.
func (s *MessageStore) ActiveConversation() *datatypes.Conversation {
	return s.active
}
