// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package conversation

import (
	"context"

	"github.com/pcraig3/gc-chat/services/chat/datatypes"
)

// Searcher is the retrieval collaborator. Failure and an empty result are
// both treated as "no documents"; retrieval is never fatal to an exchange.
type Searcher interface {
	TopChunks(ctx context.Context, query string, topK int) ([]datatypes.Source, error)
}

// Store is the persistence collaborator, partitioned by user identity.
//
// Implementations must be tolerant of being unconfigured: the session treats
// persistence as best-effort and logs failures without surfacing them, since
// conversation continuity takes priority over durability.
type Store interface {
	SaveConversation(ctx context.Context, conv *datatypes.Conversation) error
	SaveMessage(ctx context.Context, msg *datatypes.Message) error
	GetConversation(ctx context.Context, userID, conversationID string) (*datatypes.Conversation, error)
	GetConversationsForUser(ctx context.Context, userID string) ([]*datatypes.Conversation, error)
	GetMessagesForConversation(ctx context.Context, userID, conversationID string) ([]*datatypes.Message, error)
	DeleteMessages(ctx context.Context, messages []*datatypes.Message) error
	DeleteConversation(ctx context.Context, conv *datatypes.Conversation) error
}

// NopStore is the Store used when no backing database is configured. Every
// operation is a no-op returning empty results, never an error.
type NopStore struct{}

func (NopStore) SaveConversation(context.Context, *datatypes.Conversation) error { return nil }
func (NopStore) SaveMessage(context.Context, *datatypes.Message) error { return nil }

func (NopStore) GetConversation(context.Context, string, string) (*datatypes.Conversation, error) {
	return nil, nil
}

func (NopStore) GetConversationsForUser(context.Context, string) ([]*datatypes.Conversation, error) {
	return nil, nil
}

func (NopStore) GetMessagesForConversation(context.Context, string, string) ([]*datatypes.Message, error) {
	return nil, nil
}

func (NopStore) DeleteMessages(context.Context, []*datatypes.Message) error { return nil }
func (NopStore) DeleteConversation(context.Context, *datatypes.Conversation) error { return nil }

var _ Store = NopStore{}
