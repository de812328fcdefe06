// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/pcraig3/gc-chat/services/chat/conversation"
	"github.com/pcraig3/gc-chat/services/chat/datatypes"
)

// Key layout, partitioned by user so every read and delete is scoped to its
// owner:
//
//	user/<userID>/conversation/<conversationID>          -> Conversation JSON
//	user/<userID>/message/<conversationID>/<messageID>   -> Message JSON
//
// Prefix scans over the second segment give "all conversations for a user";
// scans over the third give "all messages in a conversation".
const (
	conversationKeyFmt    = "user/%s/conversation/%s"
	messageKeyFmt         = "user/%s/message/%s/%s"
	conversationPrefixFmt = "user/%s/conversation/"
	messagePrefixFmt      = "user/%s/message/%s/"
)

// Store implements conversation.Store on an embedded BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type Store struct {
	db *badger.DB
	gc *gcRunner
}

// NewStore opens the database described by cfg and wraps it in a Store.
// Starts the GC runner when configured. Call Close when done.
func NewStore(cfg Config) (*Store, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		s.gc.start()
	}
	return s, nil
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// SaveConversation upserts a conversation record.
func (s *Store) SaveConversation(ctx context.Context, conv *datatypes.Conversation) error {
	if conv == nil || conv.UserID == "" {
		return errors.New("conversation must have an owning user")
	}
	key := fmt.Sprintf(conversationKeyFmt, conv.UserID, conv.ID)
	return s.put(ctx, key, conv)
}

// SaveMessage upserts a message record under its conversation.
func (s *Store) SaveMessage(ctx context.Context, msg *datatypes.Message) error {
	if msg == nil || msg.UserID == "" || msg.ConversationID == "" {
		return errors.New("message must have an owning user and conversation")
	}
	key := fmt.Sprintf(messageKeyFmt, msg.UserID, msg.ConversationID, msg.ID)
	return s.put(ctx, key, msg)
}

// GetConversation fetches one conversation owned by the user. A missing
// record returns (nil, nil): absence is not an error.
func (s *Store) GetConversation(ctx context.Context, userID, conversationID string) (*datatypes.Conversation, error) {
	key := fmt.Sprintf(conversationKeyFmt, userID, conversationID)

	var conv *datatypes.Conversation
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			conv = &datatypes.Conversation{}
			return json.Unmarshal(val, conv)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", conversationID, err)
	}
	return conv, nil
}

// GetConversationsForUser returns every conversation owned by the user, in
// key order. Callers sort for display.
func (s *Store) GetConversationsForUser(ctx context.Context, userID string) ([]*datatypes.Conversation, error) {
	prefix := []byte(fmt.Sprintf(conversationPrefixFmt, userID))

	var conversations []*datatypes.Conversation
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				conv := &datatypes.Conversation{}
				if err := json.Unmarshal(val, conv); err != nil {
					return err
				}
				conversations = append(conversations, conv)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations for user: %w", err)
	}
	return conversations, nil
}

// GetMessagesForConversation returns every message of one conversation owned
// by the user. Order is key order (message id), not chronological; callers
// re-sort by CreatedAt when hydrating.
func (s *Store) GetMessagesForConversation(ctx context.Context, userID, conversationID string) ([]*datatypes.Message, error) {
	prefix := []byte(fmt.Sprintf(messagePrefixFmt, userID, conversationID))

	var messages []*datatypes.Message
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				msg := &datatypes.Message{}
				if err := json.Unmarshal(val, msg); err != nil {
					return err
				}
				messages = append(messages, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages for conversation %s: %w", conversationID, err)
	}
	return messages, nil
}

// DeleteMessages removes the given messages. Missing keys are ignored.
func (s *Store) DeleteMessages(ctx context.Context, messages []*datatypes.Message) error {
	if len(messages) == 0 {
		return nil
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		for _, msg := range messages {
			key := fmt.Sprintf(messageKeyFmt, msg.UserID, msg.ConversationID, msg.ID)
			if err := txn.Delete([]byte(key)); err != nil {
				return fmt.Errorf("delete message %s: %w", msg.ID, err)
			}
		}
		return nil
	})
}

// DeleteConversation removes the conversation record itself. Its messages
// are deleted separately, messages first (original deletion order).
func (s *Store) DeleteConversation(ctx context.Context, conv *datatypes.Conversation) error {
	if conv == nil {
		return nil
	}
	key := fmt.Sprintf(conversationKeyFmt, conv.UserID, conv.ID)
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// put serializes a value and writes it in one transaction.
func (s *Store) put(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	}); err != nil {
		slog.Error("badger write failed", "key", key, "error", err)
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// update runs fn in a read-write transaction, honoring ctx cancellation
// before starting.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return s.db.Update(fn)
}

// view runs fn in a read-only transaction, honoring ctx cancellation before
// starting.
func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return s.db.View(fn)
}

var _ conversation.Store = (*Store)(nil)
