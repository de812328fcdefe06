// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/pcraig3/gc-chat/services/chat/datatypes"
	"github.com/pcraig3/gc-chat/services/llm"
)

// scriptedLLM emits a fixed fragment sequence. When blockCh is set it waits
// for a receive (or context cancellation) before each fragment.
type scriptedLLM struct {
	fragments []string
	err       error
	blockCh   chan struct{}

	mu    sync.Mutex
	calls [][]datatypes.ChatTurn
}

func (s *scriptedLLM) Chat(ctx context.Context, turns []datatypes.ChatTurn, params llm.GenerationParams) (string, error) {
	return strings.Join(s.fragments, ""), s.err
}

func (s *scriptedLLM) ChatStream(ctx context.Context, turns []datatypes.ChatTurn, params llm.GenerationParams, callback llm.StreamCallback) error {
	s.mu.Lock()
	s.calls = append(s.calls, turns)
	s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	for _, f := range s.fragments {
		if s.blockCh != nil {
			select {
			case <-s.blockCh:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: f}); err != nil {
			return err
		}
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventDone})
}

func (s *scriptedLLM) lastTurns() []datatypes.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return nil
	}
	return s.calls[len(s.calls)-1]
}

type scriptedSearcher struct {
	sources []datatypes.Source
	err     error
}

func (s *scriptedSearcher) TopChunks(ctx context.Context, query string, topK int) ([]datatypes.Source, error) {
	return s.sources, s.err
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		UserID:                "user-1",
		RecentMessagesCount:   6,
		TopSearchResultsCount: 5,
		Persona:               "You are a helpful assistant.",
		CancelledNotice:       "The response was cancelled.",
		ErrorNotice:           "Something went wrong generating a response. Please try again.",
		Refusals:              []string{"I don't know.", "Je ne sais pas."},
	}
}

func TestSessionSubmit(t *testing.T) {
	t.Run("empty input is a no-op", func(t *testing.T) {
		client := &scriptedLLM{fragments: []string{"hi"}}
		session := NewSession(testSessionConfig(), client, nil, nil, nil)

		msg, err := session.Submit(context.Background(), "   \n\t ")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg != nil {
			t.Fatalf("expected nil message, got %+v", msg)
		}
		if got := len(session.Messages()); got != 0 {
			t.Errorf("expected empty log, got %d messages", got)
		}
	})

	t.Run("successful exchange appends user and assistant turns", func(t *testing.T) {
		client := &scriptedLLM{fragments: []string{"Hello", ", ", "world."}}
		session := NewSession(testSessionConfig(), client, nil, nil, nil)

		msg, err := session.Submit(context.Background(), "Say hello")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.Content != "Hello, world." {
			t.Errorf("unexpected content %q", msg.Content)
		}
		if msg.Status != datatypes.StatusSuccess {
			t.Errorf("expected success status, got %q", msg.Status)
		}

		log := session.Messages()
		if len(log) != 2 {
			t.Fatalf("expected 2 messages in log, got %d", len(log))
		}
		if log[0].IsAssistant || !log[1].IsAssistant {
			t.Errorf("unexpected roles: %v %v", log[0].IsAssistant, log[1].IsAssistant)
		}
		if log[0].Content != "Say hello" {
			t.Errorf("unexpected user content %q", log[0].Content)
		}
	})

	t.Run("hidden prompt turn never enters the visible log", func(t *testing.T) {
		client := &scriptedLLM{fragments: []string{"answer"}}
		searcher := &scriptedSearcher{sources: []datatypes.Source{
			{Title: "Policy.pdf", Chunk: "Remote work is permitted."},
		}}
		session := NewSession(testSessionConfig(), client, searcher, nil, nil)

		if _, err := session.Submit(context.Background(), "What is the policy?"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		for _, m := range session.Messages() {
			if strings.Contains(m.Content, "<context>") {
				t.Errorf("retrieval prompt leaked into the log: %q", m.Content)
			}
		}

		// The model-facing history does carry the expanded prompt as the
		// final user turn.
		turns := client.lastTurns()
		last := turns[len(turns)-1]
		if last.Role != datatypes.RoleUser || !strings.Contains(last.Content, "<context>") {
			t.Errorf("expected final turn to be the expanded prompt, got %+v", last)
		}
		if turns[0].Role != datatypes.RoleSystem {
			t.Errorf("expected system turn first, got %q", turns[0].Role)
		}
	})

	t.Run("observer sees every fragment and the final message", func(t *testing.T) {
		client := &scriptedLLM{fragments: []string{"a", "b", "c"}}
		var seen []string
		observer := func(msg *datatypes.Message) { seen = append(seen, msg.Content) }
		session := NewSession(testSessionConfig(), client, nil, nil, observer)

		if _, err := session.Submit(context.Background(), "go"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Placeholder, three fragments, final notification.
		want := []string{"", "a", "ab", "abc", "abc"}
		if len(seen) != len(want) {
			t.Fatalf("expected %d notifications, got %d: %v", len(want), len(seen), seen)
		}
		for i := range want {
			if seen[i] != want[i] {
				t.Errorf("notification %d: got %q, want %q", i, seen[i], want[i])
			}
		}
	})

	t.Run("retrieval failure degrades to no documents", func(t *testing.T) {
		client := &scriptedLLM{fragments: []string{"still answering"}}
		searcher := &scriptedSearcher{err: errors.New("search backend down")}
		session := NewSession(testSessionConfig(), client, searcher, nil, nil)

		msg, err := session.Submit(context.Background(), "anything")
		if err != nil {
			t.Fatalf("expected exchange to survive retrieval failure, got %v", err)
		}
		if msg.Status != datatypes.StatusSuccess {
			t.Errorf("expected success, got %q", msg.Status)
		}

		turns := client.lastTurns()
		last := turns[len(turns)-1]
		if strings.Contains(last.Content, "<context>") {
			t.Errorf("expected preamble-only prompt, got %q", last.Content)
		}
	})

	t.Run("streaming error yields the canonical error notice", func(t *testing.T) {
		cfg := testSessionConfig()
		client := &scriptedLLM{err: errors.New("upstream 500")}
		session := NewSession(cfg, client, nil, nil, nil)

		msg, err := session.Submit(context.Background(), "q")
		if err != nil {
			t.Fatalf("streaming errors must not fail the exchange: %v", err)
		}
		if msg.Status != datatypes.StatusError {
			t.Errorf("expected error status, got %q", msg.Status)
		}
		if msg.Content != cfg.ErrorNotice {
			t.Errorf("expected error notice, got %q", msg.Content)
		}
	})

	t.Run("cancel replaces partial content with the cancelled notice", func(t *testing.T) {
		cfg := testSessionConfig()
		client := &scriptedLLM{
			fragments: []string{"partial", " output"},
			blockCh:   make(chan struct{}),
		}
		session := NewSession(cfg, client, nil, nil, nil)

		done := make(chan *datatypes.Message, 1)
		go func() {
			msg, _ := session.Submit(context.Background(), "long question")
			done <- msg
		}()

		// Let one fragment through, then cancel.
		client.blockCh <- struct{}{}
		session.Cancel()

		msg := <-done
		if msg.Status != datatypes.StatusCancelled {
			t.Fatalf("expected cancelled status, got %q", msg.Status)
		}
		if msg.Content != cfg.CancelledNotice {
			t.Errorf("expected cancelled notice, got %q", msg.Content)
		}
	})

	t.Run("second submit while in flight is rejected", func(t *testing.T) {
		client := &scriptedLLM{
			fragments: []string{"x"},
			blockCh:   make(chan struct{}),
		}
		session := NewSession(testSessionConfig(), client, nil, nil, nil)

		done := make(chan struct{})
		go func() {
			session.Submit(context.Background(), "first")
			close(done)
		}()

		// Wait until the first exchange is inside the streaming loop.
		waitInFlight(session)

		if _, err := session.Submit(context.Background(), "second"); !errors.Is(err, ErrExchangeInFlight) {
			t.Errorf("expected ErrExchangeInFlight, got %v", err)
		}

		close(client.blockCh)
		<-done

		// The slot frees up once the first exchange finishes.
		if _, err := session.Submit(context.Background(), "third"); err != nil {
			t.Errorf("expected session to accept a new exchange, got %v", err)
		}
	})

	t.Run("citations are renumbered and sources attached", func(t *testing.T) {
		client := &scriptedLLM{fragments: []string{
			"Remote work is allowed [Policy.pdf] with conditions [Policy.pdf].",
		}}
		searcher := &scriptedSearcher{sources: []datatypes.Source{
			{Title: "Policy.pdf", Chunk: "Remote work is permitted.", URL: "https://example.ca/policy"},
			{Title: "Other.docx", Chunk: "Unrelated."},
		}}
		session := NewSession(testSessionConfig(), client, searcher, nil, nil)

		msg, err := session.Submit(context.Background(), "Can I work remotely?")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := "Remote work is allowed <sup>[1]</sup> with conditions <sup>[1]</sup>."
		if msg.Content != want {
			t.Errorf("got %q, want %q", msg.Content, want)
		}
		if len(msg.Sources) != 1 || msg.Sources[0].Title != "Policy.pdf" {
			t.Errorf("unexpected sources %+v", msg.Sources)
		}
	})

	t.Run("messages are persisted with ids linked to the conversation", func(t *testing.T) {
		client := &scriptedLLM{fragments: []string{"ok"}}
		storage := newRecordingStore()
		session := NewSession(testSessionConfig(), client, nil, storage, nil)

		if _, err := session.Submit(context.Background(), "persist me"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(storage.messages) != 2 {
			t.Fatalf("expected 2 persisted messages, got %d", len(storage.messages))
		}
		conv := session.ActiveConversation()
		if conv == nil {
			t.Fatal("expected an active conversation")
		}
		for _, m := range storage.messages {
			if m.ConversationID != conv.ID || m.UserID != "user-1" {
				t.Errorf("message not linked: %+v", m)
			}
		}
		if conv.Title != "persist me" {
			t.Errorf("expected title from first message, got %q", conv.Title)
		}
	})
}

func TestSessionReset(t *testing.T) {
	client := &scriptedLLM{fragments: []string{"hello"}}
	searcher := &scriptedSearcher{sources: []datatypes.Source{{Title: "Doc", Chunk: "text"}}}
	session := NewSession(testSessionConfig(), client, searcher, nil, nil)

	if _, err := session.Submit(context.Background(), "q"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(session.Messages()) == 0 || session.ActiveConversation() == nil {
		t.Fatal("expected populated session before reset")
	}

	if err := session.Reset(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(session.Messages()) != 0 {
		t.Error("expected empty log after reset")
	}
	if session.ActiveConversation() != nil {
		t.Error("expected no active conversation after reset")
	}
	if session.cache.Len() != 0 {
		t.Error("expected empty document cache after reset")
	}
}

// waitInFlight spins until the session has an exchange in flight.
func waitInFlight(s *Session) {
	for {
		s.mu.Lock()
		inFlight := s.inFlight
		s.mu.Unlock()
		if inFlight {
			return
		}
	}
}

func TestSessionStateGuardedWhileInFlight(t *testing.T) {
	t.Run("reset is rejected mid-exchange", func(t *testing.T) {
		client := &scriptedLLM{
			fragments: []string{"x", "y"},
			blockCh:   make(chan struct{}),
		}
		session := NewSession(testSessionConfig(), client, nil, nil, nil)

		done := make(chan *datatypes.Message, 1)
		go func() {
			msg, _ := session.Submit(context.Background(), "q")
			done <- msg
		}()
		waitInFlight(session)

		if err := session.Reset(); !errors.Is(err, ErrExchangeInFlight) {
			t.Errorf("expected ErrExchangeInFlight, got %v", err)
		}

		close(client.blockCh)
		msg := <-done

		// The exchange's log survived intact.
		if msg == nil || msg.Content != "xy" {
			t.Fatalf("exchange corrupted by rejected reset: %+v", msg)
		}
		if len(session.Messages()) != 2 {
			t.Errorf("expected 2 messages after exchange, got %d", len(session.Messages()))
		}

		if err := session.Reset(); err != nil {
			t.Errorf("expected reset to succeed after the exchange, got %v", err)
		}
	})

	t.Run("hydrate is rejected mid-exchange", func(t *testing.T) {
		client := &scriptedLLM{
			fragments: []string{"x"},
			blockCh:   make(chan struct{}),
		}
		storage := newRecordingStore()
		session := NewSession(testSessionConfig(), client, nil, storage, nil)

		done := make(chan struct{})
		go func() {
			session.Submit(context.Background(), "q")
			close(done)
		}()
		waitInFlight(session)

		if _, err := session.Hydrate(context.Background(), "any-id"); !errors.Is(err, ErrExchangeInFlight) {
			t.Errorf("expected ErrExchangeInFlight, got %v", err)
		}

		close(client.blockCh)
		<-done
	})
}

// recordingStore captures persisted entities for assertions.
var _ Store = (*recordingStore)(nil)

type recordingStore struct {
	mu            sync.Mutex
	conversations map[string]*datatypes.Conversation
	messages      []*datatypes.Message
}

func newRecordingStore() *recordingStore {
	return &recordingStore{conversations: make(map[string]*datatypes.Conversation)}
}

func (r *recordingStore) SaveConversation(ctx context.Context, conv *datatypes.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[conv.ID] = conv
	return nil
}

func (r *recordingStore) SaveMessage(ctx context.Context, msg *datatypes.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.messages {
		if existing.ID == msg.ID {
			r.messages[i] = msg
			return nil
		}
	}
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingStore) GetConversation(ctx context.Context, userID, conversationID string) (*datatypes.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return nil, nil
	}
	return conv, nil
}

func (r *recordingStore) GetConversationsForUser(ctx context.Context, userID string) ([]*datatypes.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*datatypes.Conversation
	for _, conv := range r.conversations {
		if conv.UserID == userID {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (r *recordingStore) GetMessagesForConversation(ctx context.Context, userID, conversationID string) ([]*datatypes.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*datatypes.Message
	for _, msg := range r.messages {
		if msg.UserID == userID && msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (r *recordingStore) DeleteMessages(ctx context.Context, messages []*datatypes.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	keep := r.messages[:0]
	for _, existing := range r.messages {
		deleted := false
		for _, m := range messages {
			if m.ID == existing.ID {
				deleted = true
				break
			}
		}
		if !deleted {
			keep = append(keep, existing)
		}
	}
	r.messages = keep
	return nil
}

func (r *recordingStore) DeleteConversation(ctx context.Context, conv *datatypes.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conversations, conv.ID)
	return nil
}
