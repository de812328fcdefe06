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
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pcraig3/gc-chat/services/chat/datatypes"
	"github.com/pcraig3/gc-chat/services/llm"
)

var sessionTracer = otel.Tracer("gcchat.conversation")

// ErrExchangeInFlight is returned by Submit while another exchange is still
// running. A session serializes exchanges; two streams must never interleave
// writes into the same assistant message.
var ErrExchangeInFlight = errors.New("an exchange is already in flight for this session")

// Observer is notified with the current assistant message after every
// streamed fragment and once at turn completion. The message is the
// externally observable artifact: id, content so far, status, sources.
type Observer func(msg *datatypes.Message)

// SessionConfig carries the per-session settings. Canonical notices and
// refusal strings arrive here as data; the session never consults
// process-wide locale state.
type SessionConfig struct {
	UserID                string
	RecentMessagesCount   int
	TopSearchResultsCount int
	Persona               string
	CancelledNotice       string
	ErrorNotice           string
	Refusals              []string
	Generation            llm.GenerationParams
}

// Session owns the conversational state for one user session and drives the
// per-turn pipeline: append user turn, retrieve documents, assemble the
// prompt, stream the model response, resolve citations, finalize.
//
// # Concurrency
//
// One exchange at a time: Submit returns ErrExchangeInFlight if called while
// an exchange is running, and Reset and Hydrate refuse with the same error so
// the message log and document cache are only ever mutated by the running
// exchange. Cancel is safe to call from any goroutine and affects only the
// in-flight exchange.
type Session struct {
	cfg       SessionConfig
	store     *MessageStore
	cache     *DocumentCache
	prompts   *PromptAssembler
	sanitizer *HistorySanitizer
	searcher  Searcher
	llmClient llm.LLMClient
	storage   Store
	observer  Observer

	mu       sync.Mutex
	inFlight bool
	cancel   context.CancelFunc
}

// NewSession creates a session for one user. searcher may be nil (retrieval
// disabled); storage may be nil (persistence disabled); observer may be nil.
func NewSession(cfg SessionConfig, llmClient llm.LLMClient, searcher Searcher,
	storage Store, observer Observer) *Session {

	if cfg.RecentMessagesCount < 1 {
		cfg.RecentMessagesCount = 1
	}
	if cfg.TopSearchResultsCount < 1 {
		cfg.TopSearchResultsCount = 1
	}
	if storage == nil {
		storage = NopStore{}
	}

	prompts := NewPromptAssembler(cfg.Persona)
	return &Session{
		cfg:       cfg,
		store:     NewMessageStore(cfg.UserID),
		cache:     NewDocumentCache(cfg.RecentMessagesCount, cfg.TopSearchResultsCount),
		prompts:   prompts,
		sanitizer: NewHistorySanitizer(prompts.SystemPrompt(), cfg.Refusals),
		searcher:  searcher,
		llmClient: llmClient,
		storage:   storage,
		observer:  observer,
	}
}

// Messages returns a snapshot of the visible conversation log.
func (s *Session) Messages() []*datatypes.Message {
	return s.store.All()
}

// ActiveConversation returns the current conversation, nil before the first
// turn.
func (s *Session) ActiveConversation() *datatypes.Conversation {
	return s.store.ActiveConversation()
}

// Reset clears the message log, the document cache, and the active
// conversation. The next Submit starts a fresh conversation. Refuses with
// ErrExchangeInFlight while an exchange is running: the running exchange owns
// the session state until it finishes.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrExchangeInFlight
	}
	s.store.Clear()
	s.cache.Clear()
	return nil
}

// Hydrate loads a persisted conversation into the session. Ownership is
// checked against the session user; a missing or foreign conversation
// returns (nil, nil) without mutating session state. Like Reset, it refuses
// with ErrExchangeInFlight while an exchange is running. The session mutex is
// held across the storage reads so a Submit arriving mid-hydration waits
// rather than observing a half-loaded log.
func (s *Session) Hydrate(ctx context.Context, conversationID string) (*datatypes.ConversationWithMessages, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return nil, ErrExchangeInFlight
	}

	conv, err := s.storage.GetConversation(ctx, s.cfg.UserID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil || conv.UserID != s.cfg.UserID {
		slog.Warn("Conversation not found or unauthorized", "conversationId", conversationID)
		return nil, nil
	}

	messages, err := s.storage.GetMessagesForConversation(ctx, s.cfg.UserID, conversationID)
	if err != nil {
		return nil, err
	}

	s.store.Hydrate(conv, messages)
	return &datatypes.ConversationWithMessages{Conversation: conv, Messages: s.store.All()}, nil
}

// Cancel cooperatively cancels the in-flight exchange, if any. The streaming
// loop stops consuming fragments and the assistant message terminates in the
// cancelled state with the canonical notice.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// begin marks an exchange as in flight and derives its cancellation scope.
func (s *Session) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return nil, ErrExchangeInFlight
	}
	exCtx, cancel := context.WithCancel(ctx)
	s.inFlight = true
	s.cancel = cancel
	return exCtx, nil
}

// end releases the in-flight slot.
func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.inFlight = false
}

// Submit runs one full exchange for the given user text and returns the
// finalized assistant message.
//
// Empty or whitespace-only input is a no-op returning (nil, nil). A second
// Submit while one is in flight returns ErrExchangeInFlight. Collaborator
// failures never fail the exchange: retrieval errors degrade to an empty
// document set and streaming errors terminate the assistant message in the
// error state with the canonical notice. The session is usable again as soon
// as Submit returns.
func (s *Session) Submit(ctx context.Context, text string) (*datatypes.Message, error) {
	if strings.TrimSpace(text) == "" {
		slog.Debug("Ignoring empty message submission")
		return nil, nil
	}

	exCtx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer s.end()

	exCtx, span := sessionTracer.Start(exCtx, "Session.Submit")
	defer span.End()

	// Visible user turn, persisted as soon as it exists.
	userMsg := datatypes.NewMessage(false, text)
	s.store.Append(userMsg)
	s.persist(userMsg)

	// Placeholder assistant turn: present with empty content, this is the
	// externally observable "loading" signal.
	assistant := datatypes.NewMessage(true, "")
	s.store.Append(assistant)
	s.notify(assistant)

	// Retrieval is best-effort; an error or empty result means the exchange
	// continues with no documents and the preamble-only prompt branch.
	docs := s.retrieve(exCtx, text)
	span.SetAttributes(attribute.Int("exchange.document_count", len(docs)))

	// The RAG prompt becomes a hidden user turn appended to the model-facing
	// history only. It is never displayed and never stored, so later
	// exchanges see the plain question/answer turns, not expanded prompts.
	prompt := s.prompts.Build(text, docs)
	hidden := datatypes.NewMessage(false, prompt)
	history := append(s.store.Recent(s.cfg.RecentMessagesCount), hidden)
	turns := s.sanitizer.Sanitize(history)
	span.SetAttributes(attribute.Int("exchange.turn_count", len(turns)))

	s.stream(exCtx, span, turns, assistant)

	if assistant.Status == datatypes.StatusSuccess && len(docs) > 0 {
		s.resolveCitations(assistant, docs)
	}

	s.notify(assistant)
	s.persist(assistant)

	span.SetAttributes(attribute.String("exchange.status", assistant.Status))
	return assistant, nil
}

// retrieve fetches, caches and consolidates documents for the query.
func (s *Session) retrieve(ctx context.Context, query string) []datatypes.Source {
	if s.searcher == nil {
		return nil
	}

	batch, err := s.searcher.TopChunks(ctx, query, s.cfg.TopSearchResultsCount)
	if err != nil {
		slog.Warn("Document retrieval failed, continuing without context", "error", err)
		return nil
	}
	if len(batch) == 0 {
		return nil
	}

	s.cache.Insert(batch)
	return Consolidate(s.cache.Snapshot())
}

// stream consumes the model fragment sequence into the assistant message and
// resolves its terminal state. Partial content is discarded on cancellation
// and error; the canonical notice replaces it.
func (s *Session) stream(ctx context.Context, span trace.Span, turns []datatypes.ChatTurn, assistant *datatypes.Message) {
	err := s.llmClient.ChatStream(ctx, turns, s.cfg.Generation, func(event llm.StreamEvent) error {
		if event.Type != llm.StreamEventToken || event.Content == "" {
			return nil
		}
		assistant.Content += event.Content
		s.notify(assistant)
		return nil
	})

	switch {
	case err == nil:
		assistant.Status = datatypes.StatusSuccess
	case errors.Is(err, context.Canceled):
		slog.Info("Exchange cancelled", "messageId", assistant.ID)
		assistant.Content = s.cfg.CancelledNotice
		assistant.Status = datatypes.StatusCancelled
	default:
		slog.Error("Streaming failed", "messageId", assistant.ID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "streaming failed")
		assistant.Content = s.cfg.ErrorNotice
		assistant.Status = datatypes.StatusError
	}
}

// notify invokes the observer, if any, with the current assistant message.
func (s *Session) notify(msg *datatypes.Message) {
	if s.observer != nil {
		s.observer(msg)
	}
}

// resolveCitations rewrites bracket citations to numbered superscripts and
// attaches the filtered source list.
func (s *Session) resolveCitations(assistant *datatypes.Message, docs []datatypes.Source) {
	cited := ExtractCited(assistant.Content)
	if len(cited) == 0 {
		return
	}
	assistant.Sources = FilterByTitles(docs, cited)
	assistant.Content = Renumber(assistant.Content, cited)
}

// persist saves the conversation and message, best-effort. Failures are
// logged and swallowed: conversation continuity takes priority over
// durability on transient storage errors. The save runs outside the
// exchange's cancellation scope so a cancelled turn is still recorded.
func (s *Session) persist(msg *datatypes.Message) {
	conv := s.store.ActiveConversation()
	if conv == nil {
		return
	}
	ctx := context.Background()
	if err := s.storage.SaveConversation(ctx, conv); err != nil {
		slog.Warn("Failed to persist conversation", "conversationId", conv.ID, "error", err)
		return
	}
	if err := s.storage.SaveMessage(ctx, msg); err != nil {
		slog.Warn("Failed to persist message", "messageId", msg.ID, "error", err)
	}
}
