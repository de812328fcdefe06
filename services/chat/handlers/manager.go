// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package handlers implements the HTTP endpoints of the chat service.
package handlers

import (
	"sync"

	"github.com/pcraig3/gc-chat/services/chat/config"
	"github.com/pcraig3/gc-chat/services/chat/conversation"
	"github.com/pcraig3/gc-chat/services/chat/datatypes"
	"github.com/pcraig3/gc-chat/services/llm"
)

// SessionManager owns one conversation session per user, created lazily on
// first use. Sessions live for the process lifetime; their conversations are
// persisted through the store, so a restart loses only the in-memory state
// of exchanges in flight.
type SessionManager struct {
	cfg      config.Config
	llm      llm.LLMClient
	searcher conversation.Searcher
	store    conversation.Store

	mu       sync.Mutex
	sessions map[string]*ManagedSession
}

// NewSessionManager creates the registry. searcher and store may be nil for
// deployments without retrieval or persistence.
func NewSessionManager(cfg config.Config, llmClient llm.LLMClient,
	searcher conversation.Searcher, store conversation.Store) *SessionManager {

	if store == nil {
		store = conversation.NopStore{}
	}
	return &SessionManager{
		cfg:      cfg,
		llm:      llmClient,
		searcher: searcher,
		store:    store,
		sessions: make(map[string]*ManagedSession),
	}
}

// Store exposes the persistence collaborator for handlers that read or
// delete directly (conversation listing, feedback).
func (sm *SessionManager) Store() conversation.Store {
	return sm.store
}

// Session returns the user's managed session, creating it on first use.
func (sm *SessionManager) Session(userID string) *ManagedSession {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if entry, ok := sm.sessions[userID]; ok {
		return entry
	}

	entry := &ManagedSession{}
	entry.session = conversation.NewSession(conversation.SessionConfig{
		UserID:                userID,
		RecentMessagesCount:   sm.cfg.RecentMessagesCount,
		TopSearchResultsCount: sm.cfg.TopSearchResultsCount,
		Persona:               sm.cfg.Persona,
		CancelledNotice:       sm.cfg.Notices.Cancelled,
		ErrorNotice:           sm.cfg.Notices.Error,
		Refusals:              sm.cfg.Refusals,
		Generation:            generationParams(sm.cfg.Generation),
	}, sm.llm, sm.searcher, sm.store, entry.notify)

	sm.sessions[userID] = entry
	return entry
}

// generationParams maps the config sampling block onto the model client's
// parameter struct. Nil stays nil: unset means provider default.
func generationParams(g config.Generation) llm.GenerationParams {
	return llm.GenerationParams{
		Temperature:      g.Temperature,
		TopP:             g.TopP,
		MaxTokens:        g.MaxTokens,
		FrequencyPenalty: g.FrequencyPenalty,
		PresencePenalty:  g.PresencePenalty,
	}
}

// ManagedSession pairs a session with a swappable observer sink. The session
// keeps one observer for its lifetime; each streaming request subscribes its
// own sink for the duration of its exchange.
type ManagedSession struct {
	session *conversation.Session

	mu   sync.Mutex
	sink func(msg *datatypes.Message)
}

// Session returns the underlying conversation session.
func (m *ManagedSession) Session() *conversation.Session {
	return m.session
}

// notify is the session observer: it forwards to the currently subscribed
// sink, if any.
func (m *ManagedSession) notify(msg *datatypes.Message) {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink != nil {
		sink(msg)
	}
}

// subscribe installs the request's sink. Exchanges are serialized by the
// session, so at most one subscriber is active at a time.
func (m *ManagedSession) subscribe(sink func(msg *datatypes.Message)) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

// unsubscribe removes the current sink.
func (m *ManagedSession) unsubscribe() {
	m.mu.Lock()
	m.sink = nil
	m.mu.Unlock()
}
