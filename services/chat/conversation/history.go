// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package conversation

import (
	"strings"

	"github.com/pcraig3/gc-chat/services/chat/datatypes"
)

// HistorySanitizer transforms a raw message log into the exact ordered turn
// sequence handed to the language model.
//
// # Description
//
// Two prunings run in order, then the retained turns are emitted after a
// fixed system message:
//
//  1. If the tail matches [user question, empty assistant, user RAG prompt],
//     the middle two are dropped so the model sees only the RAG-enhanced
//     turn, not both the raw question and its expanded duplicate.
//  2. Any assistant turn whose trimmed content exactly equals one of the
//     configured refusal strings is dropped, together with the immediately
//     preceding retained user turn if there is one. A failed Q/A exchange is
//     removed as a pair so it does not pollute future context.
//
// Relative ordering of all retained turns is preserved.
type HistorySanitizer struct {
	systemPrompt string
	refusals     []string
}

// NewHistorySanitizer creates a sanitizer with the given system prompt and
// the canonical "I don't know" strings to prune. Refusal matching is exact
// (case-sensitive) after trimming whitespace.
func NewHistorySanitizer(systemPrompt string, refusals []string) *HistorySanitizer {
	return &HistorySanitizer{systemPrompt: systemPrompt, refusals: refusals}
}

// isRefusal reports whether an assistant content is a canonical refusal.
func (h *HistorySanitizer) isRefusal(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}
	for _, r := range h.refusals {
		if trimmed == r {
			return true
		}
	}
	return false
}

// Sanitize produces the model-facing turn sequence for the given log.
func (h *HistorySanitizer) Sanitize(messages []*datatypes.Message) []datatypes.ChatTurn {
	msgs := make([]*datatypes.Message, len(messages))
	copy(msgs, messages)

	// Tail pattern: (n-3) user original question, (n-2) assistant empty
	// placeholder, (n-1) user RAG prompt. Keep only the RAG prompt.
	if n := len(msgs); n >= 3 {
		last, prev, prevprev := msgs[n-1], msgs[n-2], msgs[n-3]
		if !last.IsAssistant &&
			prev.IsAssistant && strings.TrimSpace(prev.Content) == "" &&
			!prevprev.IsAssistant {
			msgs = append(msgs[:n-3], msgs[n-1])
		}
	}

	// Drop refusal turns plus the user turn right before each one.
	cleaned := make([]*datatypes.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsAssistant && h.isRefusal(m.Content) {
			if len(cleaned) > 0 && !cleaned[len(cleaned)-1].IsAssistant {
				cleaned = cleaned[:len(cleaned)-1]
			}
			continue
		}
		cleaned = append(cleaned, m)
	}

	turns := make([]datatypes.ChatTurn, 0, len(cleaned)+1)
	turns = append(turns, datatypes.ChatTurn{Role: datatypes.RoleSystem, Content: h.systemPrompt})
	for _, m := range cleaned {
		turns = append(turns, datatypes.ChatTurn{Role: m.Role(), Content: m.Content})
	}
	return turns
}
