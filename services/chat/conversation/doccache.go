// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package conversation

import (
	"math"

	"github.com/pcraig3/gc-chat/services/chat/datatypes"
)

// chunkSeparator joins chunks of the same document during consolidation.
// The ellipsis stays visible to the model, marking a gap between chunks.
const chunkSeparator = "\n\n…\n\n"

// DocumentCache holds retrieved reference snippets for reuse across the
// turns of one conversation.
//
// # Description
//
// Entries are deduplicated on the exact (title, chunk) pair: title matching
// alone would drop genuinely different chunks of the same document. Insertion
// order is preserved and the oldest entries are evicted first once the cache
// exceeds its capacity.
//
// Capacity follows the context window:
//
//	MaxCachedDocuments = floor(((recentMessages / 2) * topResults) * 0.8)
//
// recentMessages/2 approximates the user/assistant exchanges kept in context,
// each contributing up to topResults fresh documents, scaled by 0.8 for the
// overlap expected when consecutive questions hit the same documents.
//
// # Thread Safety
//
// Not safe for concurrent use. Access is serialized by the owning session.
type DocumentCache struct {
	recentMessages int
	topResults     int
	docs           []datatypes.Source
}

// NewDocumentCache creates a cache sized for the given context settings.
// Both counts are clamped to a minimum of 1.
func NewDocumentCache(recentMessages, topResults int) *DocumentCache {
	if recentMessages < 1 {
		recentMessages = 1
	}
	if topResults < 1 {
		topResults = 1
	}
	return &DocumentCache{recentMessages: recentMessages, topResults: topResults}
}

// MaxCachedDocuments returns the current capacity bound.
func (c *DocumentCache) MaxCachedDocuments() int {
	exchanges := float64(c.recentMessages) / 2.0
	return int(math.Floor(exchanges * float64(c.topResults) * 0.8))
}

// Insert adds a batch of retrieved sources, skipping exact (title, chunk)
// duplicates, then evicts from the front until the cache is within bound.
func (c *DocumentCache) Insert(batch []datatypes.Source) {
	for _, doc := range batch {
		if c.contains(doc) {
			continue
		}
		c.docs = append(c.docs, doc)
	}

	if max := c.MaxCachedDocuments(); len(c.docs) > max {
		c.docs = c.docs[len(c.docs)-max:]
	}
}

func (c *DocumentCache) contains(doc datatypes.Source) bool {
	for _, d := range c.docs {
		if d.Title == doc.Title && d.Chunk == doc.Chunk {
			return true
		}
	}
	return false
}

// Snapshot returns an ordered copy of the cached sources.
func (c *DocumentCache) Snapshot() []datatypes.Source {
	out := make([]datatypes.Source, len(c.docs))
	copy(out, c.docs)
	return out
}

// Len returns the number of cached entries.
func (c *DocumentCache) Len() int {
	return len(c.docs)
}

// Clear empties the cache.
func (c *DocumentCache) Clear() {
	c.docs = nil
}

// Consolidate merges sources that share a title into a single entry per
// unique title, first-seen order preserved. Duplicate chunks are appended in
// encounter order, separated by a visible ellipsis, so one document retrieved
// across several turns becomes one context block instead of repeats.
//
// Consolidate is idempotent: an already-consolidated list passes through
// unchanged. It operates on copies and never mutates the input.
func Consolidate(docs []datatypes.Source) []datatypes.Source {
	if len(docs) == 0 {
		return nil
	}

	byTitle := make(map[string]int, len(docs))
	out := make([]datatypes.Source, 0, len(docs))

	for _, doc := range docs {
		if i, ok := byTitle[doc.Title]; ok {
			out[i].AppendToChunk(chunkSeparator + doc.Chunk)
			continue
		}
		byTitle[doc.Title] = len(out)
		out = append(out, doc)
	}

	return out
}
