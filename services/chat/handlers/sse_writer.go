// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pcraig3/gc-chat/services/chat/datatypes"
)

// SSEWriter writes Server-Sent Events to an HTTP response.
//
// # Description
//
// SSEWriter abstracts the SSE wire format (event: type\ndata: json\n\n) so
// the streaming handler stays independent of response mechanics. Every event
// is assigned an id, a millisecond timestamp, a SHA-256 content hash, and
// the previous event's hash, chaining the stream for after-the-fact
// integrity checks.
//
// # Thread Safety
//
// Implementations are safe for concurrent use; the hash chain stays intact
// across concurrent writes.
type SSEWriter interface {
	// WriteEvent writes one event. Id, CreatedAt, Hash and PrevHash are
	// populated here; callers set only the semantic fields.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteToken streams one content fragment.
	WriteToken(content string) error

	// WriteStatus reports pipeline progress ("Searching documents...").
	WriteStatus(message string) error

	// WriteError reports a failure. The message must already be sanitized;
	// internal error details never reach the client.
	WriteError(errMsg string) error

	// WriteDone terminates the stream with the finalized message: its id,
	// terminal status, full content and resolved sources.
	WriteDone(msg *datatypes.Message) error

	// WriteKeepAlive sends an SSE comment to defeat load balancer idle
	// timeouts. Comments are not events and do not join the hash chain.
	WriteKeepAlive() error
}

// sseWriter implements SSEWriter over an http.ResponseWriter, flushing after
// every event.
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// NewSSEWriter wraps w. The caller must have set the SSE headers first (see
// SetSSEHeaders). Fails if w does not support http.Flusher.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.ID = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash
	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// computeEventHash hashes every content field, sources included, so the
// chain covers what the user actually saw. Called before Hash is set.
func computeEventHash(event datatypes.StreamEvent) string {
	sourcesJSON := ""
	if len(event.Sources) > 0 {
		if data, err := json.Marshal(event.Sources); err == nil {
			sourcesJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s|%s",
		event.ID,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Message,
		event.Error,
		event.MessageID,
		event.Status,
		sourcesJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

func (w *sseWriter) WriteToken(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    "token",
		Content: content,
	})
}

func (w *sseWriter) WriteStatus(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    "status",
		Message: message,
	})
}

func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  "error",
		Error: errMsg,
	})
}

func (w *sseWriter) WriteDone(msg *datatypes.Message) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      "done",
		MessageID: msg.ID,
		Status:    msg.Status,
		Content:   msg.Content,
		Sources:   msg.Sources,
	})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures the response for SSE streaming. Must run before
// any body write. X-Accel-Buffering disables nginx response buffering.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
