// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package llm

import (
	"context"
	"errors"

	"github.com/pcraig3/gc-chat/services/chat/datatypes"
)

// ErrNoContent is returned when the provider answers with no usable text.
var ErrNoContent = errors.New("llm returned no content")

// GenerationParams are optional sampling parameters passed through to the
// provider. Nil fields fall back to documented defaults: temperature 1.0,
// top_p 1.0; penalties and max tokens stay unset (provider default).
type GenerationParams struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	TopP             *float32 `json:"top_p,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	FrequencyPenalty *float32 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float32 `json:"presence_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}

// StreamEventType discriminates streaming events.
type StreamEventType string

const (
	// StreamEventToken carries one content fragment.
	StreamEventToken StreamEventType = "token"
	// StreamEventDone marks the end of a stream.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent is one unit of streamed model output.
type StreamEvent struct {
	Type    StreamEventType
	Content string
}

// StreamCallback receives stream events in order. Returning a non-nil error
// aborts the stream.
type StreamCallback func(event StreamEvent) error

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Chat returns the complete response for an ordered, role-tagged
	// conversation.
	Chat(ctx context.Context, turns []datatypes.ChatTurn, params GenerationParams) (string, error)

	// ChatStream streams the response fragment by fragment through the
	// callback. The sequence is ordered and finite; cancellation of ctx
	// stops the stream with ctx's error.
	ChatStream(ctx context.Context, turns []datatypes.ChatTurn, params GenerationParams,
		callback StreamCallback) error
}
