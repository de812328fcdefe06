// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/pcraig3/gc-chat/services/chat/datatypes"
)

// newTestClient points an OpenAIClient at a mock completion server.
func newTestClient(serverURL string) *OpenAIClient {
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = serverURL + "/v1"
	return NewOpenAIClientWithConfig(cfg, "test-model")
}

// writeStreamChunks writes OpenAI-style SSE completion chunks followed by the
// [DONE] sentinel.
func writeStreamChunks(w http.ResponseWriter, fragments ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, frag := range fragments {
		chunk := map[string]any{
			"id":     "chunk",
			"object": "chat.completion.chunk",
			"choices": []map[string]any{
				{"index": 0, "delta": map[string]any{"content": frag}},
			},
		}
		payload, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", payload)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestOpenAIClient_Chat(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("expected model test-model, got %s", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "The answer."},
					FinishReason: "stop"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	turns := []datatypes.ChatTurn{
		{Role: "system", Content: "You are helpful."},
		{Role: "user", Content: "Question?"},
	}

	got, err := client.Chat(context.Background(), turns, GenerationParams{})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if got != "The answer." {
		t.Errorf("expected 'The answer.', got %q", got)
	}
}

func TestOpenAIClient_Chat_NoChoices(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Chat(context.Background(),
		[]datatypes.ChatTurn{{Role: "user", Content: "hi"}}, GenerationParams{})
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
}

func TestOpenAIClient_ChatStream_FragmentsInOrder(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStreamChunks(w, "Hel", "lo ", "world.")
	}))
	defer server.Close()

	var tokens []string
	var gotDone bool
	err := newTestClient(server.URL).ChatStream(context.Background(),
		[]datatypes.ChatTurn{{Role: "user", Content: "hi"}}, GenerationParams{},
		func(event StreamEvent) error {
			switch event.Type {
			case StreamEventToken:
				tokens = append(tokens, event.Content)
			case StreamEventDone:
				gotDone = true
			}
			return nil
		})
	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}

	want := []string{"Hel", "lo ", "world."}
	if len(tokens) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %v", len(want), len(tokens), tokens)
	}
	for i, frag := range want {
		if tokens[i] != frag {
			t.Errorf("token %d: expected %q, got %q", i, frag, tokens[i])
		}
	}
	if !gotDone {
		t.Error("expected a done event after the last fragment")
	}
}

func TestOpenAIClient_ChatStream_CallbackErrorAborts(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStreamChunks(w, "one", "two", "three")
	}))
	defer server.Close()

	sentinel := errors.New("consumer gone")
	calls := 0
	err := newTestClient(server.URL).ChatStream(context.Background(),
		[]datatypes.ChatTurn{{Role: "user", Content: "hi"}}, GenerationParams{},
		func(event StreamEvent) error {
			calls++
			return sentinel
		})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected callback error to propagate, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected stream to stop after first callback error, got %d calls", calls)
	}
}

func TestOpenAIClient_ChatStream_Cancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunk := `data: {"id":"chunk","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"one"}}]}` + "\n\n"
		fmt.Fprint(w, chunk)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release // hold the stream open until the client gives up
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	err := newTestClient(server.URL).ChatStream(ctx,
		[]datatypes.ChatTurn{{Role: "user", Content: "hi"}}, GenerationParams{},
		func(event StreamEvent) error {
			if event.Type == StreamEventToken {
				cancel()
			}
			return nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBuildRequest_Defaults(t *testing.T) {
	t.Parallel()

	client := &OpenAIClient{model: "test-model"}
	req := client.buildRequest([]datatypes.ChatTurn{{Role: "user", Content: "hi"}}, GenerationParams{})

	if req.Temperature != 1.0 {
		t.Errorf("expected default temperature 1.0, got %v", req.Temperature)
	}
	if req.TopP != 1.0 {
		t.Errorf("expected default top_p 1.0, got %v", req.TopP)
	}
	if req.MaxCompletionTokens != 0 || req.FrequencyPenalty != 0 || req.PresencePenalty != 0 {
		t.Error("expected unset params to stay at provider defaults")
	}

	temp := float32(0.2)
	maxTokens := 128
	req = client.buildRequest(nil, GenerationParams{Temperature: &temp, MaxTokens: &maxTokens})
	if req.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", req.Temperature)
	}
	if req.MaxCompletionTokens != 128 {
		t.Errorf("expected max tokens 128, got %d", req.MaxCompletionTokens)
	}
}
