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
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pcraig3/gc-chat/services/chat/datatypes"
)

var tracer = otel.Tracer("gcchat.llm")

type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL") // e.g., "gpt-4o"
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// NewOpenAIClientWithConfig builds a client against a custom endpoint.
// Used by tests and by Azure OpenAI deployments.
func NewOpenAIClientWithConfig(cfg openai.ClientConfig, model string) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

// buildRequest maps role-tagged turns and generation params onto the OpenAI
// request shape, applying the documented defaults for nil params.
func (o *OpenAIClient) buildRequest(turns []datatypes.ChatTurn, params GenerationParams) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    t.Role,
			Content: t.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: 1.0,
		TopP:        1.0,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.FrequencyPenalty != nil {
		req.FrequencyPenalty = *params.FrequencyPenalty
	}
	if params.PresencePenalty != nil {
		req.PresencePenalty = *params.PresencePenalty
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

// Chat implements the LLMClient interface.
func (o *OpenAIClient) Chat(ctx context.Context, turns []datatypes.ChatTurn,
	params GenerationParams) (string, error) {

	ctx, span := tracer.Start(ctx, "OpenAIClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))
	span.SetAttributes(attribute.Int("llm.num_messages", len(turns)))

	slog.Debug("Generating chat completion via OpenAI", "model", o.model)
	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(turns, params))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("OpenAI API call failed", "error", err)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		slog.Warn("OpenAI returned no choices or empty content")
		return "", ErrNoContent
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// ChatStream implements the LLMClient interface. Fragments are delivered to
// the callback in order; a ctx cancellation surfaces as ctx.Err() so callers
// can distinguish user cancellation from transport failures.
func (o *OpenAIClient) ChatStream(ctx context.Context, turns []datatypes.ChatTurn,
	params GenerationParams, callback StreamCallback) error {

	ctx, span := tracer.Start(ctx, "OpenAIClient.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))
	span.SetAttributes(attribute.Int("llm.num_messages", len(turns)))

	req := o.buildRequest(turns, params)
	req.Stream = true

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("OpenAI stream setup failed", "error", err)
		return fmt.Errorf("OpenAI stream setup failed: %w", err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Surface cancellation as such rather than a provider error.
			if ctx.Err() != nil {
				span.SetStatus(codes.Error, "stream cancelled")
				return ctx.Err()
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("OpenAI stream receive failed: %w", err)
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		if err := callback(StreamEvent{Type: StreamEventToken, Content: content}); err != nil {
			return fmt.Errorf("stream callback failed: %w", err)
		}
	}

	return callback(StreamEvent{Type: StreamEventDone})
}

var _ LLMClient = (*OpenAIClient)(nil)
