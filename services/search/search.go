// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package search is the semantic-search collaborator boundary. Retrieval is
// best-effort: an unreachable or unconfigured provider yields an empty
// result, never a fatal error for the exchange.
package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pcraig3/gc-chat/services/chat/datatypes"
)

var tracer = otel.Tracer("gcchat.search")

// documentClass is the Weaviate class holding indexed document chunks.
const documentClass = "Document"

// Client retrieves reference snippets for a user query.
type Client interface {
	// TopChunks returns up to topK chunks relevant to the query. An empty
	// result and an error are both treated as "no documents" by callers.
	TopChunks(ctx context.Context, query string, topK int) ([]datatypes.Source, error)

	// Ready reports whether the search provider is reachable.
	Ready(ctx context.Context) bool
}

// WeaviateSearcher implements Client against a Weaviate instance whose
// vectorizer computes embeddings server-side.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client pools connections.
type WeaviateSearcher struct {
	client *weaviate.Client
}

// NewWeaviateSearcher wraps a connected Weaviate client.
func NewWeaviateSearcher(client *weaviate.Client) *WeaviateSearcher {
	return &WeaviateSearcher{client: client}
}

// TopChunks runs a nearText query over the Document class and maps hits onto
// sources. Hits missing a chunk or title are skipped rather than failing the
// batch.
func (s *WeaviateSearcher) TopChunks(ctx context.Context, query string, topK int) ([]datatypes.Source, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearcher.TopChunks")
	defer span.End()
	span.SetAttributes(attribute.Int("search.top_k", topK))

	if topK < 1 {
		topK = 1
	}

	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "title"},
		{Name: "chunk"},
		{Name: "culture"},
		{Name: "url"},
		{Name: "size"},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName(documentClass).
		WithNearText(nearText).
		WithFields(fields...).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if len(resp.Errors) > 0 {
		err := fmt.Errorf("weaviate search returned errors: %s", resp.Errors[0].Message)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sources := parseSearchHits(resp.Data)
	span.SetAttributes(attribute.Int("search.result_count", len(sources)))
	slog.Debug("Search returned chunks", "count", len(sources), "topK", topK)
	return sources, nil
}

// Ready reports whether the Weaviate instance answers its readiness check.
func (s *WeaviateSearcher) Ready(ctx context.Context) bool {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		slog.Warn("Weaviate readiness check failed", "error", err)
		return false
	}
	return ready
}

// parseSearchHits walks the GraphQL response shape Get -> Document -> [hits].
// Weaviate returns untyped JSON, so each field is type-asserted before use.
func parseSearchHits(data map[string]models.JSONObject) []datatypes.Source {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	hits, ok := get[documentClass].([]interface{})
	if !ok {
		return nil
	}

	sources := make([]datatypes.Source, 0, len(hits))
	for _, h := range hits {
		props, ok := h.(map[string]interface{})
		if !ok {
			continue
		}
		title, _ := props["title"].(string)
		chunk, _ := props["chunk"].(string)
		if title == "" || chunk == "" {
			continue
		}
		culture, _ := props["culture"].(string)
		if culture == "" {
			culture = "unknown"
		}
		url, _ := props["url"].(string)
		size := 0
		if f, ok := props["size"].(float64); ok {
			size = int(f)
		}
		sources = append(sources, datatypes.Source{
			Title:   title,
			Chunk:   chunk,
			Culture: culture,
			URL:     url,
			Size:    size,
		})
	}
	return sources
}

var _ Client = (*WeaviateSearcher)(nil)
