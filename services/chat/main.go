// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/pcraig3/gc-chat/pkg/logging"
	"github.com/pcraig3/gc-chat/services/chat/config"
	"github.com/pcraig3/gc-chat/services/chat/conversation"
	"github.com/pcraig3/gc-chat/services/chat/handlers"
	"github.com/pcraig3/gc-chat/services/chat/middleware"
	"github.com/pcraig3/gc-chat/services/chat/routes"
	badgerstore "github.com/pcraig3/gc-chat/services/chat/storage/badger"
	"github.com/pcraig3/gc-chat/services/llm"
	"github.com/pcraig3/gc-chat/services/search"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "gcchat-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("chat-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateSearcher connects to the search backend described by
// WEAVIATE_SERVICE_URL. A missing or invalid URL means chat continues
// without retrieval and prompts fall back to their preamble-only form.
func newWeaviateSearcher() *search.WeaviateSearcher {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("WEAVIATE_SERVICE_URL not set or empty. Running without document retrieval.")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid. Running without document retrieval.",
			"url", weaviateURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}
	return search.NewWeaviateSearcher(client)
}

func main() {
	port := os.Getenv("CHAT_PORT")
	if port == "" {
		port = "12310"
	}

	logger := logging.New(logging.Config{
		Level:   os.Getenv("LOG_LEVEL"),
		Service: "chat",
		LogDir:  os.Getenv("LOG_DIR"),
	})
	defer logger.Close()

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	cfg, err := config.Load(os.Getenv("GCCHAT_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Retrieval backend is optional. A nil searcher keeps chat working
	// without document context.
	weaviateSearcher := newWeaviateSearcher()
	var searchClient search.Client
	var searcher conversation.Searcher
	if weaviateSearcher != nil {
		searchClient = weaviateSearcher
		searcher = weaviateSearcher
	}

	// Conversation persistence is optional. With no storage path the
	// session log lives in memory for the process lifetime only.
	var store conversation.Store
	if cfg.StoragePath != "" {
		storeCfg := badgerstore.DefaultConfig()
		storeCfg.Path = cfg.StoragePath
		badgerStore, err := badgerstore.NewStore(storeCfg)
		if err != nil {
			log.Fatalf("failed to open conversation store: %v", err)
		}
		defer badgerStore.Close()
		store = badgerStore
		slog.Info("Conversation persistence enabled", "path", cfg.StoragePath)
	} else {
		slog.Info("No storage path configured. Conversations are not persisted.")
	}

	log.Println("Configuring the LLM Client")
	llmClient, err := llm.NewOpenAIClient()
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	// Corpus listing is optional. Without a bucket the documents
	// endpoint returns an empty list.
	var documents handlers.DocumentLister
	if bucket := os.Getenv("GCCHAT_DOCUMENTS_BUCKET"); bucket != "" {
		lister, err := handlers.NewGCSDocumentLister(context.Background(), bucket)
		if err != nil {
			slog.Error("Failed to connect to documents bucket, listing disabled",
				"bucket", bucket, "error", err)
		} else {
			defer lister.Close()
			documents = lister
		}
	}

	sm := handlers.NewSessionManager(cfg, llmClient, searcher, store)

	router := gin.Default()
	router.Use(otelgin.Middleware("chat-service"))
	routes.SetupRoutes(router, sm, searchClient, documents, middleware.LocalProvider{})

	log.Println("Starting the chat server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
