// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gin-gonic/gin"
	"google.golang.org/api/iterator"
)

// DocumentInfo describes one source document in the corpus bucket.
type DocumentInfo struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	Updated     time.Time `json:"updated"`
}

// DocumentLister enumerates the source documents available for retrieval.
type DocumentLister interface {
	List(ctx context.Context) ([]DocumentInfo, error)
}

// GCSDocumentLister lists objects in the corpus GCS bucket.
type GCSDocumentLister struct {
	client *storage.Client
	bucket string
}

// NewGCSDocumentLister connects to GCS. bucket names the corpus bucket;
// credentials come from the environment (ADC).
func NewGCSDocumentLister(ctx context.Context, bucket string) (*GCSDocumentLister, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSDocumentLister{client: client, bucket: bucket}, nil
}

// List walks the bucket and returns one entry per object.
func (l *GCSDocumentLister) List(ctx context.Context) ([]DocumentInfo, error) {
	var docs []DocumentInfo

	it := l.client.Bucket(l.bucket).Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", l.bucket, err)
		}
		docs = append(docs, DocumentInfo{
			Name:        attrs.Name,
			Size:        attrs.Size,
			ContentType: attrs.ContentType,
			Updated:     attrs.Updated,
		})
	}

	return docs, nil
}

// Close releases the underlying client.
func (l *GCSDocumentLister) Close() error {
	return l.client.Close()
}

var _ DocumentLister = (*GCSDocumentLister)(nil)

// HandleListDocuments returns the corpus document listing. A nil lister
// (no bucket configured) yields an empty list rather than an error, so the
// endpoint is safe to call on retrieval-less deployments.
func HandleListDocuments(lister DocumentLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		if lister == nil {
			c.JSON(http.StatusOK, gin.H{"documents": []DocumentInfo{}})
			return
		}

		docs, err := lister.List(c.Request.Context())
		if err != nil {
			slog.Error("Failed to list corpus documents", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents"})
			return
		}
		if docs == nil {
			docs = []DocumentInfo{}
		}

		c.JSON(http.StatusOK, gin.H{"documents": docs})
	}
}
