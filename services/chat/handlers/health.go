// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pcraig3/gc-chat/services/search"
)

// HandleHealth reports service liveness plus the readiness of the search
// backend. A missing or unready search backend does not fail the check: the
// service still answers chat without retrieval.
func HandleHealth(searchClient search.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		searchReady := false
		if searchClient != nil {
			searchReady = searchClient.Ready(c.Request.Context())
		}

		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"search_ready": searchReady,
		})
	}
}
