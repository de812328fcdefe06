// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package middleware provides HTTP middleware for the chat service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization header,
// resolves it to a user identity via the configured IdentityProvider, and
// stores the identity in the Gin context for downstream handlers. Every
// storage key and session is partitioned by that identity, so handlers never
// see another user's conversations regardless of what ids a request names.
//
// # Local Behavior
//
// With LocalProvider (the default), every request resolves to the fixed
// "local-user" identity. This keeps a single-user deployment working with no
// identity infrastructure. Deployments behind an identity-aware proxy plug
// in a provider that validates real tokens.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ErrUnauthorized is returned by providers for tokens that fail validation.
var ErrUnauthorized = errors.New("unauthorized")

// UserInfo is the resolved identity for one request.
type UserInfo struct {
	// UserID is the opaque identity every storage key is partitioned by.
	UserID string

	// DisplayName is informational only and never keys anything.
	DisplayName string
}

// IdentityProvider resolves a bearer token to a user identity.
type IdentityProvider interface {
	// Identify validates the token and returns the identity. An empty token
	// is passed through; providers decide whether that is acceptable.
	Identify(ctx context.Context, token string) (*UserInfo, error)
}

// LocalProvider accepts every request as the fixed local user.
type LocalProvider struct{}

// LocalUserID is the identity assigned by LocalProvider.
const LocalUserID = "local-user"

func (LocalProvider) Identify(ctx context.Context, token string) (*UserInfo, error) {
	return &UserInfo{UserID: LocalUserID, DisplayName: "Local User"}, nil
}

var _ IdentityProvider = LocalProvider{}

// userInfoKey is the context key for the resolved identity. Typed key text
// avoids collisions with other context values.
const userInfoKey = "gcchat_user_info"

// SetUserInfo stores the resolved identity in the Gin context. Called by the
// middleware; exposed for handler tests.
func SetUserInfo(c *gin.Context, info *UserInfo) {
	c.Set(userInfoKey, info)
}

// GetUserInfo returns the request's resolved identity, or nil when the auth
// middleware did not run.
func GetUserInfo(c *gin.Context) *UserInfo {
	if info, exists := c.Get(userInfoKey); exists {
		if userInfo, ok := info.(*UserInfo); ok {
			return userInfo
		}
	}
	return nil
}

// Auth creates the authentication middleware around the given provider.
// Requests failing identification are aborted with 401; provider failures
// are not distinguished for the client.
func Auth(provider IdentityProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		info, err := provider.Identify(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}

		SetUserInfo(c, info)
		c.Next()
	}
}

// extractBearerToken parses "Authorization: Bearer <token>". Returns the
// empty string for a missing or malformed header. The scheme is
// case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
